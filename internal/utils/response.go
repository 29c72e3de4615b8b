// internal/utils/response.go
package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

// APIResponse represents standard API response structure
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError represents error information
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	response := APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{
		Code:    getErrorCode(statusCode),
		Message: message,
	}

	if err != nil {
		apiError.Details = err.Error()
	}

	response := APIResponse{
		Success:   false,
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// DeviceResult is the body of a device command. The status code is the
// device outcome, not the HTTP status.
type DeviceResult struct {
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	StatusCode int            `json:"status_code"`
	Message    string         `json:"message"`
	Severity   model.Severity `json:"severity"`
	Data       interface{}    `json:"data,omitempty"`
}

// CommandResponse sends a device outcome. Device failures are data and
// always travel with HTTP 200.
func CommandResponse(c *gin.Context, deviceID, command string, resp driver.CommandResponse, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: resp.Severity() != model.SeverityCritical,
		Message: resp.Message,
		Data: DeviceResult{
			DeviceID:   deviceID,
			Command:    command,
			StatusCode: resp.StatusCode,
			Message:    resp.Message,
			Severity:   resp.Severity(),
			Data:       data,
		},
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// ValidationErrorResponse sends validation error response
func ValidationErrorResponse(c *gin.Context, errors map[string]string) {
	apiError := &APIError{
		Code:    "VALIDATION_ERROR",
		Message: "Request validation failed",
	}

	response := APIResponse{
		Success:   false,
		Message:   "Validation failed",
		Error:     apiError,
		Data:      gin.H{"validation_errors": errors},
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(http.StatusBadRequest, response)
}

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// getErrorCode maps the statuses the API emits onto stable codes
func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	}
	if statusCode >= 500 {
		return "INTERNAL_ERROR"
	}
	return "UNKNOWN_ERROR"
}
