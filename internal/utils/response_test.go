// internal/utils/response_test.go
package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/devices/coin-1/connect", nil)
	c.Set(RequestIDKey, "req-7")
	return c, w
}

func TestCommandResponseAlwaysOK(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		success  bool
		severity model.Severity
	}{
		{"accepted", 200, true, model.SeverityInfo},
		{"warning", 410, true, model.SeverityWarning},
		{"critical", 503, false, model.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext()
			CommandResponse(c, "coin-1", "CONNECT", driver.Response(tt.code, "msg"), nil)

			require.Equal(t, http.StatusOK, w.Code)
			var body struct {
				Success   bool         `json:"success"`
				RequestID string       `json:"request_id"`
				Data      DeviceResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.success, body.Success)
			assert.Equal(t, "req-7", body.RequestID)
			assert.Equal(t, tt.code, body.Data.StatusCode)
			assert.Equal(t, tt.severity, body.Data.Severity)
			assert.Equal(t, "coin-1", body.Data.DeviceID)
		})
	}
}

func TestErrorResponseCodes(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, "BAD_REQUEST"},
		{http.StatusNotFound, "NOT_FOUND"},
		{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{http.StatusBadGateway, "INTERNAL_ERROR"},
		{http.StatusConflict, "UNKNOWN_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c, w := newContext()
			ErrorResponse(c, tt.status, "failed", errors.New("boom"))

			assert.Equal(t, tt.status, w.Code)
			var body APIResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, "boom", body.Error.Details)
		})
	}
}
