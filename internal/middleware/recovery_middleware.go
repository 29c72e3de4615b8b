// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cash-device-service/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Handler panic",
			zap.Any("panic", recovered),
			zap.String("request_id", c.GetString(utils.RequestIDKey)),
			zap.String("route", c.FullPath()),
			zap.String("device_id", c.Param("id")),
			zap.Stack("stacktrace"),
		)

		utils.ErrorResponse(c, http.StatusInternalServerError, "Internal server error", nil)
		c.Abort()
	})
}
