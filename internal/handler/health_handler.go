// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cash-device-service/internal/config"
	"cash-device-service/internal/model"
	"cash-device-service/internal/service"
	"cash-device-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	deviceService *service.DeviceService
	config        *config.Config
	started       time.Time
	logger        *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(deviceService *service.DeviceService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		deviceService: deviceService,
		config:        config,
		started:       time.Now(),
		logger:        utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports the session of every configured device
// @Summary Health check
// @Description Overall service health with one entry per device
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	for _, id := range h.deviceService.IDs() {
		dh, err := h.deviceService.GetDeviceHealth(c.Request.Context(), id)
		if err != nil {
			continue
		}
		status := "healthy"
		if dh.Lifecycle == model.LifecycleFaulted {
			status = "unhealthy"
			health.Status = "degraded"
		}
		health.Checks[id] = CheckResult{
			Status:  status,
			Message: dh.State,
			Data: map[string]interface{}{
				"lifecycle":    dh.Lifecycle,
				"port":         dh.Port,
				"polling":      dh.Polling,
				"success_rate": dh.SuccessRate,
			},
		}
	}

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck reports whether every device has been built
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	configured := len(h.config.EnabledDevices())
	loaded := len(h.deviceService.IDs())
	if loaded < configured {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "devices not loaded",
			"loaded": loaded,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"devices":   loaded,
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
