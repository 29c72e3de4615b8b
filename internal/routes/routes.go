// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cash-device-service/internal/config"
	"cash-device-service/internal/handler"
	"cash-device-service/internal/hub"
	"cash-device-service/internal/middleware"
	"cash-device-service/internal/service"
	"cash-device-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	hub              *hub.Hub
	deviceService    *service.DeviceService
	commandService   *service.CommandService
	discoveryService *service.DiscoveryService

	wsHandler *handler.WebSocketHandler
	bridge    *handler.EventBridge
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	h *hub.Hub,
	deviceService *service.DeviceService,
	commandService *service.CommandService,
	discoveryService *service.DiscoveryService,
) *Router {
	return &Router{
		config:           config,
		logger:           logger,
		hub:              h,
		deviceService:    deviceService,
		commandService:   commandService,
		discoveryService: discoveryService,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)
	return router
}

// Close disconnects WebSocket clients and stops event forwarding
func (r *Router) Close() {
	if r.bridge != nil {
		r.bridge.Detach()
	}
	if r.wsHandler != nil {
		r.wsHandler.CloseAll()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	quiet := []string{"/health", "/ready", "/live"}
	if r.config.Metrics.Path != "" {
		quiet = append(quiet, r.config.Metrics.Path)
	}
	router.Use(middleware.LoggingMiddleware(serviceLogger, quiet...))

	router.Use(middleware.CORSMiddleware(&r.config.Server.CORS))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.deviceService, r.config, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.deviceService, r.commandService, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.discoveryService, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.deviceService, r.commandService, r.config.Server.CORS.AllowedOrigins, r.logger)

	r.bridge = handler.NewEventBridge(r.wsHandler, r.logger)
	r.bridge.Attach(r.hub)

	healthHandler.RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	deviceHandler.RegisterRoutes(apiV1)
	if r.config.Discovery.Enabled {
		discoveryHandler.RegisterRoutes(apiV1)
	}
	apiV1.GET("/ws/stats", func(c *gin.Context) {
		utils.SuccessResponse(c, http.StatusOK, "WebSocket stats", r.wsHandler.GetConnectionStats())
	})

	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	if r.config.Metrics.Enabled {
		router.GET(r.config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	r.logger.Info("All routes configured successfully")
}
