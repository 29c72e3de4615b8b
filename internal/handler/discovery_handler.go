// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cash-device-service/internal/service"
	"cash-device-service/internal/utils"
)

// DiscoveryHandler handles port discovery requests
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	discovery := router.Group("/discovery")
	{
		discovery.GET("/ports", h.ScanPorts)
		discovery.GET("/ports/last", h.LastScan)
		discovery.GET("/supported", h.GetSupportedFamilies)
		discovery.GET("/capabilities/:family", h.GetCapabilities)
	}
}

// ScanPorts scans for ports that may host a peripheral
// @Summary Scan ports
// @Description Lists serial ports, USB bridges and ser2net endpoints
// @Tags Discovery
// @Produce json
// @Param type query string false "Scan type" Enums(all, serial, usb, tcp) default(all)
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]discovery.DiscoveredPort}}
// @Failure 400 {object} utils.APIResponse "Unsupported scan type"
// @Router /discovery/ports [get]
func (h *DiscoveryHandler) ScanPorts(c *gin.Context) {
	scanType := c.DefaultQuery("type", "all")
	switch scanType {
	case "all", "serial", "usb", "tcp":
	default:
		utils.ValidationErrorResponse(c, map[string]string{"type": "must be all, serial, usb or tcp"})
		return
	}

	ports, err := h.discoveryService.ScanPorts(c.Request.Context(), scanType)
	if err != nil {
		h.logger.Error("Failed to scan ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}

// LastScan returns the result of the last periodic scan
func (h *DiscoveryHandler) LastScan(c *gin.Context) {
	ports, at := h.discoveryService.LastScan()
	utils.SuccessResponse(c, http.StatusOK, "Last port scan", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
		"scanned_at":  at,
	})
}

// GetSupportedFamilies returns the families with a driver
// @Summary Get supported families
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.SupportedFamiliesResponse}
// @Router /discovery/supported [get]
func (h *DiscoveryHandler) GetSupportedFamilies(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Supported families retrieved", h.discoveryService.GetSupportedFamilies())
}

// GetCapabilities returns capabilities for a family
func (h *DiscoveryHandler) GetCapabilities(c *gin.Context) {
	family := c.Param("family")
	caps, err := h.discoveryService.GetFamilyCapabilities(family)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Device family not supported", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Capabilities retrieved", gin.H{
		"family":       family,
		"capabilities": caps,
	})
}
