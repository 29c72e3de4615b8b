// internal/handler/device_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
	"cash-device-service/internal/service"
	"cash-device-service/internal/utils"
	"cash-device-service/pkg/driver"
)

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	deviceService  *service.DeviceService
	commandService *service.CommandService
	logger         *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *service.DeviceService, commandService *service.CommandService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService:  deviceService,
		commandService: commandService,
		logger:         utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)
		devices.GET("/stats", h.GetStats)

		device := devices.Group("/:id")
		{
			device.GET("", h.GetDevice)
			device.GET("/health", h.GetDeviceHealth)
			device.GET("/history", h.GetHistory)
			device.GET("/history/stats", h.GetCommandStats)

			// Session
			device.POST("/connect", h.command(model.CommandConnect, h.commandService.Connect))
			device.POST("/check", h.command(model.CommandCheckDevice, h.commandService.CheckDevice))
			device.POST("/start", h.command(model.CommandStartReader, h.commandService.StartReader))
			device.POST("/stop", h.command(model.CommandStopReader, h.commandService.StopReader))
			device.GET("/status", h.TestStatus)

			// Validators
			device.GET("/coin", h.GetCoin)
			device.GET("/bill", h.GetBill)
			device.GET("/lost-coins", h.GetLostCoins)
			device.PUT("/channels", h.ModifyChannels)
			device.POST("/reset", h.command(model.CommandResetDevice, h.commandService.ResetDevice))
			device.POST("/clean", h.command(model.CommandCleanDevice, h.commandService.CleanDevice))
			device.POST("/reject", h.command(model.CommandReject, h.commandService.Reject))
			device.GET("/deposit", h.GetDeposit)
			device.POST("/deposit/close", h.CloseDeposit)

			// Dispenser
			device.POST("/dispense", h.command(model.CommandDispenseCard, h.commandService.DispenseCard))
			device.POST("/recycle", h.command(model.CommandRecycleCard, h.commandService.RecycleCard))
			device.POST("/end", h.command(model.CommandEndProcess, h.commandService.EndProcess))
			device.GET("/flags", h.GetDispenserFlags)
		}
	}
}

// respondError maps service errors to HTTP statuses. Device outcomes never
// come through here.
func (h *DeviceHandler) respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownDevice):
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", err)
	case errors.Is(err, driver.ErrValidation):
		utils.ErrorResponse(c, http.StatusBadRequest, message, err)
	default:
		h.logger.Error(message, zap.String("device_id", c.Param("id")), zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, message, err)
	}
}

type commandFunc func(ctx context.Context, deviceID string) (driver.CommandResponse, error)

// command adapts a parameterless device command to a handler
// @Summary Run a device command
// @Description connect, check, start, stop, reset, clean, reject, dispense, recycle and end
// @Tags Commands
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=utils.DeviceResult} "Device outcome"
// @Failure 400 {object} utils.APIResponse "Command not valid for this device"
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Router /devices/{id}/{command} [post]
func (h *DeviceHandler) command(name model.CommandName, fn commandFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("id")
		resp, err := fn(c.Request.Context(), deviceID)
		if err != nil {
			h.respondError(c, "Command rejected", err)
			return
		}
		utils.CommandResponse(c, deviceID, string(name), resp, nil)
	}
}

// ListDevices lists devices with filtering and pagination
// @Summary List devices
// @Tags Devices
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param family query string false "Filter by family" Enums(AZKOYEN, NV10, DISPENSER)
// @Param lifecycle query string false "Filter by lifecycle" Enums(DISCONNECTED, CONNECTING, READY, READING, FAULTED)
// @Success 200 {object} utils.APIResponse{data=object{devices=[]model.Device,pagination=service.PaginationResult}}
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	filter := &service.DeviceFilter{Page: 1, PerPage: 20}

	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil && pp > 0 && pp <= 100 {
			filter.PerPage = pp
		}
	}
	if family := c.Query("family"); family != "" {
		f, ok := model.ParseFamily(family)
		if !ok {
			utils.ValidationErrorResponse(c, map[string]string{"family": "unknown device family"})
			return
		}
		filter.Family = &f
	}
	if lifecycle := c.Query("lifecycle"); lifecycle != "" {
		lc := model.Lifecycle(lifecycle)
		filter.Lifecycle = &lc
	}

	devices, pagination, err := h.deviceService.ListDevices(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "Failed to list devices", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", gin.H{
		"devices":    devices,
		"pagination": pagination,
	})
}

// GetStats returns fleet statistics
func (h *DeviceHandler) GetStats(c *gin.Context) {
	stats, err := h.deviceService.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to get device stats", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device stats retrieved successfully", stats)
}

// GetDevice gets a device by ID
// @Summary Get device details
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=model.Device}
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Router /devices/{id} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	device, err := h.deviceService.GetDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", device)
}

// GetDeviceHealth returns link counters of a device
// @Summary Get device health
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=service.DeviceHealth}
// @Router /devices/{id}/health [get]
func (h *DeviceHandler) GetDeviceHealth(c *gin.Context) {
	health, err := h.deviceService.GetDeviceHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get device health", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device health retrieved successfully", health)
}

// GetHistory returns the recent commands of a device
func (h *DeviceHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.commandService.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.respondError(c, "Failed to get command history", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Command history retrieved successfully", gin.H{
		"commands": records,
		"count":    len(records),
	})
}

// GetCommandStats returns command statistics of a device
func (h *DeviceHandler) GetCommandStats(c *gin.Context) {
	stats, err := h.commandService.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get command stats", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Command stats retrieved successfully", stats)
}

// TestStatus returns the diagnostic snapshot of a device
// @Summary Device diagnostic status
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=driver.DeviceStatus}
// @Router /devices/{id}/status [get]
func (h *DeviceHandler) TestStatus(c *gin.Context) {
	status, err := h.commandService.TestStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get device status", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device status retrieved successfully", status)
}

// GetCoin polls the coin validator once
// @Summary Poll one coin
// @Tags Validators
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=utils.DeviceResult}
// @Router /devices/{id}/coin [get]
func (h *DeviceHandler) GetCoin(c *gin.Context) {
	deviceID := c.Param("id")
	res, err := h.commandService.GetCoin(c.Request.Context(), deviceID)
	if err != nil {
		h.respondError(c, "Failed to poll coin", err)
		return
	}
	utils.CommandResponse(c, deviceID, string(model.CommandGetCoin), res.CommandResponse, gin.H{
		"event":     res.Event,
		"coin":      res.Coin,
		"remaining": res.Remaining,
	})
}

// GetBill polls the bill validator once
// @Summary Poll one bill
// @Tags Validators
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=utils.DeviceResult}
// @Router /devices/{id}/bill [get]
func (h *DeviceHandler) GetBill(c *gin.Context) {
	deviceID := c.Param("id")
	res, err := h.commandService.GetBill(c.Request.Context(), deviceID)
	if err != nil {
		h.respondError(c, "Failed to poll bill", err)
		return
	}
	utils.CommandResponse(c, deviceID, string(model.CommandGetBill), res.CommandResponse, gin.H{"bill": res.Bill})
}

// GetLostCoins returns the lost-coin ledger
func (h *DeviceHandler) GetLostCoins(c *gin.Context) {
	view, err := h.commandService.GetLostCoins(c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get lost coins", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Lost coins retrieved successfully", view)
}

// ChannelsRequest carries inhibit masks. Coin validators use mask1 and
// mask2, bill validators use mask.
type ChannelsRequest struct {
	Mask  *int `json:"mask"`
	Mask1 *int `json:"mask1"`
	Mask2 *int `json:"mask2"`
}

func (r ChannelsRequest) masks() ([]int, map[string]string) {
	invalid := map[string]string{}
	var masks []int
	for name, m := range map[string]*int{"mask": r.Mask, "mask1": r.Mask1, "mask2": r.Mask2} {
		if m != nil && (*m < 0 || *m > 0xFF) {
			invalid[name] = "must be between 0 and 255"
		}
	}
	switch {
	case r.Mask1 != nil && r.Mask2 != nil:
		masks = []int{*r.Mask1, *r.Mask2}
	case r.Mask != nil:
		masks = []int{*r.Mask}
	default:
		invalid["mask"] = "mask or mask1 and mask2 are required"
	}
	return masks, invalid
}

// ModifyChannels sets the inhibit masks of a validator
// @Summary Modify accepted channels
// @Tags Validators
// @Accept json
// @Produce json
// @Param id path string true "Device ID"
// @Param request body ChannelsRequest true "Inhibit masks"
// @Success 200 {object} utils.APIResponse{data=utils.DeviceResult}
// @Failure 400 {object} utils.APIResponse "Invalid masks"
// @Router /devices/{id}/channels [put]
func (h *DeviceHandler) ModifyChannels(c *gin.Context) {
	var req ChannelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	masks, invalid := req.masks()
	if len(invalid) > 0 {
		utils.ValidationErrorResponse(c, invalid)
		return
	}

	deviceID := c.Param("id")
	resp, err := h.commandService.ModifyChannels(c.Request.Context(), deviceID, masks...)
	if err != nil {
		h.respondError(c, "Command rejected", err)
		return
	}
	utils.CommandResponse(c, deviceID, string(model.CommandModifyChannels), resp, gin.H{"masks": masks})
}

// GetDeposit returns the running deposit of a validator
func (h *DeviceHandler) GetDeposit(c *gin.Context) {
	summary, err := h.commandService.Deposit(c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get deposit", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Deposit retrieved successfully", summary)
}

// CloseDeposit returns the final deposit and opens a new one
func (h *DeviceHandler) CloseDeposit(c *gin.Context) {
	summary, err := h.commandService.CloseDeposit(c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to close deposit", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Deposit closed", summary)
}

// GetDispenserFlags returns the dispenser mechanics
func (h *DeviceHandler) GetDispenserFlags(c *gin.Context) {
	flags, err := h.commandService.DispenserFlags(c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get dispenser flags", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Dispenser flags retrieved successfully", flags)
}
