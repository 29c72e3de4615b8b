// internal/service/command_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cash-device-service/internal/deposit"
	"cash-device-service/internal/engine"
	"cash-device-service/internal/hub"
	"cash-device-service/internal/metrics"
	"cash-device-service/internal/model"
	"cash-device-service/internal/repository"
	"cash-device-service/internal/utils"
	"cash-device-service/pkg/devicetypes"
	"cash-device-service/pkg/driver"
)

// CommandService executes device commands and keeps their trace
type CommandService struct {
	devices     *DeviceService
	commandRepo repository.CommandRepository
	deviceRepo  repository.DeviceRepository
	engine      *engine.Engine
	hub         *hub.Hub
	book        *deposit.Book
	timeout     time.Duration
	logger      *utils.ServiceLogger
}

// NewCommandService creates a new command service
func NewCommandService(
	devices *DeviceService,
	commandRepo repository.CommandRepository,
	deviceRepo repository.DeviceRepository,
	eng *engine.Engine,
	h *hub.Hub,
	book *deposit.Book,
	timeout time.Duration,
	logger *zap.Logger,
) *CommandService {
	if timeout <= 0 {
		timeout = devicetypes.DefaultTimeouts["COMMAND"]
	}
	return &CommandService{
		devices:     devices,
		commandRepo: commandRepo,
		deviceRepo:  deviceRepo,
		engine:      eng,
		hub:         h,
		book:        book,
		timeout:     timeout,
		logger:      utils.NewServiceLogger(logger, "command-service"),
	}
}

// commandContext detaches the command from the caller so a dropped HTTP
// client never cuts an exchange in half
func (cs *CommandService) commandContext(ctx context.Context, cmd model.CommandName) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cs.getCommandTimeout(cmd))
}

func (cs *CommandService) getCommandTimeout(cmd model.CommandName) time.Duration {
	switch cmd {
	case model.CommandConnect:
		return 3 * cs.timeout
	case model.CommandDispenseCard, model.CommandRecycleCard, model.CommandEndProcess:
		return 2 * cs.timeout
	default:
		return cs.timeout
	}
}

// record stores the trace of one command. Storage errors are logged only.
func (cs *CommandService) record(ctx context.Context, deviceID string, cmd model.CommandName, resp driver.CommandResponse, started time.Time) {
	rec := &model.CommandRecord{
		DeviceID:   deviceID,
		Command:    cmd,
		StatusCode: resp.StatusCode,
		Message:    resp.Message,
		Severity:   resp.Severity(),
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
	metrics.RecordCommand(deviceID, cmd, resp.StatusCode)

	if err := cs.commandRepo.Record(ctx, rec); err != nil {
		cs.logger.Warn("Failed to record command", zap.String("device_id", deviceID), zap.Error(err))
	}
	if err := cs.deviceRepo.UpdateLastResult(ctx, deviceID, resp.StatusCode, resp.Message); err != nil {
		cs.logger.Warn("Failed to update last result", zap.String("device_id", deviceID), zap.Error(err))
	}
	if rec.Failed() {
		cs.logger.Warn("Command failed",
			zap.String("device_id", deviceID),
			zap.String("command", string(cmd)),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", resp.Message),
		)
	}
}

// execute runs fn against the driver of deviceID and records the result
func (cs *CommandService) execute(ctx context.Context, deviceID string, cmd model.CommandName, fn func(context.Context, driver.CashDriver) (driver.CommandResponse, error)) (driver.CommandResponse, error) {
	drv, err := cs.devices.Driver(deviceID)
	if err != nil {
		return driver.CommandResponse{}, err
	}

	cctx, cancel := cs.commandContext(ctx, cmd)
	defer cancel()

	started := time.Now()
	resp, err := fn(cctx, drv)
	if err != nil {
		return driver.CommandResponse{}, err
	}
	cs.record(ctx, deviceID, cmd, resp, started)
	return resp, nil
}

func coinValidator(drv driver.CashDriver) (driver.CoinValidator, error) {
	cv, ok := drv.(driver.CoinValidator)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a coin validator", driver.ErrValidation, drv.ID())
	}
	return cv, nil
}

func cardDispenser(drv driver.CashDriver) (driver.CardDispenser, error) {
	cd, ok := drv.(driver.CardDispenser)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a card dispenser", driver.ErrValidation, drv.ID())
	}
	return cd, nil
}

// Connect scans the candidate ports and handshakes with the device
func (cs *CommandService) Connect(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, model.CommandConnect, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		return drv.Connect(ctx), nil
	})
}

// CheckDevice verifies the link of a connected device
func (cs *CommandService) CheckDevice(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, model.CommandCheckDevice, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		return drv.CheckDevice(ctx), nil
	})
}

// StartReader enables acceptance and starts the poll loop when the device
// has one
func (cs *CommandService) StartReader(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, model.CommandStartReader, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		resp := drv.StartReader(ctx)
		if engine.Pollable(drv) && drv.Lifecycle() == model.LifecycleReading {
			if err := cs.engine.Start(drv); err != nil {
				cs.logger.Error("Failed to start poll loop", zap.String("device_id", drv.ID()), zap.Error(err))
			}
		}
		return resp, nil
	})
}

// StopReader stops the poll loop before disabling acceptance
func (cs *CommandService) StopReader(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, model.CommandStopReader, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		cs.engine.Stop(drv.ID())
		return drv.StopReader(ctx), nil
	})
}

// GetCoin runs one coin poll through the same path as the poll loop
func (cs *CommandService) GetCoin(ctx context.Context, deviceID string) (driver.CoinResult, error) {
	var res driver.CoinResult
	_, err := cs.execute(ctx, deviceID, model.CommandGetCoin, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		r, out, err := cs.engine.Poller(drv).Coin(ctx)
		if err != nil {
			return driver.CommandResponse{}, err
		}
		cs.settle(drv, out)
		res = r
		return r.CommandResponse, nil
	})
	return res, err
}

// GetBill runs one bill poll through the same path as the poll loop
func (cs *CommandService) GetBill(ctx context.Context, deviceID string) (driver.Bill, error) {
	var res driver.Bill
	_, err := cs.execute(ctx, deviceID, model.CommandGetBill, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		r, out, err := cs.engine.Poller(drv).Bill(ctx)
		if err != nil {
			return driver.CommandResponse{}, err
		}
		cs.settle(drv, out)
		res = r
		return r.CommandResponse, nil
	})
	return res, err
}

func (cs *CommandService) settle(drv driver.CashDriver, out engine.Outcome) {
	if out.TearsDown() {
		drv.Fault(fmt.Sprintf("poll torn down on status %d", out.Code))
	}
}

// LostCoinsView is the lost-coin ledger of a coin validator
type LostCoinsView struct {
	Delta       driver.LostCoins `json:"delta"`
	DeltaTotal  decimal.Decimal  `json:"delta_total"`
	Totals      driver.LostCoins `json:"totals"`
	GrandTotal  decimal.Decimal  `json:"grand_total"`
	TotalsCount int              `json:"totals_count"`
}

// GetLostCoins returns the coins lost since the last call and since the
// session began
func (cs *CommandService) GetLostCoins(deviceID string) (*LostCoinsView, error) {
	drv, err := cs.devices.Driver(deviceID)
	if err != nil {
		return nil, err
	}
	cv, err := coinValidator(drv)
	if err != nil {
		return nil, err
	}
	delta, totals := cv.GetLostCoins(), cv.LostCoinTotals()
	return &LostCoinsView{
		Delta:       delta,
		DeltaTotal:  delta.Total(),
		Totals:      totals,
		GrandTotal:  totals.Total(),
		TotalsCount: totals.Count(),
	}, nil
}

// ModifyChannels applies the inhibit masks of a validator. Coin validators
// take two masks, bill validators one.
func (cs *CommandService) ModifyChannels(ctx context.Context, deviceID string, masks ...int) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, model.CommandModifyChannels, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		switch d := drv.(type) {
		case driver.CoinValidator:
			if len(masks) != 2 {
				return driver.CommandResponse{}, fmt.Errorf("%w: coin validators take mask1 and mask2", driver.ErrValidation)
			}
			return d.ModifyChannels(ctx, masks[0], masks[1])
		case driver.BillValidator:
			if len(masks) != 1 {
				return driver.CommandResponse{}, fmt.Errorf("%w: bill validators take a single mask", driver.ErrValidation)
			}
			return d.ModifyChannels(ctx, masks[0])
		}
		return driver.CommandResponse{}, fmt.Errorf("%w: %s has no channels", driver.ErrValidation, drv.ID())
	})
}

// ResetDevice soft-resets a coin validator
func (cs *CommandService) ResetDevice(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, model.CommandResetDevice, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		cv, err := coinValidator(drv)
		if err != nil {
			return driver.CommandResponse{}, err
		}
		return cv.ResetDevice(ctx), nil
	})
}

// CleanDevice clears the coin path of a coin validator
func (cs *CommandService) CleanDevice(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, model.CommandCleanDevice, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		cv, err := coinValidator(drv)
		if err != nil {
			return driver.CommandResponse{}, err
		}
		return cv.CleanDevice(ctx), nil
	})
}

// Reject returns the escrowed note of a bill validator
func (cs *CommandService) Reject(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, model.CommandReject, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		resp, out, err := cs.engine.Poller(drv).Reject(ctx)
		if err != nil {
			return resp, err
		}
		cs.settle(drv, out)
		return resp, nil
	})
}

// DispensePayload is published with every dispenser command
type DispensePayload struct {
	Command model.CommandName     `json:"command"`
	Flags   driver.DispenserFlags `json:"flags"`
}

func (cs *CommandService) dispenser(ctx context.Context, deviceID string, cmd model.CommandName, fn func(context.Context, driver.CardDispenser) driver.CommandResponse) (driver.CommandResponse, error) {
	return cs.execute(ctx, deviceID, cmd, func(ctx context.Context, drv driver.CashDriver) (driver.CommandResponse, error) {
		cd, err := cardDispenser(drv)
		if err != nil {
			return driver.CommandResponse{}, err
		}
		resp := fn(ctx, cd)
		cs.hub.Publish(model.NewDeviceEvent(deviceID, drv.Family(), model.EventDispense, resp.StatusCode, resp.Message,
			DispensePayload{Command: cmd, Flags: cd.GetDispenserFlags()}))
		return resp, nil
	})
}

// DispenseCard moves a card to the gate
func (cs *CommandService) DispenseCard(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.dispenser(ctx, deviceID, model.CommandDispenseCard, func(ctx context.Context, cd driver.CardDispenser) driver.CommandResponse {
		return cd.DispenseCard(ctx)
	})
}

// RecycleCard moves the card in the gate to the recycling box
func (cs *CommandService) RecycleCard(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.dispenser(ctx, deviceID, model.CommandRecycleCard, func(ctx context.Context, cd driver.CardDispenser) driver.CommandResponse {
		return cd.RecycleCard(ctx)
	})
}

// EndProcess waits for the card to leave the gate
func (cs *CommandService) EndProcess(ctx context.Context, deviceID string) (driver.CommandResponse, error) {
	return cs.dispenser(ctx, deviceID, model.CommandEndProcess, func(ctx context.Context, cd driver.CardDispenser) driver.CommandResponse {
		return cd.EndProcess(ctx)
	})
}

// DispenserFlags returns the last known dispenser mechanics
func (cs *CommandService) DispenserFlags(deviceID string) (driver.DispenserFlags, error) {
	drv, err := cs.devices.Driver(deviceID)
	if err != nil {
		return driver.DispenserFlags{}, err
	}
	cd, err := cardDispenser(drv)
	if err != nil {
		return driver.DispenserFlags{}, err
	}
	return cd.GetDispenserFlags(), nil
}

// TestStatus returns the diagnostic snapshot of a device
func (cs *CommandService) TestStatus(ctx context.Context, deviceID string) (driver.DeviceStatus, error) {
	drv, err := cs.devices.Driver(deviceID)
	if err != nil {
		return driver.DeviceStatus{}, err
	}
	cctx, cancel := cs.commandContext(ctx, model.CommandTestStatus)
	defer cancel()
	return drv.TestStatus(cctx), nil
}

// Deposit returns the running deposit of a validator
func (cs *CommandService) Deposit(deviceID string) (deposit.Summary, error) {
	if _, err := cs.devices.Driver(deviceID); err != nil {
		return deposit.Summary{}, err
	}
	return cs.book.Summary(deviceID), nil
}

// CloseDeposit returns the running deposit and starts a new one
func (cs *CommandService) CloseDeposit(deviceID string) (deposit.Summary, error) {
	if _, err := cs.devices.Driver(deviceID); err != nil {
		return deposit.Summary{}, err
	}
	s := cs.book.Reset(deviceID)
	cs.logger.Info("Deposit closed",
		zap.String("device_id", deviceID),
		zap.String("total", s.Total.String()),
		zap.Bool("halted", s.Halted),
	)
	return s, nil
}

// History returns the most recent commands of a device
func (cs *CommandService) History(ctx context.Context, deviceID string, limit int) ([]*model.CommandRecord, error) {
	if _, err := cs.devices.Driver(deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	return cs.commandRepo.ListByDevice(ctx, deviceID, limit)
}

// Stats returns command statistics of a device
func (cs *CommandService) Stats(ctx context.Context, deviceID string) (*repository.CommandStats, error) {
	if _, err := cs.devices.Driver(deviceID); err != nil {
		return nil, err
	}
	return cs.commandRepo.GetCommandStats(ctx, deviceID)
}

// MonitorHealth checks every ready device once per interval and prunes
// command history older than retention. It returns when ctx is done.
func (cs *CommandService) MonitorHealth(ctx context.Context, interval, retention time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cs.checkDevices(ctx)
			if retention > 0 {
				cs.pruneHistory(ctx, retention)
			}
		}
	}
}

func (cs *CommandService) checkDevices(ctx context.Context) {
	for _, id := range cs.devices.IDs() {
		drv, err := cs.devices.Driver(id)
		if err != nil || drv.Lifecycle() != model.LifecycleReady {
			continue
		}
		started := time.Now()
		resp, err := cs.CheckDevice(ctx, id)
		if err != nil {
			continue
		}
		h := drv.HealthMetrics()
		cs.logger.Debug("Health check",
			zap.String("device_id", id),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("response_time", time.Since(started)),
			zap.Float64("error_rate", 1-h.SuccessRate()),
		)
	}
}

func (cs *CommandService) pruneHistory(ctx context.Context, retention time.Duration) {
	n, err := cs.commandRepo.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		cs.logger.Warn("Failed to prune command history", zap.Error(err))
		return
	}
	if n > 0 {
		cs.logger.Debug("Command history pruned", zap.Int64("deleted", n))
	}
}
