// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"cash-device-service/internal/config"
	"cash-device-service/internal/driver/azkoyen"
	"cash-device-service/internal/driver/dispenser"
	"cash-device-service/internal/driver/nv10"
	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/pkg/driver"
)

// RegisterDefaultDrivers registers the coin, bill and card drivers
func RegisterDefaultDrivers(registry *Registry, logger *zap.Logger) {
	registry.Register(model.FamilyAzkoyen, newCoinValidator)
	registry.Register(model.FamilyNV10, newBillValidator)
	registry.Register(model.FamilyDispenser, newCardDispenser)

	logger.Info("Cash drivers registered", zap.Int("families", 3))
}

func newCoinValidator(cfg config.DeviceConfig, open protocol.Opener, logger *zap.Logger) (driver.CashDriver, error) {
	return azkoyen.New(azkoyen.Config{
		ID:             cfg.ID,
		Opener:         open,
		Candidates:     protocol.CandidatePorts(cfg.ProtocolConfig()),
		Settle:         cfg.SettleDelay,
		WarnToCritical: cfg.Coin.WarnToCritical,
		MaxCritical:    cfg.Coin.MaxCritical,
	}, logger)
}

func newBillValidator(cfg config.DeviceConfig, open protocol.Opener, logger *zap.Logger) (driver.CashDriver, error) {
	return nv10.New(nv10.Config{
		ID:            cfg.ID,
		Opener:        open,
		Candidates:    protocol.CandidatePorts(cfg.ProtocolConfig()),
		Settle:        cfg.SettleDelay,
		EscrowTimeout: cfg.Bill.EscrowTimeout,
		InhibitMask:   cfg.Bill.InhibitMask,
	}, logger)
}

func newCardDispenser(cfg config.DeviceConfig, open protocol.Opener, logger *zap.Logger) (driver.CashDriver, error) {
	return dispenser.New(dispenser.Config{
		ID:              cfg.ID,
		Opener:          open,
		Candidates:      protocol.CandidatePorts(cfg.ProtocolConfig()),
		Settle:          cfg.SettleDelay,
		MaxInitAttempts: cfg.Dispenser.MaxInitAttempts,
		ShortTime:       cfg.Dispenser.ShortTime,
		LongTime:        cfg.Dispenser.LongTime,
	}, logger)
}
