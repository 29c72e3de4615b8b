// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"cash-device-service/internal/model"
	"cash-device-service/internal/protocol"
	"cash-device-service/pkg/devicetypes"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Devices   []DeviceConfig  `mapstructure:"devices"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Health    HealthConfig    `mapstructure:"health"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	App       AppConfig       `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

// CORSConfig lists the origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DeviceConfig describes one configured peripheral
type DeviceConfig struct {
	ID           string          `mapstructure:"id"`
	Family       string          `mapstructure:"family"`
	Enabled      bool            `mapstructure:"enabled"`
	Transport    string          `mapstructure:"transport"`
	Address      string          `mapstructure:"address"`
	PortPattern  string          `mapstructure:"port_pattern"`
	MaximumPorts int             `mapstructure:"maximum_ports"`
	BaudRate     int             `mapstructure:"baud_rate"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	SettleDelay  time.Duration   `mapstructure:"settle_delay"`
	Coin         CoinTuning      `mapstructure:"coin"`
	Bill         BillTuning      `mapstructure:"bill"`
	Dispenser    DispenserTuning `mapstructure:"dispenser"`
}

// CoinTuning holds the coin-loss thresholds
type CoinTuning struct {
	WarnToCritical int `mapstructure:"warn_to_critical"`
	MaxCritical    int `mapstructure:"max_critical"`
}

// BillTuning holds the escrow settings
type BillTuning struct {
	EscrowTimeout time.Duration `mapstructure:"escrow_timeout"`
	InhibitMask   int           `mapstructure:"inhibit_mask"`
}

// DispenserTuning holds the dispenser read policy
type DispenserTuning struct {
	MaxInitAttempts int           `mapstructure:"max_init_attempts"`
	ShortTime       time.Duration `mapstructure:"short_time"`
	LongTime        time.Duration `mapstructure:"long_time"`
}

// EngineConfig represents polling engine configuration
type EngineConfig struct {
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	ListenerBuffer         int           `mapstructure:"listener_buffer"`
	CommandTimeout         time.Duration `mapstructure:"command_timeout"`
}

// DiscoveryConfig represents port discovery configuration
type DiscoveryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	USBScan      bool          `mapstructure:"usb_scan"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

// HealthConfig represents the session health monitor
type HealthConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// MetricsConfig represents the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

var (
	mu  sync.RWMutex
	v   *viper.Viper
	cfg *Config
)

// Load loads configuration from file and environment variables.
// An empty path searches the working directory, ./config and
// /etc/cash-device-service for config.yaml.
func Load(path string) (*Config, error) {
	nv := viper.New()
	if path != "" {
		nv.SetConfigFile(path)
	} else {
		nv.SetConfigName("config")
		nv.SetConfigType("yaml")
		nv.AddConfigPath(".")
		nv.AddConfigPath("./config")
		nv.AddConfigPath("/etc/cash-device-service")
	}

	nv.SetEnvPrefix("CASHDEV")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	setDefaults(nv)

	if err := nv.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config, err := decode(nv)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	v = nv
	cfg = config
	mu.Unlock()

	return config, nil
}

func decode(nv *viper.Viper) (*Config, error) {
	var config Config
	if err := nv.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	for i := range config.Devices {
		config.Devices[i].applyDefaults()
	}
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Get returns the last loaded configuration
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch reloads the file on change and hands the new configuration to
// callback. Invalid edits are reported through onError and ignored.
func Watch(callback func(*Config), onError func(error)) {
	mu.RLock()
	nv := v
	mu.RUnlock()
	if nv == nil || nv.ConfigFileUsed() == "" {
		return
	}

	nv.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		newCfg, err := decode(nv)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
	nv.WatchConfig()
}

// setDefaults sets default configuration values
func setDefaults(nv *viper.Viper) {
	// Server defaults
	nv.SetDefault("server.host", "0.0.0.0")
	nv.SetDefault("server.port", "8084")
	nv.SetDefault("server.read_timeout", "30s")
	nv.SetDefault("server.write_timeout", "30s")
	nv.SetDefault("server.idle_timeout", "120s")
	nv.SetDefault("server.cors.allowed_origins", []string{"*"})

	// Logging defaults
	nv.SetDefault("logging.level", "info")
	nv.SetDefault("logging.format", "json")
	nv.SetDefault("logging.output", "stdout")
	nv.SetDefault("logging.file_path", "./logs/cash-device-service.log")
	nv.SetDefault("logging.max_size", 100)
	nv.SetDefault("logging.max_backups", 3)
	nv.SetDefault("logging.max_age", 28)
	nv.SetDefault("logging.compress", true)

	// Engine defaults
	nv.SetDefault("engine.poll_interval", "100ms")
	nv.SetDefault("engine.max_consecutive_failures", 3)
	nv.SetDefault("engine.listener_buffer", 64)
	nv.SetDefault("engine.command_timeout", "30s")

	// Discovery defaults
	nv.SetDefault("discovery.enabled", true)
	nv.SetDefault("discovery.usb_scan", false)
	nv.SetDefault("discovery.scan_interval", "60s")

	nv.SetDefault("health.check_interval", "30s")
	nv.SetDefault("health.history_retention", "24h")

	nv.SetDefault("metrics.enabled", true)
	nv.SetDefault("metrics.path", "/metrics")

	// App defaults
	nv.SetDefault("app.name", "cash-device-service")
	nv.SetDefault("app.version", "1.0.0")
	nv.SetDefault("app.environment", "development")
}

// applyDefaults fills per-family values left empty in the file
func (d *DeviceConfig) applyDefaults() {
	family, ok := model.ParseFamily(d.Family)
	if !ok {
		return
	}
	d.Family = string(family)
	profile := devicetypes.FamilyProfiles[string(family)]

	if d.Transport == "" {
		d.Transport = "serial"
	}
	if d.PortPattern == "" {
		d.PortPattern = profile.PortPattern
	}
	if d.MaximumPorts == 0 {
		d.MaximumPorts = profile.MaximumPorts
	}
	if d.BaudRate == 0 {
		d.BaudRate = profile.BaudRate
	}
	if d.ReadTimeout == 0 {
		d.ReadTimeout = profile.ReadTimeout
	}
	if d.SettleDelay == 0 {
		d.SettleDelay = profile.SettleDelay
	}

	switch family {
	case model.FamilyAzkoyen:
		if d.Coin.WarnToCritical == 0 {
			d.Coin.WarnToCritical = 10
		}
		if d.Coin.MaxCritical == 0 {
			d.Coin.MaxCritical = 4
		}
	case model.FamilyNV10:
		if d.Bill.EscrowTimeout == 0 {
			d.Bill.EscrowTimeout = devicetypes.DefaultTimeouts["ESCROW"]
		}
		if d.Bill.InhibitMask == 0 {
			d.Bill.InhibitMask = 0xFF
		}
	case model.FamilyDispenser:
		if d.Dispenser.MaxInitAttempts == 0 {
			d.Dispenser.MaxInitAttempts = 4
		}
		if d.Dispenser.LongTime == 0 && d.Dispenser.ShortTime == 0 {
			d.Dispenser.LongTime = 3 * time.Second
		}
	}
}

// ProtocolConfig converts the device entry into transport settings
func (d DeviceConfig) ProtocolConfig() protocol.Config {
	ct := model.ConnectionTypeSerial
	if strings.EqualFold(d.Transport, "tcp") {
		ct = model.ConnectionTypeTCP
	}
	return protocol.Config{
		Type:         ct,
		PortPattern:  d.PortPattern,
		MaximumPorts: d.MaximumPorts,
		Address:      d.Address,
		BaudRate:     d.BaudRate,
		ReadTimeout:  d.ReadTimeout,
	}
}

// FamilyTag returns the parsed family. Call after validation.
func (d DeviceConfig) FamilyTag() model.DeviceFamily {
	f, _ := model.ParseFamily(d.Family)
	return f
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Engine.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("engine.max_consecutive_failures must be positive")
	}
	if config.Engine.ListenerBuffer <= 0 {
		return fmt.Errorf("engine.listener_buffer must be positive")
	}
	if config.Metrics.Enabled && !strings.HasPrefix(config.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	seen := make(map[string]bool, len(config.Devices))
	for i, d := range config.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d].id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id: %s", d.ID)
		}
		seen[d.ID] = true

		family, ok := model.ParseFamily(d.Family)
		if !ok {
			return fmt.Errorf("devices[%d]: unknown family %q", i, d.Family)
		}
		if err := protocol.ValidateConfig(d.ProtocolConfig()); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}

		switch family {
		case model.FamilyAzkoyen:
			if d.Coin.WarnToCritical <= 0 || d.Coin.MaxCritical <= 0 {
				return fmt.Errorf("devices[%d]: coin thresholds must be positive", i)
			}
		case model.FamilyNV10:
			if d.Bill.InhibitMask < 0 || d.Bill.InhibitMask > 0xFF {
				return fmt.Errorf("devices[%d]: inhibit_mask must fit in one byte", i)
			}
		case model.FamilyDispenser:
			if d.Dispenser.MaxInitAttempts <= 0 {
				return fmt.Errorf("devices[%d]: max_init_attempts must be positive", i)
			}
		}
	}

	return nil
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// EnabledDevices returns the devices marked enabled
func (c *Config) EnabledDevices() []DeviceConfig {
	out := make([]DeviceConfig, 0, len(c.Devices))
	for _, d := range c.Devices {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}
