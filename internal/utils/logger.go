// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"cash-device-service/internal/config"
)

// LoggerManager manages application logging
type LoggerManager struct {
	logger *zap.Logger
	level  zap.AtomicLevel
	config *config.LoggingConfig
}

// NewLogger creates a new logger instance based on configuration
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	manager, err := NewLoggerManager(cfg)
	if err != nil {
		return nil, err
	}
	return manager.Logger(), nil
}

// NewLoggerManager builds a logger whose level can be changed at runtime
func NewLoggerManager(cfg *config.LoggingConfig) (*LoggerManager, error) {
	manager := &LoggerManager{
		config: cfg,
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	manager.level = zap.NewAtomicLevelAt(level)

	logger, err := manager.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	manager.logger = logger
	return manager, nil
}

// Logger returns the managed logger
func (lm *LoggerManager) Logger() *zap.Logger {
	return lm.logger
}

// Level returns the current level
func (lm *LoggerManager) Level() zapcore.Level {
	return lm.level.Level()
}

// SetLevel changes the level of every logger derived from the manager
func (lm *LoggerManager) SetLevel(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if l != lm.level.Level() {
		lm.level.SetLevel(l)
		lm.logger.Info("Log level changed", zap.String("level", l.String()))
	}
	return nil
}

// createLogger creates the zap logger with proper configuration
func (lm *LoggerManager) createLogger() (*zap.Logger, error) {
	encoderConfig := lm.getEncoderConfig()

	var encoder zapcore.Encoder
	switch lm.config.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	writeSyncer, err := lm.getWriteSyncer()
	if err != nil {
		return nil, fmt.Errorf("failed to create write syncer: %w", err)
	}

	core := zapcore.NewCore(encoder, writeSyncer, lm.level)
	return zap.New(core, lm.getLoggerOptions()...), nil
}

// getEncoderConfig returns encoder configuration based on format
func (lm *LoggerManager) getEncoderConfig() zapcore.EncoderConfig {
	config := zap.NewProductionEncoderConfig()

	config.TimeKey = "timestamp"
	config.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	config.LevelKey = "level"
	config.EncodeLevel = zapcore.LowercaseLevelEncoder
	config.CallerKey = "caller"
	config.EncodeCaller = zapcore.ShortCallerEncoder
	config.MessageKey = "message"
	config.StacktraceKey = "stacktrace"

	// Console format customizations
	if lm.config.Format == "console" {
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	}

	return config
}

// getWriteSyncer returns write syncer based on output configuration
func (lm *LoggerManager) getWriteSyncer() (zapcore.WriteSyncer, error) {
	switch lm.config.Output {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		path := lm.config.FilePath
		if path == "" {
			path = "./logs/cash-device-service.log"
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		lumber := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    lm.config.MaxSize, // MB
			MaxBackups: lm.config.MaxBackups,
			MaxAge:     lm.config.MaxAge, // days
			Compress:   lm.config.Compress,
		}

		return zapcore.AddSync(lumber), nil
	}
}

// ParseLevel maps a configuration string onto a zap level
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// getLoggerOptions returns logger options
func (lm *LoggerManager) getLoggerOptions() []zap.Option {
	return []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
}

// DeviceLogger wraps zap.Logger with session-specific fields
type DeviceLogger struct {
	*zap.Logger
	deviceID string
	family   string
}

// NewDeviceLogger creates a device-specific logger
func NewDeviceLogger(baseLogger *zap.Logger, deviceID, family string) *DeviceLogger {
	logger := baseLogger.With(
		zap.String("device_id", deviceID),
		zap.String("family", family),
		zap.String("component", "device"),
	)

	return &DeviceLogger{
		Logger:   logger,
		deviceID: deviceID,
		family:   family,
	}
}

// WithPort returns a copy bound to the port the session opened
func (dl *DeviceLogger) WithPort(port string) *DeviceLogger {
	return &DeviceLogger{
		Logger:   dl.Logger.With(zap.String("port", port)),
		deviceID: dl.deviceID,
		family:   dl.family,
	}
}

// LogExchange logs one request/reply on the wire
func (dl *DeviceLogger) LogExchange(request, reply []byte, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.Binary("request", request),
		zap.Binary("reply", reply),
		zap.Duration("duration", duration),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		dl.Debug("Exchange failed", fields...)
	} else {
		dl.Debug("Exchange completed", fields...)
	}
}

// LogCommand logs the status code a command produced
func (dl *DeviceLogger) LogCommand(command string, statusCode int, message string, duration time.Duration) {
	level := zapcore.InfoLevel
	if statusCode >= 400 {
		level = zapcore.WarnLevel
	}
	if statusCode >= 500 {
		level = zapcore.ErrorLevel
	}

	if ce := dl.Check(level, "Device command"); ce != nil {
		ce.Write(
			zap.String("command", command),
			zap.Int("status_code", statusCode),
			zap.String("status_message", message),
			zap.Duration("duration", duration),
		)
	}
}

// LogConnection logs connection events
func (dl *DeviceLogger) LogConnection(action string, success bool, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.Bool("success", success),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		dl.Warn("Device connection event", fields...)
	} else {
		dl.Info("Device connection event", fields...)
	}
}

// LogTransition logs a state machine move
func (dl *DeviceLogger) LogTransition(from, event, to string) {
	dl.Debug("State transition",
		zap.String("from", from),
		zap.String("event", event),
		zap.String("to", to),
	)
}

// LogHealth logs health metrics
func (dl *DeviceLogger) LogHealth(statusCode int, responseTime time.Duration, errorRate float64) {
	dl.Info("Device health metrics",
		zap.Int("status_code", statusCode),
		zap.Duration("response_time", responseTime),
		zap.Float64("error_rate", errorRate),
	)
}

// ServiceLogger provides service-level logging functionality
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	logger := baseLogger.With(
		zap.String("service", serviceName),
		zap.String("component", "service"),
	)

	return &ServiceLogger{
		Logger:      logger,
		serviceName: serviceName,
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, devices int) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.Int("devices", devices),
	)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping",
		zap.String("reason", reason),
	)
}

// LogAPIRequest logs one HTTP request tagged with its request id
func (sl *ServiceLogger) LogAPIRequest(requestID, method, path, clientIP string, statusCode int, duration time.Duration) {
	level := zapcore.InfoLevel
	if statusCode >= 400 {
		level = zapcore.WarnLevel
	}
	if statusCode >= 500 {
		level = zapcore.ErrorLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", clientIP),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", duration),
		)
	}
}

// CloseLogger flushes buffered entries
func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
