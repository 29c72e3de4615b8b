// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cash-device-service/internal/config"
	"cash-device-service/internal/deposit"
	"cash-device-service/internal/driver"
	"cash-device-service/internal/engine"
	"cash-device-service/internal/hub"
	"cash-device-service/internal/metrics"
	"cash-device-service/internal/repository"
	"cash-device-service/internal/routes"
	"cash-device-service/internal/service"
	"cash-device-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config        *config.Config
	loggerManager *utils.LoggerManager
	logger        *zap.Logger
	server        *http.Server
	router        *routes.Router

	hub    *hub.Hub
	engine *engine.Engine
	book   *deposit.Book
	detach func()

	// Services
	deviceService    *service.DeviceService
	commandService   *service.CommandService
	discoveryService *service.DiscoveryService

	// Repositories
	deviceRepo  repository.DeviceRepository
	commandRepo repository.CommandRepository

	// Driver registry
	driverRegistry *driver.Registry
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		app.logger.Error("Application stopped with error", zap.Error(err))
		app.shutdown()
		os.Exit(1)
	}
	app.shutdown()
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerManager, err := utils.NewLoggerManager(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{
		config:        cfg,
		loggerManager: loggerManager,
		logger:        loggerManager.Logger(),
	}

	app.initializeRepositories()
	app.initializeDriverRegistry()
	app.initializeEventPipeline()

	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() {
	app.deviceRepo = repository.NewDeviceRepository(app.logger)
	app.commandRepo = repository.NewCommandRepository(0, app.logger)
}

// initializeDriverRegistry sets up device driver registry
func (app *Application) initializeDriverRegistry() {
	app.driverRegistry = driver.NewRegistry(app.logger)
	driver.RegisterDefaultDrivers(app.driverRegistry, app.logger)

	app.logger.Info("Driver registry initialized successfully",
		zap.Int("registered_drivers", len(app.driverRegistry.ListDrivers())),
	)
}

// initializeEventPipeline wires the hub, poll engine, deposit book and
// metrics together
func (app *Application) initializeEventPipeline() {
	app.hub = hub.New(app.config.Engine.ListenerBuffer, app.logger)
	app.hub.SetObserver(metrics.RecordEvent)

	app.engine = engine.New(app.config.Engine, app.hub, app.logger)

	app.book = deposit.NewBook(app.logger)
	app.book.OnCredit(func(deviceID string, c deposit.Credit) {
		metrics.RecordCredit(deviceID, c.Kind, c.Amount)
	})
	app.detach = app.book.Attach(app.hub)
}

// initializeServices creates service instances and loads the configured
// devices. A device that fails to load is reported by /ready.
func (app *Application) initializeServices() {
	app.deviceService = service.NewDeviceService(
		app.deviceRepo,
		app.driverRegistry,
		app.engine,
		app.hub,
		app.logger,
	)

	app.commandService = service.NewCommandService(
		app.deviceService,
		app.commandRepo,
		app.deviceRepo,
		app.engine,
		app.hub,
		app.book,
		app.config.Engine.CommandTimeout,
		app.logger,
	)

	app.discoveryService = service.NewDiscoveryService(
		app.driverRegistry,
		app.config.Discovery,
		app.config.EnabledDevices(),
		app.logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.deviceService.LoadDevices(ctx, app.config.Devices, nil); err != nil {
		app.logger.Error("Some devices could not be loaded", zap.Error(err))
	}

	app.logger.Info("Services initialized successfully",
		zap.Strings("devices", app.deviceService.IDs()),
	)
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(
		app.config,
		app.logger,
		app.hub,
		app.deviceService,
		app.commandService,
		app.discoveryService,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.config.GetServerAddr()))
}

// Run serves HTTP and runs the background loops until ctx is done or one
// of them fails
func (app *Application) Run(ctx context.Context) error {
	serviceLogger := utils.NewServiceLogger(app.logger, "cash-device-service")
	serviceLogger.LogServiceStart(app.config.App.Version, len(app.deviceService.IDs()))

	config.Watch(func(c *config.Config) {
		if err := app.loggerManager.SetLevel(c.Logging.Level); err != nil {
			app.logger.Warn("Ignoring log level from reloaded config", zap.Error(err))
		}
	}, func(err error) {
		app.logger.Warn("Reloaded config is invalid, keeping the current one", zap.Error(err))
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		app.router.Close()
		return app.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return app.commandService.MonitorHealth(gctx, app.config.Health.CheckInterval, app.config.Health.HistoryRetention)
	})

	if app.config.Discovery.Enabled {
		g.Go(func() error {
			return app.discoveryService.Run(gctx, app.config.Discovery.ScanInterval)
		})
	}

	return g.Wait()
}

// shutdown stops every poll loop, releases the ports and flushes the logger
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "cash-device-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	app.deviceService.Close()
	app.detach()
	app.hub.Close()

	app.logger.Info("Application shutdown completed")
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}
