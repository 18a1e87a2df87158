// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/allisson/syncbox/internal/config"
	"github.com/allisson/syncbox/internal/database"
	dispatchUsecase "github.com/allisson/syncbox/internal/dispatch/usecase"
	"github.com/allisson/syncbox/internal/http"
	"github.com/allisson/syncbox/internal/metrics"
	outboxUsecase "github.com/allisson/syncbox/internal/outbox/usecase"
	syncService "github.com/allisson/syncbox/internal/sync/service"
	traceUsecase "github.com/allisson/syncbox/internal/trace/usecase"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics

	// Managers
	txManager database.TxManager

	// Repositories
	outboxRepo outboxEntryRepository
	traceRepo  traceRecordRepository
	actionRepo dispatchUsecase.ActionRepository

	// Use cases and services
	traceRecorder traceUsecase.Recorder
	traceQuery    traceUsecase.Query
	outboxUseCase outboxUsecase.OutboxUseCase
	dispatcher    *dispatchUsecase.Dispatcher
	notifier      dispatchUsecase.ActionHandler
	pubsubCloser  *dispatchUsecase.PubSubNotifier
	worker        *dispatchUsecase.Worker
	syncEngine    *syncService.Engine

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                  sync.Mutex
	loggerInit          sync.Once
	dbInit              sync.Once
	metricsProviderInit sync.Once
	businessMetricsInit sync.Once
	txManagerInit       sync.Once
	outboxRepoInit      sync.Once
	traceRepoInit       sync.Once
	actionRepoInit      sync.Once
	traceRecorderInit   sync.Once
	traceQueryInit      sync.Once
	outboxUseCaseInit   sync.Once
	dispatcherInit      sync.Once
	notifierInit        sync.Once
	workerInit          sync.Once
	syncEngineInit      sync.Once
	httpServerInit      sync.Once
	metricsServerInit   sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	c.dbInit.Do(func() {
		db, err := c.initDB()
		if err != nil {
			c.initErrors["db"] = err
			return
		}
		c.db = db
	})
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
// It requires a database connection to be initialized first.
func (c *Container) TxManager() (database.TxManager, error) {
	c.txManagerInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["txManager"] = fmt.Errorf("failed to get database for tx manager: %w", err)
			return
		}
		c.txManager = database.NewTxManager(db)
	})
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// MetricsProvider returns the Prometheus-backed metrics provider, or nil when
// metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		provider, err := metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = fmt.Errorf("failed to create metrics provider: %w", err)
			return
		}
		c.metricsProvider = provider
	})
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business metrics recorder. A no-op recorder is
// returned when metrics are disabled, so callers never branch on config.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	c.businessMetricsInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["businessMetrics"] = fmt.Errorf("failed to get metrics provider for business metrics: %w", err)
			return
		}
		if provider == nil {
			c.businessMetrics = metrics.NewNoOpBusinessMetrics()
			return
		}

		businessMetrics, err := metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["businessMetrics"] = fmt.Errorf("failed to create business metrics: %w", err)
			return
		}
		c.businessMetrics = businessMetrics
	})
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// HTTPServer returns the API server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	c.httpServerInit.Do(func() {
		server, err := c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
			return
		}
		c.httpServer = server
	})
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the metrics server instance, or nil when metrics are
// disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	c.metricsServerInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}

		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["metricsServer"] = fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
			return
		}

		if err := c.registerQueueDepthGauges(provider); err != nil {
			c.initErrors["metricsServer"] = err
			return
		}

		c.metricsServer = http.NewMetricsServer(
			c.config.ServerHost,
			c.config.MetricsPort,
			c.Logger(),
			provider,
		)
	})
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	// The recorder drains its buffer before returning so late trace records
	// are not lost on a clean shutdown.
	if c.traceRecorder != nil {
		if err := c.traceRecorder.Close(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("trace recorder close: %w", err))
		}
	}

	if c.pubsubCloser != nil {
		if err := c.pubsubCloser.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("notifier shutdown: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initHTTPServer creates the API server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	intentHandler, err := c.IntentHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get intent handler for http server: %w", err)
	}

	traceHandler, err := c.TraceHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get trace handler for http server: %w", err)
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	return http.NewServer(http.RouterDeps{
		Config:          c.config,
		IntentHandler:   intentHandler,
		TraceHandler:    traceHandler,
		MetricsProvider: provider,
		Logger:          c.Logger(),
	}), nil
}

// registerQueueDepthGauges exposes outbox and action queue depth as gauges so
// a stalled consumer shows up on a dashboard before it shows up as an outage.
func (c *Container) registerQueueDepthGauges(provider *metrics.Provider) error {
	outboxRepo, err := c.OutboxRepository()
	if err != nil {
		return fmt.Errorf("failed to get outbox repository for queue depth gauge: %w", err)
	}

	dispatcher, err := c.Dispatcher()
	if err != nil {
		return fmt.Errorf("failed to get dispatcher for queue depth gauge: %w", err)
	}

	if err := metrics.RegisterQueueDepthGauge(
		provider.MeterProvider(),
		c.config.MetricsNamespace,
		"outbox",
		outboxRepo.CountPending,
	); err != nil {
		return fmt.Errorf("failed to register outbox depth gauge: %w", err)
	}

	if err := metrics.RegisterQueueDepthGauge(
		provider.MeterProvider(),
		c.config.MetricsNamespace,
		"action_queue",
		dispatcher.PendingCount,
	); err != nil {
		return fmt.Errorf("failed to register action queue depth gauge: %w", err)
	}

	return nil
}
