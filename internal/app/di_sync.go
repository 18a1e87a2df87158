package app

import (
	"fmt"
	"net/http"

	syncService "github.com/allisson/syncbox/internal/sync/service"
)

// SyncEngine returns the sync engine instance.
func (c *Container) SyncEngine() (*syncService.Engine, error) {
	c.syncEngineInit.Do(func() {
		engine, err := c.initSyncEngine()
		if err != nil {
			c.initErrors["syncEngine"] = err
			return
		}
		c.syncEngine = engine
	})
	if storedErr, exists := c.initErrors["syncEngine"]; exists {
		return nil, storedErr
	}
	return c.syncEngine, nil
}

// initSyncEngine creates the sync engine with all its dependencies.
func (c *Container) initSyncEngine() (*syncService.Engine, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for sync engine: %w", err)
	}

	outboxRepo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for sync engine: %w", err)
	}

	dispatcher, err := c.Dispatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatcher for sync engine: %w", err)
	}

	recorder, err := c.TraceRecorder()
	if err != nil {
		return nil, fmt.Errorf("failed to get trace recorder for sync engine: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for sync engine: %w", err)
	}

	logger := c.Logger()
	probe := syncService.NewHTTPProbe(c.config.SyncServerURL, c.config.SyncProbeTimeout, logger)
	client := syncService.NewHTTPRecordClient(c.config.SyncServerURL, &http.Client{
		Timeout: c.config.SyncAttemptTimeout,
	})

	engineConfig := syncService.Config{
		AttemptTimeout: c.config.SyncAttemptTimeout,
		SweepInterval:  c.config.SyncSweepInterval,
		BatchSize:      c.config.SyncBatchSize,
	}

	return syncService.NewEngine(
		engineConfig,
		txManager,
		outboxRepo,
		client,
		probe,
		dispatcher,
		recorder,
		businessMetrics,
		nil,
		logger,
	), nil
}
