package app

import (
	"context"
	"fmt"

	dispatchRepository "github.com/allisson/syncbox/internal/dispatch/repository"
	dispatchUsecase "github.com/allisson/syncbox/internal/dispatch/usecase"
)

// ActionRepository returns the action queue repository instance.
func (c *Container) ActionRepository() (dispatchUsecase.ActionRepository, error) {
	c.actionRepoInit.Do(func() {
		repo, err := c.initActionRepository()
		if err != nil {
			c.initErrors["actionRepo"] = err
			return
		}
		c.actionRepo = repo
	})
	if storedErr, exists := c.initErrors["actionRepo"]; exists {
		return nil, storedErr
	}
	return c.actionRepo, nil
}

// Dispatcher returns the action dispatcher instance.
func (c *Container) Dispatcher() (*dispatchUsecase.Dispatcher, error) {
	c.dispatcherInit.Do(func() {
		dispatcher, err := c.initDispatcher()
		if err != nil {
			c.initErrors["dispatcher"] = err
			return
		}
		c.dispatcher = dispatcher
	})
	if storedErr, exists := c.initErrors["dispatcher"]; exists {
		return nil, storedErr
	}
	return c.dispatcher, nil
}

// Notifier returns the action handler the worker runs claimed actions through.
// With NOTIFY_TOPIC_URL set it publishes to the configured pub/sub topic,
// otherwise it logs and completes.
func (c *Container) Notifier() (dispatchUsecase.ActionHandler, error) {
	c.notifierInit.Do(func() {
		if c.config.NotifyTopicURL == "" {
			c.notifier = dispatchUsecase.NewLogNotifier(c.Logger())
			return
		}

		notifier, err := dispatchUsecase.NewPubSubNotifier(
			context.Background(), c.config.NotifyTopicURL, c.Logger(),
		)
		if err != nil {
			c.initErrors["notifier"] = fmt.Errorf("failed to create pubsub notifier: %w", err)
			return
		}
		c.notifier = notifier
		c.pubsubCloser = notifier
	})
	if storedErr, exists := c.initErrors["notifier"]; exists {
		return nil, storedErr
	}
	return c.notifier, nil
}

// Worker returns the action queue worker instance.
func (c *Container) Worker() (*dispatchUsecase.Worker, error) {
	c.workerInit.Do(func() {
		worker, err := c.initWorker()
		if err != nil {
			c.initErrors["worker"] = err
			return
		}
		c.worker = worker
	})
	if storedErr, exists := c.initErrors["worker"]; exists {
		return nil, storedErr
	}
	return c.worker, nil
}

// initActionRepository creates the action queue repository instance.
func (c *Container) initActionRepository() (dispatchUsecase.ActionRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for action repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return dispatchRepository.NewMySQLActionRepository(db), nil
	case "postgres":
		return dispatchRepository.NewPostgreSQLActionRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initDispatcher creates the dispatcher with all its dependencies.
func (c *Container) initDispatcher() (*dispatchUsecase.Dispatcher, error) {
	repo, err := c.ActionRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get action repository for dispatcher: %w", err)
	}

	recorder, err := c.TraceRecorder()
	if err != nil {
		return nil, fmt.Errorf("failed to get trace recorder for dispatcher: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for dispatcher: %w", err)
	}

	dispatcherConfig := dispatchUsecase.DispatcherConfig{
		MaxRetries: c.config.DispatchMaxRetries,
		ActionTTL:  c.config.DispatchActionTTL,
	}

	return dispatchUsecase.NewDispatcher(
		dispatcherConfig, repo, recorder, businessMetrics, nil, c.Logger(),
	), nil
}

// initWorker creates the worker with all its dependencies.
func (c *Container) initWorker() (*dispatchUsecase.Worker, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for worker: %w", err)
	}

	repo, err := c.ActionRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get action repository for worker: %w", err)
	}

	handler, err := c.Notifier()
	if err != nil {
		return nil, fmt.Errorf("failed to get notifier for worker: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for worker: %w", err)
	}

	workerConfig := dispatchUsecase.WorkerConfig{
		PollInterval:   c.config.DispatchPollInterval,
		BatchSize:      c.config.DispatchBatchSize,
		RetryBaseDelay: c.config.DispatchRetryBaseDelay,
	}

	return dispatchUsecase.NewWorker(
		workerConfig, txManager, repo, handler, businessMetrics, nil, c.Logger(),
	), nil
}
