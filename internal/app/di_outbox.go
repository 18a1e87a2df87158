package app

import (
	"fmt"

	outboxHTTP "github.com/allisson/syncbox/internal/outbox/http"
	outboxRepository "github.com/allisson/syncbox/internal/outbox/repository"
	outboxUsecase "github.com/allisson/syncbox/internal/outbox/usecase"
	syncService "github.com/allisson/syncbox/internal/sync/service"
)

// outboxEntryRepository is the full outbox surface: submissions go through the
// use case side, sweeps go through the sync engine side, both against the same
// concrete repository.
type outboxEntryRepository interface {
	outboxUsecase.EntryRepository
	syncService.OutboxRepository
}

// OutboxRepository returns the outbox entry repository instance.
func (c *Container) OutboxRepository() (outboxEntryRepository, error) {
	c.outboxRepoInit.Do(func() {
		repo, err := c.initOutboxRepository()
		if err != nil {
			c.initErrors["outboxRepo"] = err
			return
		}
		c.outboxRepo = repo
	})
	if storedErr, exists := c.initErrors["outboxRepo"]; exists {
		return nil, storedErr
	}
	return c.outboxRepo, nil
}

// OutboxUseCase returns the outbox use case instance.
func (c *Container) OutboxUseCase() (outboxUsecase.OutboxUseCase, error) {
	c.outboxUseCaseInit.Do(func() {
		useCase, err := c.initOutboxUseCase()
		if err != nil {
			c.initErrors["outboxUseCase"] = err
			return
		}
		c.outboxUseCase = useCase
	})
	if storedErr, exists := c.initErrors["outboxUseCase"]; exists {
		return nil, storedErr
	}
	return c.outboxUseCase, nil
}

// IntentHandler returns the HTTP handler for intent submission and sync.
func (c *Container) IntentHandler() (*outboxHTTP.IntentHandler, error) {
	useCase, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for intent handler: %w", err)
	}

	engine, err := c.SyncEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync engine for intent handler: %w", err)
	}

	return outboxHTTP.NewIntentHandler(useCase, engine, c.Logger()), nil
}

// initOutboxRepository creates the outbox entry repository instance.
func (c *Container) initOutboxRepository() (outboxEntryRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for outbox repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return outboxRepository.NewMySQLOutboxRepository(db), nil
	case "postgres":
		return outboxRepository.NewPostgreSQLOutboxRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initOutboxUseCase creates the outbox use case with all its dependencies.
func (c *Container) initOutboxUseCase() (outboxUsecase.OutboxUseCase, error) {
	repo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for outbox use case: %w", err)
	}

	recorder, err := c.TraceRecorder()
	if err != nil {
		return nil, fmt.Errorf("failed to get trace recorder for outbox use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for outbox use case: %w", err)
	}

	return outboxUsecase.NewOutboxUseCase(repo, recorder, businessMetrics, c.Logger()), nil
}
