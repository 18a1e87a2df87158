package app

import (
	"fmt"

	traceHTTP "github.com/allisson/syncbox/internal/trace/http"
	traceRepository "github.com/allisson/syncbox/internal/trace/repository"
	traceUsecase "github.com/allisson/syncbox/internal/trace/usecase"
)

// traceRecordRepository is the full trace surface: appends from the recorder,
// lineage reads from the query side.
type traceRecordRepository interface {
	traceUsecase.RecordRepository
	traceUsecase.QueryRepository
}

// TraceRepository returns the trace record repository instance.
func (c *Container) TraceRepository() (traceRecordRepository, error) {
	c.traceRepoInit.Do(func() {
		repo, err := c.initTraceRepository()
		if err != nil {
			c.initErrors["traceRepo"] = err
			return
		}
		c.traceRepo = repo
	})
	if storedErr, exists := c.initErrors["traceRepo"]; exists {
		return nil, storedErr
	}
	return c.traceRepo, nil
}

// TraceRecorder returns the shared buffered trace recorder.
func (c *Container) TraceRecorder() (traceUsecase.Recorder, error) {
	c.traceRecorderInit.Do(func() {
		recorder, err := c.initTraceRecorder()
		if err != nil {
			c.initErrors["traceRecorder"] = err
			return
		}
		c.traceRecorder = recorder
	})
	if storedErr, exists := c.initErrors["traceRecorder"]; exists {
		return nil, storedErr
	}
	return c.traceRecorder, nil
}

// TraceQuery returns the trace lineage query instance.
func (c *Container) TraceQuery() (traceUsecase.Query, error) {
	c.traceQueryInit.Do(func() {
		repo, err := c.TraceRepository()
		if err != nil {
			c.initErrors["traceQuery"] = fmt.Errorf("failed to get trace repository for trace query: %w", err)
			return
		}
		c.traceQuery = traceUsecase.NewQuery(repo)
	})
	if storedErr, exists := c.initErrors["traceQuery"]; exists {
		return nil, storedErr
	}
	return c.traceQuery, nil
}

// TraceHandler returns the HTTP handler for trace lineage reads.
func (c *Container) TraceHandler() (*traceHTTP.TraceHandler, error) {
	query, err := c.TraceQuery()
	if err != nil {
		return nil, fmt.Errorf("failed to get trace query for trace handler: %w", err)
	}

	return traceHTTP.NewTraceHandler(query, c.Logger()), nil
}

// initTraceRepository creates the trace record repository instance.
func (c *Container) initTraceRepository() (traceRecordRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for trace repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return traceRepository.NewMySQLTraceRepository(db), nil
	case "postgres":
		return traceRepository.NewPostgreSQLTraceRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initTraceRecorder creates the buffered recorder with all its dependencies.
func (c *Container) initTraceRecorder() (traceUsecase.Recorder, error) {
	repo, err := c.TraceRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get trace repository for trace recorder: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for trace recorder: %w", err)
	}

	recorderConfig := traceUsecase.Config{
		BufferSize: c.config.TraceBufferSize,
		RetryDelay: c.config.TraceRetryDelay,
	}

	return traceUsecase.NewBufferedRecorder(recorderConfig, repo, businessMetrics, nil, c.Logger()), nil
}
