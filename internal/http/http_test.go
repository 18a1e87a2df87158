// Package http provides the API server wiring: router, middleware, and the
// separate metrics server.
package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/allisson/syncbox/internal/config"
	"github.com/allisson/syncbox/internal/metrics"
	outboxHTTP "github.com/allisson/syncbox/internal/outbox/http"
	outboxMocks "github.com/allisson/syncbox/internal/outbox/http/mocks"
	traceDomain "github.com/allisson/syncbox/internal/trace/domain"
	traceHTTP "github.com/allisson/syncbox/internal/trace/http"
	traceMocks "github.com/allisson/syncbox/internal/trace/http/mocks"
)

// TestMain sets Gin to test mode for all tests in this package.
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// testRouterFixture holds a fully-wired router plus the mocks behind it.
type testRouterFixture struct {
	router        *gin.Engine
	outboxUseCase *outboxMocks.MockOutboxUseCase
	syncer        *outboxMocks.MockSyncer
	traceQuery    *traceMocks.MockQuery
}

// createTestRouter builds a router through SetupRouter with mocked handlers.
func createTestRouter(cfg *config.Config) *testRouterFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mockOutboxUseCase := &outboxMocks.MockOutboxUseCase{}
	mockSyncer := &outboxMocks.MockSyncer{}
	mockTraceQuery := &traceMocks.MockQuery{}

	deps := RouterDeps{
		Config:        cfg,
		IntentHandler: outboxHTTP.NewIntentHandler(mockOutboxUseCase, mockSyncer, logger),
		TraceHandler:  traceHTTP.NewTraceHandler(mockTraceQuery, logger),
		Logger:        logger,
	}

	return &testRouterFixture{
		router:        SetupRouter(deps),
		outboxUseCase: mockOutboxUseCase,
		syncer:        mockSyncer,
		traceQuery:    mockTraceQuery,
	}
}

// defaultTestConfig returns a config with everything optional disabled.
func defaultTestConfig() *config.Config {
	return &config.Config{
		ServerHost: "localhost",
		ServerPort: 8080,
	}
}

func TestSetupRouter_HealthEndpoints(t *testing.T) {
	fixture := createTestRouter(defaultTestConfig())

	for _, path := range []string{"/health", "/ready"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		fixture.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]string
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, "ok", response["status"])
	}
}

func TestSetupRouter_NotFoundEndpoint(t *testing.T) {
	fixture := createTestRouter(defaultTestConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	fixture.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRouter_TraceRouteWired(t *testing.T) {
	fixture := createTestRouter(defaultTestConfig())
	traceID := uuid.Must(uuid.NewV7())

	fixture.traceQuery.On("ListByTraceID", mock.Anything, traceID).
		Return([]*traceDomain.Record{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/traces/"+traceID.String(), nil)
	fixture.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	fixture.traceQuery.AssertExpectations(t)
}

// TestSetupRouter_RateLimitApplied verifies the intent group enforces the
// configured limit. Malformed bodies still consume tokens because the
// middleware runs before the handler.
func TestSetupRouter_RateLimitApplied(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.RateLimitEnabled = true
	cfg.RateLimitRequestsPerSec = 1
	cfg.RateLimitBurst = 1
	fixture := createTestRouter(cfg)

	first := httptest.NewRecorder()
	fixture.router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/v1/intents", nil))
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := httptest.NewRecorder()
	fixture.router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/v1/intents", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

// TestSetupRouter_RateLimitDoesNotCoverReads verifies the limit only guards
// the intent submission group, not the trace read path.
func TestSetupRouter_RateLimitDoesNotCoverReads(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.RateLimitEnabled = true
	cfg.RateLimitRequestsPerSec = 1
	cfg.RateLimitBurst = 1
	fixture := createTestRouter(cfg)

	fixture.traceQuery.On("ListByTraceID", mock.Anything, mock.Anything).
		Return([]*traceDomain.Record{}, nil)

	traceID := uuid.Must(uuid.NewV7()).String()
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/traces/"+traceID, nil)
		fixture.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

// TestCustomLoggerMiddleware tests the custom logging middleware.
func TestCustomLoggerMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := gin.New()
	router.Use(requestid.New())
	router.Use(CustomLoggerMiddleware(logger))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "test"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "test", response["message"])
}

// TestRecoveryMiddleware tests Gin's built-in recovery middleware.
func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CustomLoggerMiddleware(logger))
	router.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)

	// Should not panic - Recovery middleware catches it
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// TestRequestIDMiddleware_HeaderPresent verifies X-Request-Id is set on responses.
func TestRequestIDMiddleware_HeaderPresent(t *testing.T) {
	fixture := createTestRouter(defaultTestConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	fixture.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

// TestServer_ShutdownGracefully tests graceful server shutdown.
func TestServer_ShutdownGracefully(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := defaultTestConfig()
	cfg.ServerPort = 0 // let the OS pick a free port

	server := NewServer(RouterDeps{
		Config:        cfg,
		IntentHandler: outboxHTTP.NewIntentHandler(&outboxMocks.MockOutboxUseCase{}, &outboxMocks.MockSyncer{}, logger),
		TraceHandler:  traceHTTP.NewTraceHandler(&traceMocks.MockQuery{}, logger),
		Logger:        logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	err := server.Shutdown(shutdownCtx)
	assert.NoError(t, err)

	select {
	case err := <-errChan:
		t.Fatalf("server startup failed: %v", err)
	default:
	}
}

// TestMetricsServer_Endpoints tests the metrics server endpoints.
func TestMetricsServer_Endpoints(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	provider, err := metrics.NewProvider("test_app")
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	}()

	metricsServer := NewMetricsServer("localhost", 8081, logger, provider)
	require.NotNil(t, metricsServer)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsServer.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

// TestServer_NoMetricsEndpoint tests that the API server does NOT expose /metrics.
func TestServer_NoMetricsEndpoint(t *testing.T) {
	fixture := createTestRouter(defaultTestConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	fixture.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
