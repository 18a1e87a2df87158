package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider("syncbox")
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.NotNil(t, provider.MeterProvider())

	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
}

func TestProviderHandlerServesMetrics(t *testing.T) {
	provider, err := NewProvider("syncbox")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	business, err := NewBusinessMetrics(provider.MeterProvider(), "syncbox")
	require.NoError(t, err)
	business.RecordOperation(context.Background(), "outbox", "submit", "success")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	provider.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "syncbox_operations_total")
}

func TestProviderShutdownIdempotent(t *testing.T) {
	provider, err := NewProvider("syncbox")
	require.NoError(t, err)

	require.NoError(t, provider.Shutdown(context.Background()))
}
