package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Probe reports whether the server of record is reachable. Implementations
// must be side-effect free and conservative: any doubt means offline, because
// queueing an entry is cheap and losing one is not.
type Probe interface {
	IsOnline(ctx context.Context) bool
}

// HTTPProbe checks reachability with a HEAD request against the server of
// record's base URL.
type HTTPProbe struct {
	serverURL string
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTPProbe creates a probe against serverURL with the given per-check timeout.
func NewHTTPProbe(serverURL string, timeout time.Duration, logger *slog.Logger) *HTTPProbe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &HTTPProbe{
		serverURL: serverURL,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// IsOnline returns true only when the server answers the HEAD request with a
// non-5xx status. Timeouts, transport errors, and server errors all read as
// offline.
func (p *HTTPProbe) IsOnline(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.serverURL, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if p.logger != nil {
			p.logger.Debug("connectivity probe failed", slog.Any("error", err))
		}
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
