package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	outboxDomain "github.com/allisson/syncbox/internal/outbox/domain"
)

// RecordClient writes one outbox entry to the server of record. Writes must be
// idempotent on the server side: re-sending an already-applied entry succeeds.
type RecordClient interface {
	Deliver(ctx context.Context, entry *outboxDomain.Entry) error
}

// recordPayload is the wire format sent to the server of record.
type recordPayload struct {
	ID        string          `json:"id"`
	DedupeKey string          `json:"dedupe_key"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	TraceID   string          `json:"trace_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// HTTPRecordClient delivers entries with an idempotent POST to the server of
// record's records endpoint.
type HTTPRecordClient struct {
	serverURL string
	client    *http.Client
}

// NewHTTPRecordClient creates a record client against serverURL.
func NewHTTPRecordClient(serverURL string, client *http.Client) *HTTPRecordClient {
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPRecordClient{
		serverURL: serverURL,
		client:    client,
	}
}

// Deliver posts the entry to the server of record and classifies the outcome.
// 2xx and 409 count as applied (409 means the server already holds the dedupe
// key, which is the same thing). Other 4xx statuses are permanent failures;
// 5xx and transport errors are transient.
func (c *HTTPRecordClient) Deliver(ctx context.Context, entry *outboxDomain.Entry) error {
	body, err := json.Marshal(recordPayload{
		ID:        entry.ID.String(),
		DedupeKey: entry.DedupeKey.String(),
		Kind:      string(entry.DedupeKey.Kind),
		Payload:   entry.Payload,
		TraceID:   entry.TraceID.String(),
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		return NewPermanentError(fmt.Errorf("marshal record payload: %w", err))
	}

	url := c.serverURL + "/v1/records"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewPermanentError(fmt.Errorf("build record request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", entry.DedupeKey.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver record: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already applied on a previous attempt.
		return nil
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		return NewPermanentError(fmt.Errorf("server rejected record: %s", readErrorBody(resp)))
	default:
		return fmt.Errorf("server unavailable: %s", readErrorBody(resp))
	}
}

// readErrorBody summarizes an error response for logging and trace records.
func readErrorBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil || len(body) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, body)
}
