// Package http provides HTTP handlers for intent submission and sync operations.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/syncbox/internal/httputil"
	"github.com/allisson/syncbox/internal/outbox/http/dto"
	outboxUseCase "github.com/allisson/syncbox/internal/outbox/usecase"
	syncService "github.com/allisson/syncbox/internal/sync/service"
	"github.com/allisson/syncbox/internal/validation"
)

// Syncer triggers one manual sweep of the pending queue.
type Syncer interface {
	SweepAll(ctx context.Context) (syncService.Summary, error)
}

// IntentHandler handles HTTP requests for outbox intents.
type IntentHandler struct {
	outboxUseCase outboxUseCase.OutboxUseCase
	syncer        Syncer
	logger        *slog.Logger
}

// NewIntentHandler creates a new intent handler with required dependencies.
func NewIntentHandler(
	outboxUseCase outboxUseCase.OutboxUseCase,
	syncer Syncer,
	logger *slog.Logger,
) *IntentHandler {
	return &IntentHandler{
		outboxUseCase: outboxUseCase,
		syncer:        syncer,
		logger:        logger,
	}
}

// SubmitHandler queues a new intent for eventual delivery.
// POST /v1/intents
// Returns 201 Created when a new entry was queued and 200 OK when the dedupe
// key absorbed a duplicate; both carry the submission outcome. The entry is
// durable before the response is written.
func (h *IntentHandler) SubmitHandler(c *gin.Context) {
	var request dto.SubmitIntentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("invalid request body: %w", err), h.logger)
		return
	}

	if err := request.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, validation.WrapValidationError(err), h.logger)
		return
	}

	key, err := request.ToDedupeKey()
	if err != nil {
		httputil.HandleValidationErrorGin(c, validation.WrapValidationError(err), h.logger)
		return
	}

	entry, inserted, err := h.outboxUseCase.Submit(c.Request.Context(), key, request.Payload)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	status := http.StatusCreated
	if !inserted {
		status = http.StatusOK
	}

	c.JSON(status, dto.SubmitIntentResponse{
		Inserted: inserted,
		Entry:    dto.MapEntryToResponse(entry),
	})
}

// ListPendingHandler retrieves entries waiting for delivery, oldest first.
// GET /v1/intents/pending?limit=50
func (h *IntentHandler) ListPendingHandler(c *gin.Context) {
	_, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	entries, err := h.outboxUseCase.ListPending(c.Request.Context(), limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapEntriesToListResponse(entries))
}

// PendingCountHandler reports how many entries wait for delivery. This is the
// "pending sync" indicator; it never errors on a healthy database even when
// the server of record is offline.
// GET /v1/intents/pending/count
func (h *IntentHandler) PendingCountHandler(c *gin.Context) {
	count, err := h.outboxUseCase.PendingCount(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.PendingCountResponse{Count: count})
}

// SyncHandler runs one manual sweep and reports what it did.
// POST /v1/intents/sync
// Returns 503 when the server of record is offline.
func (h *IntentHandler) SyncHandler(c *gin.Context) {
	summary, err := h.syncer.SweepAll(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, summary)
}
