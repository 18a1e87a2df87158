// Package http provides HTTP handlers for audit trace operations.
package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/syncbox/internal/httputil"
	"github.com/allisson/syncbox/internal/trace/http/dto"
	traceUseCase "github.com/allisson/syncbox/internal/trace/usecase"
)

// TraceHandler handles HTTP requests for audit trace lineages.
type TraceHandler struct {
	traceQuery traceUseCase.Query
	logger     *slog.Logger
}

// NewTraceHandler creates a new trace handler with required dependencies.
func NewTraceHandler(
	traceQuery traceUseCase.Query,
	logger *slog.Logger,
) *TraceHandler {
	return &TraceHandler{
		traceQuery: traceQuery,
		logger:     logger,
	}
}

// GetHandler retrieves the full lineage of one trace in append order.
// GET /v1/traces/{trace_id}
// Returns 200 OK with the trace records oldest first. An unknown trace id
// returns 200 with an empty data array; no records is a valid answer.
func (h *TraceHandler) GetHandler(c *gin.Context) {
	traceID, err := uuid.Parse(c.Param("trace_id"))
	if err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("invalid trace id format"), h.logger)
		return
	}

	records, err := h.traceQuery.ListByTraceID(c.Request.Context(), traceID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	response := dto.MapRecordsToListResponse(records)
	c.JSON(http.StatusOK, response)
}
