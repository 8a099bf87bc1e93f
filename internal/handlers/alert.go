package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/alertflow/alertflow/internal/alerts"
	"github.com/alertflow/alertflow/internal/api"
	"github.com/alertflow/alertflow/internal/metrics"
	"github.com/alertflow/alertflow/internal/middleware"
	"github.com/alertflow/alertflow/internal/services"
	"github.com/alertflow/alertflow/internal/utils"
	"github.com/alertflow/alertflow/internal/workers"
)

// maxLoggedBody caps how much of a rejected payload is logged
const maxLoggedBody = 512

// Ingester feeds raw events through the alert state machine
type Ingester interface {
	Ingest(ctx context.Context, events []alerts.RawEvent) services.IngestResult
}

// Dispatcher queues work without blocking the request
type Dispatcher interface {
	TrySubmit(task workers.Task) error
}

// AlertHandler accepts receiver batches and hands them to the ingest pool.
// The response only acknowledges receipt.
type AlertHandler struct {
	ingester Ingester
	adapter  alerts.PayloadAdapter
	pool     Dispatcher
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewAlertHandler creates a receiver handler
func NewAlertHandler(ingester Ingester, adapter alerts.PayloadAdapter, pool Dispatcher, m *metrics.Metrics, log *zap.Logger) *AlertHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &AlertHandler{
		ingester: ingester,
		adapter:  adapter,
		pool:     pool,
		metrics:  m,
		log:      log,
	}
}

// HandleReceiver handles POST /api/v1/alerts/receiver
func (h *AlertHandler) HandleReceiver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxBodySize))
	if err != nil {
		h.log.Warn("failed to read receiver body", zap.Error(err))
		api.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	events, err := h.adapter.ParsePayload(body)
	if err != nil {
		h.log.Warn("invalid receiver payload",
			zap.String("source", h.adapter.GetSourceType()),
			zap.String("body", utils.EscapeForLogging(string(body), maxLoggedBody)),
			zap.Error(err),
		)
		api.RespondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if len(events) == 0 {
		api.RespondJSON(w, http.StatusOK, api.IngestResponse{Received: 0})
		return
	}

	requestID := middleware.GetRequestID(r.Context())
	err = h.pool.TrySubmit(func(ctx context.Context) {
		res := h.ingester.Ingest(ctx, events)
		log := h.log.With(zap.String("request_id", requestID))
		if res.Errors != nil {
			log.Warn("batch ingested with errors", zap.Error(res.Errors))
		}
		log.Info("batch ingested",
			zap.Int("accepted", res.Accepted),
			zap.Int("staged", res.Staged),
			zap.Int("promoted", res.Promoted),
			zap.Int("rejected", res.Rejected))
	})
	if err != nil {
		if errors.Is(err, workers.ErrQueueFull) {
			h.metrics.IngestQueueFull.Inc()
		}
		h.log.Warn("ingest queue unavailable", zap.Int("events", len(events)), zap.Error(err))
		w.Header().Set("Retry-After", "5")
		api.RespondError(w, http.StatusServiceUnavailable, "Ingest queue full, retry later")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.IngestResponse{Received: len(events)})
}
