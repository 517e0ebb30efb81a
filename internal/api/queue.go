package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"log/slog"

	"go.payrelay.dev/internal/queue"
)

// QueueHandler handles queue inspection endpoints
type QueueHandler struct {
	queue *queue.Queue
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(q *queue.Queue) *QueueHandler {
	return &QueueHandler{queue: q}
}

// Routes returns the router for queue endpoints
func (h *QueueHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/stats", h.GetStats)

	return r
}

// QueueStatsDTO summarizes queue composition for API responses
type QueueStatsDTO struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Success    int64 `json:"success"`
	Stalled    int64 `json:"stalled"`
	HasWork    bool  `json:"hasWork"`
}

// GetStats handles GET /api/queue/stats
//
//	@Summary		Queue statistics
//	@Description	Counts of queued transfers by state plus a has-work flag
//	@Tags			Queue
//	@Produce		json
//	@Success		200	{object}	QueueStatsDTO	"Queue statistics"
//	@Failure		500	{object}	ErrorResponse	"Internal server error"
//	@Router			/queue/stats [get]
func (h *QueueHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to read queue stats", "error", err)
		WriteInternalError(w, "Failed to read queue stats")
		return
	}

	hasWork, err := h.queue.HasWork(r.Context())
	if err != nil {
		slog.Error("Failed to read queue stats", "error", err)
		WriteInternalError(w, "Failed to read queue stats")
		return
	}

	WriteJSON(w, http.StatusOK, QueueStatsDTO{
		Total:      stats.Total,
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Success:    stats.Success,
		Stalled:    stats.Stalled,
		HasWork:    hasWork,
	})
}
