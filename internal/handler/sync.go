package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/geomarkapp/geomark/internal/models"
	"github.com/geomarkapp/geomark/internal/sync/queue"
	"github.com/geomarkapp/geomark/internal/sync/scheduler"
	"github.com/geomarkapp/geomark/pkg/response"
)

// StatusSource exposes the orchestrator state needed by the status endpoint.
type StatusSource interface {
	Status() models.SyncStatus
	LastRun() *models.SyncRun
}

// ConnectivitySource exposes current reachability.
type ConnectivitySource interface {
	IsOnline() bool
}

// LastSyncSource reads the persisted last-successful-sync timestamp.
type LastSyncSource interface {
	LastSyncAt() (time.Time, error)
}

// SyncHandler serves sync status, manual triggers, and queue management.
type SyncHandler struct {
	engine       StatusSource
	scheduler    *scheduler.Scheduler
	queue        *queue.Queue
	connectivity ConnectivitySource
	lastSync     LastSyncSource
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine StatusSource, sched *scheduler.Scheduler, q *queue.Queue, conn ConnectivitySource, lastSync LastSyncSource) *SyncHandler {
	return &SyncHandler{
		engine:       engine,
		scheduler:    sched,
		queue:        q,
		connectivity: conn,
		lastSync:     lastSync,
	}
}

// statusPayload is the body of GET /api/status.
type statusPayload struct {
	Status     models.SyncStatus `json:"status"`
	Online     bool              `json:"online"`
	QueueDepth int               `json:"queue_depth"`
	LastSyncAt *time.Time        `json:"last_sync_at,omitempty"`
	LastRun    *models.SyncRun   `json:"last_run,omitempty"`
}

// Status handles GET /api/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Size()
	if err != nil {
		response.Error(w, err)
		return
	}

	payload := statusPayload{
		Status:     h.engine.Status(),
		Online:     h.connectivity.IsOnline(),
		QueueDepth: depth,
		LastRun:    h.engine.LastRun(),
	}

	if at, err := h.lastSync.LastSyncAt(); err == nil && !at.IsZero() {
		payload.LastSyncAt = &at
	}

	response.OK(w, payload)
}

// TriggerSync handles POST /api/v1/sync and waits for the cycle to finish.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	run, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, run)
}

// ListQueue handles GET /api/v1/queue.
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	actions, err := h.queue.List()
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, actions)
}

// RetryAction handles POST /api/v1/queue/{id}/retry, resetting a conflicted
// action for the next drain.
func (h *SyncHandler) RetryAction(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Retry(chi.URLParam(r, "id")); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// DiscardAction handles DELETE /api/v1/queue/{id}.
func (h *SyncHandler) DiscardAction(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Discard(chi.URLParam(r, "id")); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}
