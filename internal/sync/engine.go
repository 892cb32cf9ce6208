// Package sync coordinates the local landmark store, the pending-action
// queue, and the remote API into one reconciliation engine.
package sync

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync"
	"time"

	"github.com/geomarkapp/geomark/internal/db"
	"github.com/geomarkapp/geomark/internal/errors"
	"github.com/geomarkapp/geomark/internal/events"
	"github.com/geomarkapp/geomark/internal/logging"
	"github.com/geomarkapp/geomark/internal/models"
	"github.com/geomarkapp/geomark/internal/sync/queue"
	"github.com/geomarkapp/geomark/internal/sync/remote"
)

// RemoteAPI is the remote client surface the engine replays against.
type RemoteAPI interface {
	List(ctx context.Context) ([]remote.Landmark, error)
	Create(ctx context.Context, p *models.ActionPayload) (int64, error)
	Update(ctx context.Context, id int64, p *models.ActionPayload) error
	Delete(ctx context.Context, id int64) error
}

// OnlineChecker reports current debounced reachability.
type OnlineChecker interface {
	IsOnline() bool
}

// Notifier publishes sync lifecycle events for UI consumers.
type Notifier interface {
	Publish(eventType string, data map[string]interface{})
}

type noopNotifier struct{}

func (noopNotifier) Publish(string, map[string]interface{}) {}

// Engine is the single authority for deciding when local and remote state
// reconcile, and in what order. Only one sync cycle runs at a time; user
// mutations keep enqueuing concurrently and are picked up by the next drain.
type Engine struct {
	repo     *db.Repository
	queue    *queue.Queue
	remote   RemoteAPI
	online   OnlineChecker
	notifier Notifier

	mu      sync.Mutex
	syncing bool
	status  models.SyncStatus
	lastRun *models.SyncRun
}

// NewEngine creates an Engine. A nil notifier disables event publication.
func NewEngine(repo *db.Repository, q *queue.Queue, api RemoteAPI, online OnlineChecker, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{
		repo:     repo,
		queue:    q,
		remote:   api,
		online:   online,
		notifier: notifier,
		status:   models.SyncStatusIdle,
	}
}

// Status returns the current orchestrator status.
func (e *Engine) Status() models.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastRun returns the result of the most recent sync cycle, or nil.
func (e *Engine) LastRun() *models.SyncRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

// Sync performs one full cycle: push the pending queue, pull the remote
// list, reconcile it into the local store, and persist the sync timestamp.
// A pull failure never rolls back push progress; the queue keeps exactly the
// unconfirmed work remaining.
func (e *Engine) Sync(ctx context.Context) (*models.SyncRun, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	if !e.online.IsOnline() {
		e.status = models.SyncStatusFailed
		e.lastRun = &models.SyncRun{Status: models.SyncStatusFailed, Reason: "offline"}
		e.mu.Unlock()
		return nil, errors.New(errors.ErrNetworkUnavailable, "offline")
	}
	e.syncing = true
	e.status = models.SyncStatusSyncing
	e.mu.Unlock()

	run := &models.SyncRun{
		Status:    models.SyncStatusSyncing,
		StartTime: time.Now(),
	}

	e.notifier.Publish(events.EventSyncStarted, nil)

	var syncErr error
	defer func() {
		run.EndTime = time.Now()
		run.Duration = run.EndTime.Sub(run.StartTime)

		e.mu.Lock()
		e.syncing = false
		if syncErr != nil {
			run.Status = models.SyncStatusFailed
			if run.Reason == "" {
				run.Reason = syncErr.Error()
			}
			e.status = models.SyncStatusFailed
		} else {
			run.Status = models.SyncStatusCompleted
			e.status = models.SyncStatusCompleted
		}
		e.lastRun = run
		e.mu.Unlock()

		if syncErr != nil {
			e.notifier.Publish(events.EventSyncFailed,
				map[string]interface{}{"reason": run.Reason})
		} else {
			e.notifier.Publish(events.EventSyncCompleted,
				map[string]interface{}{
					"pushed":    run.Pushed,
					"pulled":    run.Pulled,
					"conflicts": run.Conflicts,
				})
		}
	}()

	// Push phase
	drain, err := e.queue.Drain(ctx, e.replay)
	if drain != nil {
		run.Pushed = drain.Replayed
		run.Conflicts = drain.Conflicted
	}
	if err != nil {
		syncErr = errors.Wrap(errors.ErrSyncFailed, "push phase failed", err)
		return run, syncErr
	}

	if err := e.settleSyncStates(); err != nil {
		logging.Error("Failed to settle sync states", err)
	}

	// Pull phase
	records, err := e.remote.List(ctx)
	if err != nil {
		syncErr = errors.Wrap(errors.ErrSyncFailed, "pull phase failed", err)
		return run, syncErr
	}

	// Reconciliation
	pulled, err := e.reconcile(records)
	run.Pulled = pulled
	if err != nil {
		syncErr = errors.Wrap(errors.ErrSyncFailed, "reconciliation failed", err)
		return run, syncErr
	}

	if err := e.repo.SetLastSyncAt(time.Now()); err != nil {
		logging.Error("Failed to persist sync timestamp", err)
	}

	logging.Info("Sync cycle completed",
		map[string]interface{}{
			"pushed":    run.Pushed,
			"pulled":    run.Pulled,
			"conflicts": run.Conflicts,
		})

	return run, nil
}

// replay sends one queued action to the remote API. For creates, the
// server-assigned id is rebound onto the originating landmark row; the queue
// retargets any later actions for the same record.
func (e *Engine) replay(ctx context.Context, action *models.PendingAction) (*queue.ReplayResult, error) {
	switch action.Type {
	case models.ActionCreate:
		payload, err := models.DecodePayload(action.Payload)
		if err != nil {
			return nil, errors.Wrap(errors.ErrQueueCorrupt, "unreadable create payload", err)
		}
		serverID, err := e.remote.Create(ctx, payload)
		if err != nil {
			return nil, err
		}
		if err := e.repo.RebindServerID(string(action.TargetLocalID), serverID); err != nil {
			// The row may be gone when a local delete is queued behind the
			// create; the delete replays next and needs only the id.
			if !stderrors.Is(err, sql.ErrNoRows) {
				logging.Error("Failed to rebind server id", err,
					map[string]interface{}{"local_id": action.TargetLocalID})
			}
		}
		return &queue.ReplayResult{ServerID: serverID}, nil

	case models.ActionUpdate:
		if action.TargetServerID == 0 {
			return nil, errors.New(errors.ErrInternal, "update queued without a server id")
		}
		payload, err := models.DecodePayload(action.Payload)
		if err != nil {
			return nil, errors.Wrap(errors.ErrQueueCorrupt, "unreadable update payload", err)
		}
		if err := e.remote.Update(ctx, action.TargetServerID, payload); err != nil {
			return nil, err
		}
		return &queue.ReplayResult{}, nil

	case models.ActionDelete:
		// A record that never reached the server has nothing to delete
		// remotely; confirming the action locally is the whole job.
		if action.TargetServerID == 0 {
			return &queue.ReplayResult{}, nil
		}
		if err := e.remote.Delete(ctx, action.TargetServerID); err != nil {
			return nil, err
		}
		return &queue.ReplayResult{}, nil

	default:
		return nil, errors.New(errors.ErrQueueCorrupt, "unknown action type "+string(action.Type))
	}
}

// settleSyncStates re-derives landmark sync states after a drain: records
// with a conflicted action become conflicted, dirty records with no
// outstanding actions become clean.
func (e *Engine) settleSyncStates() error {
	actions, err := e.queue.List()
	if err != nil {
		return err
	}

	outstanding := make(map[models.UUID]bool)
	conflicted := make(map[models.UUID]bool)
	for _, a := range actions {
		if a.Status == models.ActionStatusConflicted {
			conflicted[a.TargetLocalID] = true
		} else {
			outstanding[a.TargetLocalID] = true
		}
	}

	landmarks, err := e.repo.ListLandmarks()
	if err != nil {
		return err
	}

	for _, l := range landmarks {
		switch {
		case conflicted[l.LocalID] && l.SyncState != models.SyncStateConflicted:
			if err := e.repo.SetSyncState(string(l.LocalID), models.SyncStateConflicted); err != nil {
				return err
			}
		case !conflicted[l.LocalID] && !outstanding[l.LocalID] && l.SyncState == models.SyncStateDirty:
			if err := e.repo.SetSyncState(string(l.LocalID), models.SyncStateClean); err != nil {
				return err
			}
		}
	}

	return nil
}

// reconcile merges the authoritative remote list into the local store.
// Unknown remote records are inserted; clean locals are overwritten with
// remote fields; dirty locals keep the pending local change until its queued
// action confirms (last-local-write-wins). Clean locals absent from the
// remote list are removed.
func (e *Engine) reconcile(records []remote.Landmark) (int, error) {
	pulled := 0
	seen := make(map[int64]bool, len(records))

	for _, rec := range records {
		if rec.ID <= 0 {
			continue
		}
		seen[rec.ID] = true

		local, err := e.repo.GetLandmarkByServerID(rec.ID)
		if stderrors.Is(err, sql.ErrNoRows) {
			landmark := &models.Landmark{
				ServerID:  rec.ID,
				Title:     rec.Title,
				Latitude:  rec.Latitude,
				Longitude: rec.Longitude,
				ImageURL:  rec.ImageURL,
				SyncState: models.SyncStateClean,
			}
			if err := e.repo.CreateLandmark(landmark); err != nil {
				return pulled, err
			}
			pulled++
			continue
		}
		if err != nil {
			return pulled, err
		}

		if local.SyncState != models.SyncStateClean {
			// A pending local change outranks stale remote data.
			continue
		}

		if local.Title != rec.Title || local.Latitude != rec.Latitude ||
			local.Longitude != rec.Longitude || local.ImageURL != rec.ImageURL {
			local.Title = rec.Title
			local.Latitude = rec.Latitude
			local.Longitude = rec.Longitude
			local.ImageURL = rec.ImageURL
			if err := e.repo.UpdateLandmark(local); err != nil {
				return pulled, err
			}
			pulled++
		}
	}

	// The server is authoritative for clean records: drop the ones it no
	// longer lists.
	landmarks, err := e.repo.ListLandmarks()
	if err != nil {
		return pulled, err
	}
	for _, l := range landmarks {
		if l.ServerID > 0 && !seen[l.ServerID] && l.SyncState == models.SyncStateClean {
			if err := e.repo.DeleteLandmark(string(l.LocalID)); err != nil {
				return pulled, err
			}
		}
	}

	return pulled, nil
}
