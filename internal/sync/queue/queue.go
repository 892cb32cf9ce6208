// Package queue provides the durable pending-action queue for offline
// mutations. Every queue mutation is persisted before it returns, so a
// process restart mid-drain resumes from exactly the unconfirmed remainder.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/geomarkapp/geomark/internal/errors"
	"github.com/geomarkapp/geomark/internal/logging"
	"github.com/geomarkapp/geomark/internal/models"
	"github.com/geomarkapp/geomark/internal/uuid"
)

// DefaultMaxAttempts is the retry ceiling before an action is marked
// conflicted and excluded from automatic drains.
const DefaultMaxAttempts = 3

// Store is the durable backing for queue rows.
type Store interface {
	InsertPendingAction(a *models.PendingAction) error
	UpdatePendingAction(a *models.PendingAction) error
	DeletePendingAction(id string) error
	ListPendingActions() ([]*models.PendingAction, error)
	RetargetActions(targetLocalID string, serverID int64) error
	CountPendingActions() (int, error)
}

// ReplayResult carries the outcome of one successfully replayed action.
// ServerID is set for create actions once the server assigns an id.
type ReplayResult struct {
	ServerID int64
}

// ReplayFunc replays one action against the remote API.
type ReplayFunc func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error)

// Queue manages pending mutations with per-target FIFO ordering. The mutex
// covers queue bookkeeping only; it is never held across a replay, so
// Enqueue stays available for the whole duration of a drain.
type Queue struct {
	store       Store
	mu          sync.Mutex
	draining    bool
	maxSize     int
	maxAttempts int
}

// Config holds queue tuning knobs.
type Config struct {
	MaxSize     int
	MaxAttempts int
}

// New creates a Queue over a durable store.
func New(store Store, cfg *Config) *Queue {
	q := &Queue{
		store:       store,
		maxSize:     1000,
		maxAttempts: DefaultMaxAttempts,
	}
	if cfg != nil {
		if cfg.MaxSize > 0 {
			q.maxSize = cfg.MaxSize
		}
		if cfg.MaxAttempts > 0 {
			q.maxAttempts = cfg.MaxAttempts
		}
	}
	return q
}

// Enqueue appends a mutation to the queue and persists it before returning.
func (q *Queue) Enqueue(actionType models.ActionType, targetLocalID models.UUID, targetServerID int64, payload *models.ActionPayload) (*models.PendingAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count, err := q.store.CountPendingActions()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to read queue depth", err)
	}
	if count >= q.maxSize {
		return nil, errors.New(errors.ErrQueueFull,
			fmt.Sprintf("queue is full (max size: %d)", q.maxSize))
	}

	raw, err := models.EncodePayload(payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode payload", err)
	}

	action := &models.PendingAction{
		ID:             models.UUID(uuid.New()),
		Type:           actionType,
		TargetLocalID:  targetLocalID,
		TargetServerID: targetServerID,
		Payload:        raw,
		EnqueuedAt:     time.Now().UnixNano(),
		AttemptCount:   0,
		MaxAttempts:    q.maxAttempts,
		Status:         models.ActionStatusPending,
	}

	if err := q.store.InsertPendingAction(action); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to persist action", err)
	}

	logging.Info("Enqueued pending action",
		map[string]interface{}{
			"action_id": action.ID,
			"type":      action.Type,
			"target":    action.TargetLocalID,
		})

	return action, nil
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Replayed   int
	Failed     int
	Conflicted int
	Skipped    int
}

// Drain replays queued actions in enqueue order. Successful actions are
// removed; retryable failures stay queued with an incremented attempt count;
// actions that hit the retry ceiling or a validation rejection are marked
// conflicted. Actions for a target whose earlier action failed are not
// attempted in the same pass, preserving per-target FIFO order. A second
// drain after a partial failure picks up exactly where the first left off.
//
// Only one drain runs at a time, but the drain works on a snapshot and does
// not hold the queue mutex across replays: user mutations keep enqueuing
// concurrently and land in the next pass.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (*DrainResult, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "drain already in progress")
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	actions, err := q.store.ListPendingActions()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load queue", err)
	}

	result := &DrainResult{}
	blocked := make(map[models.UUID]bool)

	for _, action := range actions {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if action.Status == models.ActionStatusConflicted {
			// A stuck action also blocks later actions for its record;
			// replaying them out of order could ship a placeholder id.
			blocked[action.TargetLocalID] = true
			result.Skipped++
			continue
		}

		if blocked[action.TargetLocalID] {
			result.Skipped++
			continue
		}

		// A row still marked in_progress was left by a crashed drain and was
		// never confirmed, so it is replayed like any pending entry.

		if corrupt := q.checkPayload(action); corrupt != nil {
			logging.ErrorWithCode("Skipping unreadable queue entry",
				string(errors.ErrQueueCorrupt), corrupt,
				map[string]interface{}{"action_id": action.ID})
			q.markConflicted(action, corrupt)
			blocked[action.TargetLocalID] = true
			result.Conflicted++
			continue
		}

		action.Status = models.ActionStatusInProgress
		if err := q.store.UpdatePendingAction(action); err != nil {
			return result, errors.Wrap(errors.ErrDatabase, "failed to mark action in progress", err)
		}

		res, replayErr := replay(ctx, action)
		if replayErr == nil {
			if err := q.store.DeletePendingAction(string(action.ID)); err != nil {
				return result, errors.Wrap(errors.ErrDatabase, "failed to remove confirmed action", err)
			}
			result.Replayed++

			// Id rebinding: later queued actions for the same record must
			// carry the server-assigned id before they replay.
			if action.Type == models.ActionCreate && res != nil && res.ServerID > 0 {
				if err := q.retarget(actions, action.TargetLocalID, res.ServerID); err != nil {
					return result, err
				}
			}
			continue
		}

		action.AttemptCount++
		action.LastError = replayErr.Error()

		switch {
		case !errors.Retryable(replayErr):
			action.Status = models.ActionStatusConflicted
			result.Conflicted++
			logging.ErrorWithCode("Action rejected, needs manual resolution",
				string(errors.CodeOf(replayErr)), replayErr,
				map[string]interface{}{"action_id": action.ID, "type": action.Type})
		case action.AttemptCount >= action.MaxAttempts:
			action.Status = models.ActionStatusConflicted
			result.Conflicted++
			logging.ErrorWithCode("Action exhausted retries",
				string(errors.ErrSyncFailed), replayErr,
				map[string]interface{}{
					"action_id": action.ID,
					"attempts":  action.AttemptCount,
				})
		default:
			action.Status = models.ActionStatusPending
			result.Failed++
			logging.Warn("Action replay failed, will retry",
				map[string]interface{}{
					"action_id": action.ID,
					"attempt":   action.AttemptCount,
					"error":     replayErr.Error(),
				})
		}

		if err := q.store.UpdatePendingAction(action); err != nil {
			return result, errors.Wrap(errors.ErrDatabase, "failed to record failure", err)
		}

		blocked[action.TargetLocalID] = true
	}

	return result, nil
}

// checkPayload verifies that an action's payload snapshot deserializes.
// Delete actions carry no meaningful snapshot and are always readable.
func (q *Queue) checkPayload(action *models.PendingAction) error {
	if action.Type == models.ActionDelete {
		return nil
	}
	if _, err := models.DecodePayload(action.Payload); err != nil {
		return err
	}
	return nil
}

// markConflicted sidelines an unreadable entry without aborting the drain.
func (q *Queue) markConflicted(action *models.PendingAction, cause error) {
	action.Status = models.ActionStatusConflicted
	action.LastError = cause.Error()
	if err := q.store.UpdatePendingAction(action); err != nil {
		logging.Error("Failed to sideline corrupt action", err,
			map[string]interface{}{"action_id": action.ID})
	}
}

// retarget rewrites the server id on every remaining action for a local
// record, both durably and in the in-memory snapshot the drain is walking.
func (q *Queue) retarget(actions []*models.PendingAction, localID models.UUID, serverID int64) error {
	if err := q.store.RetargetActions(string(localID), serverID); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to retarget actions", err)
	}
	for _, a := range actions {
		if a.TargetLocalID == localID {
			a.TargetServerID = serverID
		}
	}
	return nil
}

// Size returns the number of actions eligible for the next drain.
func (q *Queue) Size() (int, error) {
	return q.store.CountPendingActions()
}

// List returns every queued action in enqueue order, conflicted included.
func (q *Queue) List() ([]*models.PendingAction, error) {
	return q.store.ListPendingActions()
}

// Retry resets a conflicted action so the next drain attempts it again.
// It fails with SYNC_IN_PROGRESS while a drain is replaying.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining {
		return errors.New(errors.ErrSyncInProgress, "queue drain in progress")
	}

	action, err := q.find(id)
	if err != nil {
		return err
	}

	action.Status = models.ActionStatusPending
	action.AttemptCount = 0
	action.LastError = ""

	if err := q.store.UpdatePendingAction(action); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to reset action", err)
	}

	logging.Info("Action reset for retry", map[string]interface{}{"action_id": id})
	return nil
}

// Discard removes an action from the queue without replaying it.
// It fails with SYNC_IN_PROGRESS while a drain is replaying.
func (q *Queue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining {
		return errors.New(errors.ErrSyncInProgress, "queue drain in progress")
	}

	if _, err := q.find(id); err != nil {
		return err
	}

	if err := q.store.DeletePendingAction(id); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to discard action", err)
	}

	logging.Info("Action discarded", map[string]interface{}{"action_id": id})
	return nil
}

func (q *Queue) find(id string) (*models.PendingAction, error) {
	actions, err := q.store.ListPendingActions()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load queue", err)
	}
	for _, a := range actions {
		if string(a.ID) == id {
			return a, nil
		}
	}
	return nil, errors.New(errors.ErrActionNotFound, fmt.Sprintf("action %s not found", id))
}
