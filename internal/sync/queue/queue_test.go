package queue

import (
	"context"
	stderrors "errors"
	"sort"
	"testing"
	"time"

	"github.com/geomarkapp/geomark/internal/errors"
	"github.com/geomarkapp/geomark/internal/models"
)

// memStore is an in-memory Store used to exercise the queue without SQLite.
type memStore struct {
	actions map[string]*models.PendingAction
}

func newMemStore() *memStore {
	return &memStore{actions: make(map[string]*models.PendingAction)}
}

func (s *memStore) InsertPendingAction(a *models.PendingAction) error {
	cp := *a
	s.actions[string(a.ID)] = &cp
	return nil
}

func (s *memStore) UpdatePendingAction(a *models.PendingAction) error {
	if _, ok := s.actions[string(a.ID)]; !ok {
		return stderrors.New("no such action")
	}
	cp := *a
	s.actions[string(a.ID)] = &cp
	return nil
}

func (s *memStore) DeletePendingAction(id string) error {
	if _, ok := s.actions[id]; !ok {
		return stderrors.New("no such action")
	}
	delete(s.actions, id)
	return nil
}

func (s *memStore) ListPendingActions() ([]*models.PendingAction, error) {
	out := make([]*models.PendingAction, 0, len(s.actions))
	for _, a := range s.actions {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt != out[j].EnqueuedAt {
			return out[i].EnqueuedAt < out[j].EnqueuedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) RetargetActions(targetLocalID string, serverID int64) error {
	for _, a := range s.actions {
		if string(a.TargetLocalID) == targetLocalID {
			a.TargetServerID = serverID
		}
	}
	return nil
}

func (s *memStore) CountPendingActions() (int, error) {
	n := 0
	for _, a := range s.actions {
		if a.Status != models.ActionStatusConflicted {
			n++
		}
	}
	return n, nil
}

func payload(title string) *models.ActionPayload {
	return &models.ActionPayload{Title: title, Latitude: 1, Longitude: 2}
}

// TestQueue_Enqueue verifies persistence and field assignment.
func TestQueue_Enqueue(t *testing.T) {
	store := newMemStore()
	q := New(store, nil)

	action, err := q.Enqueue(models.ActionCreate, "local-1", 0, payload("x"))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if action.ID == "" {
		t.Error("Enqueue() should assign an action id")
	}
	if action.Status != models.ActionStatusPending {
		t.Errorf("Status = %q, want pending", action.Status)
	}
	if action.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", action.MaxAttempts, DefaultMaxAttempts)
	}

	// The row must be durable before Enqueue returns.
	if len(store.actions) != 1 {
		t.Errorf("store rows = %d, want 1", len(store.actions))
	}
}

// TestQueue_Enqueue_full verifies the capacity ceiling.
func TestQueue_Enqueue_full(t *testing.T) {
	q := New(newMemStore(), &Config{MaxSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(models.ActionCreate, models.UUID(string(rune('a'+i))), 0, payload("x")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	_, err := q.Enqueue(models.ActionCreate, "c", 0, payload("x"))
	if !errors.Is(err, errors.ErrQueueFull) {
		t.Errorf("Enqueue() on full queue error = %v, want QUEUE_FULL", err)
	}
}

// TestQueue_Drain_replaysInOrder verifies FIFO replay and removal.
func TestQueue_Drain_replaysInOrder(t *testing.T) {
	q := New(newMemStore(), nil)

	q.Enqueue(models.ActionCreate, "local-1", 0, payload("first"))
	q.Enqueue(models.ActionUpdate, "local-2", 10, payload("second"))
	q.Enqueue(models.ActionDelete, "local-3", 11, nil)

	var replayed []models.ActionType
	result, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		replayed = append(replayed, a.Type)
		return &ReplayResult{}, nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	if result.Replayed != 3 {
		t.Errorf("Replayed = %d, want 3", result.Replayed)
	}
	want := []models.ActionType{models.ActionCreate, models.ActionUpdate, models.ActionDelete}
	for i, typ := range want {
		if replayed[i] != typ {
			t.Errorf("replayed[%d] = %q, want %q", i, replayed[i], typ)
		}
	}

	size, _ := q.Size()
	if size != 0 {
		t.Errorf("queue size after drain = %d, want 0", size)
	}
}

// TestQueue_Drain_retryableFailureStaysQueued verifies transient failures
// keep the action with an incremented attempt count.
func TestQueue_Drain_retryableFailureStaysQueued(t *testing.T) {
	q := New(newMemStore(), nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("x"))

	result, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		return nil, errors.New(errors.ErrNetworkUnavailable, "offline")
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}

	actions, _ := q.List()
	if len(actions) != 1 {
		t.Fatalf("queue depth = %d, want 1", len(actions))
	}
	if actions[0].AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", actions[0].AttemptCount)
	}
	if actions[0].Status != models.ActionStatusPending {
		t.Errorf("Status = %q, want pending", actions[0].Status)
	}
	if actions[0].LastError == "" {
		t.Error("LastError should record the failure")
	}
}

// TestQueue_Drain_retryCeiling verifies the third consecutive failure marks
// the action conflicted.
func TestQueue_Drain_retryCeiling(t *testing.T) {
	q := New(newMemStore(), nil)
	q.Enqueue(models.ActionUpdate, "local-1", 5, payload("x"))

	fail := func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		return nil, errors.New(errors.ErrServerError, "500")
	}

	for i := 0; i < DefaultMaxAttempts; i++ {
		if _, err := q.Drain(context.Background(), fail); err != nil {
			t.Fatalf("Drain() %d error = %v", i, err)
		}
	}

	actions, _ := q.List()
	if len(actions) != 1 {
		t.Fatalf("queue depth = %d, want 1 (conflicted entries stay listed)", len(actions))
	}
	if actions[0].Status != models.ActionStatusConflicted {
		t.Errorf("Status = %q, want conflicted after %d attempts", actions[0].Status, DefaultMaxAttempts)
	}
	if actions[0].AttemptCount != DefaultMaxAttempts {
		t.Errorf("AttemptCount = %d, want %d", actions[0].AttemptCount, DefaultMaxAttempts)
	}

	// Conflicted entries are excluded from further drains.
	called := false
	q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		called = true
		return &ReplayResult{}, nil
	})
	if called {
		t.Error("conflicted action should not be replayed")
	}
}

// TestQueue_Drain_validationRejectedImmediatelyConflicted verifies 4xx-class
// failures skip the retry ladder.
func TestQueue_Drain_validationRejectedImmediatelyConflicted(t *testing.T) {
	q := New(newMemStore(), nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("x"))

	result, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		return nil, errors.New(errors.ErrValidationRejected, "title rejected")
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Conflicted != 1 {
		t.Errorf("Conflicted = %d, want 1", result.Conflicted)
	}

	actions, _ := q.List()
	if actions[0].Status != models.ActionStatusConflicted {
		t.Errorf("Status = %q, want conflicted on first rejection", actions[0].Status)
	}
	if actions[0].AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", actions[0].AttemptCount)
	}
}

// TestQueue_Drain_failureBlocksSameTarget verifies per-target FIFO: a failed
// create blocks the queued update for the same record, while other targets
// proceed.
func TestQueue_Drain_failureBlocksSameTarget(t *testing.T) {
	q := New(newMemStore(), nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))
	q.Enqueue(models.ActionUpdate, "local-1", 0, payload("b"))
	q.Enqueue(models.ActionCreate, "local-2", 0, payload("c"))

	var attempted []models.UUID
	result, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		attempted = append(attempted, a.TargetLocalID)
		if a.TargetLocalID == "local-1" {
			return nil, errors.New(errors.ErrServerError, "500")
		}
		return &ReplayResult{ServerID: 7}, nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	if len(attempted) != 2 {
		t.Fatalf("attempted %d actions, want 2 (update for local-1 blocked)", len(attempted))
	}
	if attempted[0] != "local-1" || attempted[1] != "local-2" {
		t.Errorf("attempted = %v, want [local-1 local-2]", attempted)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
}

// TestQueue_Drain_conflictedBlocksSameTarget verifies a stuck entry holds
// back later actions for its record across drains.
func TestQueue_Drain_conflictedBlocksSameTarget(t *testing.T) {
	q := New(newMemStore(), nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))
	q.Enqueue(models.ActionUpdate, "local-1", 0, payload("b"))

	// First drain: the create is rejected and becomes conflicted; the update
	// is blocked behind it.
	q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		return nil, errors.New(errors.ErrValidationRejected, "rejected")
	})

	// Second drain: the conflicted create is skipped and must still block the
	// update, which would otherwise replay with a placeholder server id.
	var attempted int
	result, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		attempted++
		return &ReplayResult{}, nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if attempted != 0 {
		t.Errorf("attempted = %d, want 0 while the create is conflicted", attempted)
	}
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}
}

// TestQueue_Drain_retargetsLaterActions verifies that a confirmed create
// rewrites the server id on queued actions for the same record before they
// replay.
func TestQueue_Drain_retargetsLaterActions(t *testing.T) {
	store := newMemStore()
	q := New(store, nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))
	q.Enqueue(models.ActionUpdate, "local-1", 0, payload("b"))
	q.Enqueue(models.ActionDelete, "local-1", 0, nil)

	var serverIDs []int64
	_, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		serverIDs = append(serverIDs, a.TargetServerID)
		if a.Type == models.ActionCreate {
			return &ReplayResult{ServerID: 42}, nil
		}
		return &ReplayResult{}, nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	want := []int64{0, 42, 42}
	if len(serverIDs) != len(want) {
		t.Fatalf("replayed %d actions, want %d", len(serverIDs), len(want))
	}
	for i := range want {
		if serverIDs[i] != want[i] {
			t.Errorf("serverIDs[%d] = %d, want %d", i, serverIDs[i], want[i])
		}
	}
}

// TestQueue_Drain_corruptEntrySidelined verifies an unreadable payload is
// marked conflicted without aborting the drain.
func TestQueue_Drain_corruptEntrySidelined(t *testing.T) {
	store := newMemStore()
	q := New(store, nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))
	q.Enqueue(models.ActionCreate, "local-2", 0, payload("b"))

	// Corrupt the first entry's payload behind the queue's back.
	actions, _ := store.ListPendingActions()
	actions[0].Payload = []byte(`{"title": `)
	store.UpdatePendingAction(actions[0])

	var attempted []models.UUID
	result, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		attempted = append(attempted, a.TargetLocalID)
		return &ReplayResult{ServerID: 1}, nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	if result.Conflicted != 1 || result.Replayed != 1 {
		t.Errorf("result = %+v, want 1 conflicted and 1 replayed", result)
	}
	if len(attempted) != 1 {
		t.Fatalf("attempted = %v, want only the healthy entry", attempted)
	}

	remaining, _ := q.List()
	if len(remaining) != 1 || remaining[0].Status != models.ActionStatusConflicted {
		t.Errorf("corrupt entry should remain conflicted, got %+v", remaining)
	}
}

// TestQueue_Drain_resumesAfterCrash verifies rows left in_progress by an
// interrupted drain are replayed on the next pass.
func TestQueue_Drain_resumesAfterCrash(t *testing.T) {
	store := newMemStore()
	q := New(store, nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))

	// Simulate a crash mid-replay: the row is marked in_progress but was
	// never confirmed or removed.
	actions, _ := store.ListPendingActions()
	actions[0].Status = models.ActionStatusInProgress
	store.UpdatePendingAction(actions[0])

	result, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		return &ReplayResult{ServerID: 3}, nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Replayed != 1 {
		t.Errorf("Replayed = %d, want 1 (in_progress row resumed)", result.Replayed)
	}

	size, _ := q.Size()
	if size != 0 {
		t.Errorf("queue size = %d, want 0", size)
	}
}

// TestQueue_Drain_contextCancelled verifies a cancelled context stops the
// drain without losing queued work.
func TestQueue_Drain_contextCancelled(t *testing.T) {
	q := New(newMemStore(), nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Drain(ctx, func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		return &ReplayResult{}, nil
	}); err == nil {
		t.Error("Drain() with cancelled context should return an error")
	}

	size, _ := q.Size()
	if size != 1 {
		t.Errorf("queue size = %d, want 1 (work preserved)", size)
	}
}

// TestQueue_Drain_doesNotBlockEnqueue verifies user mutations keep enqueuing
// while a drain is mid-replay: the replay is parked on a channel and Enqueue
// must return before it is released. Actions enqueued mid-drain are not part
// of the running pass and stay queued for the next one.
func TestQueue_Drain_doesNotBlockEnqueue(t *testing.T) {
	q := New(newMemStore(), nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))

	started := make(chan struct{})
	release := make(chan struct{})
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
			close(started)
			<-release
			return &ReplayResult{ServerID: 1}, nil
		})
	}()
	<-started

	enqueued := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(models.ActionCreate, "local-2", 0, payload("b"))
		enqueued <- err
	}()

	select {
	case err := <-enqueued:
		if err != nil {
			t.Fatalf("Enqueue() during drain error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue() blocked while a drain was replaying")
	}

	// Manual resolution is deferred until the drain finishes.
	if err := q.Retry("any-id"); !errors.Is(err, errors.ErrSyncInProgress) {
		t.Errorf("Retry() during drain error = %v, want SYNC_IN_PROGRESS", err)
	}

	close(release)
	<-drained

	size, _ := q.Size()
	if size != 1 {
		t.Errorf("queue size after drain = %d, want 1 (mid-drain enqueue kept)", size)
	}
}

// TestQueue_Drain_singleFlight verifies only one drain runs at a time.
func TestQueue_Drain_singleFlight(t *testing.T) {
	q := New(newMemStore(), nil)
	q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))

	started := make(chan struct{})
	release := make(chan struct{})
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
			close(started)
			<-release
			return &ReplayResult{ServerID: 1}, nil
		})
	}()
	<-started

	if _, err := q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		return &ReplayResult{}, nil
	}); !errors.Is(err, errors.ErrSyncInProgress) {
		t.Errorf("overlapping Drain() error = %v, want SYNC_IN_PROGRESS", err)
	}

	close(release)
	<-drained
}

// TestQueue_RetryAndDiscard verifies manual conflict resolution.
func TestQueue_RetryAndDiscard(t *testing.T) {
	q := New(newMemStore(), nil)
	action, _ := q.Enqueue(models.ActionCreate, "local-1", 0, payload("a"))

	q.Drain(context.Background(), func(ctx context.Context, a *models.PendingAction) (*ReplayResult, error) {
		return nil, errors.New(errors.ErrValidationRejected, "rejected")
	})

	if err := q.Retry(string(action.ID)); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	actions, _ := q.List()
	if actions[0].Status != models.ActionStatusPending || actions[0].AttemptCount != 0 {
		t.Errorf("retried action = %+v, want pending with reset attempts", actions[0])
	}

	if err := q.Discard(string(action.ID)); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	actions, _ = q.List()
	if len(actions) != 0 {
		t.Errorf("queue depth after discard = %d, want 0", len(actions))
	}

	if err := q.Discard("missing"); !errors.Is(err, errors.ErrActionNotFound) {
		t.Errorf("Discard() on missing action error = %v, want ACTION_NOT_FOUND", err)
	}
}
