// Package scheduler decides when sync cycles run: at startup, on a periodic
// timer while online, and when connectivity comes back.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/geomarkapp/geomark/internal/errors"
	"github.com/geomarkapp/geomark/internal/logging"
	"github.com/geomarkapp/geomark/internal/models"
)

// SyncEngine is the orchestrator surface the scheduler drives.
type SyncEngine interface {
	Sync(ctx context.Context) (*models.SyncRun, error)
}

// ConnectivitySource feeds reachability state and transitions.
type ConnectivitySource interface {
	IsOnline() bool
	Subscribe() <-chan bool
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval time.Duration // how often to sync while online (default: 5 minutes)
	SyncTimeout  time.Duration // per-cycle deadline (default: 5 minutes)
	SyncOnStart  bool          // run a cycle immediately on Start
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		SyncTimeout:  5 * time.Minute,
		SyncOnStart:  true,
	}
}

// Scheduler triggers sync cycles. Mutual exclusion between overlapping
// triggers is the engine's job; the scheduler only decides when to ask.
type Scheduler struct {
	engine       SyncEngine
	connectivity ConnectivitySource
	config       *Config

	mu           sync.RWMutex
	isRunning    bool
	lastSyncTime time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(engine SyncEngine, connectivity ConnectivitySource, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:       engine,
		connectivity: connectivity,
		config:       config,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the trigger loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicLoop(ctx)
	go s.connectivityLoop(ctx)

	if s.config.SyncOnStart {
		go s.runSync(ctx, "startup")
	}

	logging.Info("Sync scheduler started",
		map[string]interface{}{"interval": s.config.SyncInterval.String()})
}

// Stop halts the trigger loops and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// IsRunning returns whether the scheduler loops are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// LastSyncTime returns when the last scheduler-triggered cycle completed.
func (s *Scheduler) LastSyncTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime
}

// SyncNow runs a cycle immediately and waits for it to finish.
func (s *Scheduler) SyncNow(ctx context.Context) (*models.SyncRun, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
	defer cancel()

	run, err := s.engine.Sync(syncCtx)
	if err != nil {
		return run, err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	return run, nil
}

// periodicLoop fires a cycle every interval while online.
func (s *Scheduler) periodicLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.connectivity.IsOnline() {
				logging.Debug("Skipping periodic sync, offline", nil)
				continue
			}
			s.runSync(ctx, "periodic")
		}
	}
}

// connectivityLoop fires a cycle on each debounced offline-to-online
// transition, so queued work drains as soon as the link is back.
func (s *Scheduler) connectivityLoop(ctx context.Context) {
	defer s.wg.Done()

	transitions := s.connectivity.Subscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case online, ok := <-transitions:
			if !ok {
				return
			}
			if online {
				s.runSync(ctx, "connectivity_restored")
			}
		}
	}
}

// runSync executes one cycle for a named trigger. Overlap with a concurrent
// cycle surfaces as a sync-in-progress error and is ignored.
func (s *Scheduler) runSync(ctx context.Context, trigger string) {
	syncCtx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			logging.Debug("Sync already in progress, skipping trigger",
				map[string]interface{}{"trigger": trigger})
			return
		}
		logging.ErrorWithCode("Triggered sync failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"trigger": trigger})
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Triggered sync completed",
		map[string]interface{}{
			"trigger":   trigger,
			"pushed":    result.Pushed,
			"pulled":    result.Pulled,
			"conflicts": result.Conflicts,
		})
}
