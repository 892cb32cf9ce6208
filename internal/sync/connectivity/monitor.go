// Package connectivity observes network reachability for the sync engine.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/geomarkapp/geomark/internal/logging"
)

// Prober answers whether the remote endpoint is currently reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Config holds probe tuning knobs.
type Config struct {
	ProbeInterval time.Duration // how often to probe (default: 15s)
	ProbeTimeout  time.Duration // per-probe deadline (default: 5s)
	Debounce      time.Duration // how long the link must stay up before an online transition is published (default: 10s)
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		Debounce:      10 * time.Second,
	}
}

// Monitor tracks reachability and publishes offline-to-online transitions.
// Brief drops are debounced: a transition to online is only reported after
// the link has stayed up for the configured window, so the orchestrator is
// not triggered on every blip.
type Monitor struct {
	prober Prober
	config *Config

	mu          sync.RWMutex
	online      bool
	upSince     time.Time
	reportedUp  bool
	subscribers []chan bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewMonitor creates a Monitor. The initial state is offline until the first
// successful probe.
func NewMonitor(prober Prober, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Monitor{
		prober: prober,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins the probing loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Stop halts the probing loop, waits for it to finish, and closes every
// subscriber channel so consumers ranging over Subscribe() exit.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	m.mu.Unlock()
}

// IsOnline returns the current debounced reachability state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online && m.reportedUp
}

// Subscribe returns a channel receiving reachability transitions: true for a
// debounced offline-to-online transition, false when the link drops.
func (m *Monitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 4)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// SetOnline feeds an externally observed reachability state, for platforms
// that push a signal instead of being probed, and for tests. It goes through
// the same debounce as probe results.
func (m *Monitor) SetOnline(up bool) {
	m.observe(up)
}

// probeLoop probes the endpoint on an interval.
func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	// Probe immediately so startup does not wait a full interval.
	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	err := m.prober.Ping(probeCtx)
	m.observe(err == nil)
}

// observe applies one reachability sample to the debounced state machine.
func (m *Monitor) observe(up bool) {
	m.mu.Lock()

	now := time.Now()
	var publish *bool

	if up {
		if !m.online {
			m.online = true
			m.upSince = now
		}
		if !m.reportedUp && now.Sub(m.upSince) >= m.config.Debounce {
			m.reportedUp = true
			t := true
			publish = &t
		}
	} else {
		wasReported := m.reportedUp
		m.online = false
		m.reportedUp = false
		m.upSince = time.Time{}
		if wasReported {
			f := false
			publish = &f
		}
	}

	if publish == nil {
		m.mu.Unlock()
		return
	}

	// Deliver under the lock so Stop cannot close a channel mid-send. The
	// sends never block: a slow subscriber drops the sample instead of
	// stalling the probe loop.
	for _, ch := range m.subscribers {
		select {
		case ch <- *publish:
		default:
		}
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{"online": *publish})
}
