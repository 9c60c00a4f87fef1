// Package netmon tracks whether the backend is reachable. Going from
// offline to online starts a sync; going offline only flips the state.
package netmon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mesh-intelligence/tillsync/internal/events"
	"github.com/mesh-intelligence/tillsync/internal/syncer"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// State is the connectivity state.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Syncer is what the monitor starts on reconnect. syncer.Coordinator
// implements it.
type Syncer interface {
	Sync(ctx context.Context) (syncer.Report, error)
	Pending() (int, error)
}

// Prober reports whether the backend answered. A true result is best effort:
// a later request may still fail and is then handled as a sync failure.
type Prober func(ctx context.Context) bool

// HTTPProbe returns a Prober that GETs url and treats any response below 500
// as reachable.
func HTTPProbe(client *http.Client, url string) Prober {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		res, err := client.Do(req)
		if err != nil {
			return false
		}
		res.Body.Close()
		return res.StatusCode < http.StatusInternalServerError
	}
}

// Monitor is the two-state connectivity machine.
type Monitor struct {
	mu      sync.Mutex
	state   State
	syncCtx context.Context

	syncer   Syncer
	probe    Prober
	interval time.Duration
	bus      *events.Bus
	logger   *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSyncer sets what runs on reconnect and on periodic checks.
func WithSyncer(s Syncer) Option {
	return func(m *Monitor) { m.syncer = s }
}

// WithProbe sets the reachability check used by Run and Check.
func WithProbe(p Prober, interval time.Duration) Option {
	return func(m *Monitor) {
		m.probe = p
		m.interval = interval
	}
}

// WithEvents publishes network events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{state: Offline, syncCtx: context.Background(), interval: types.DefaultProbeInterval}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the state is Online.
func (m *Monitor) Online() bool {
	return m.State() == Online
}

// Set moves the machine to online or offline. Offline to online starts a
// sync in the background; every other transition only changes the state.
// It reports whether the state changed.
func (m *Monitor) Set(online bool) bool {
	next := Offline
	if online {
		next = Online
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	ctx := m.syncCtx
	m.mu.Unlock()

	if prev == next {
		return false
	}
	m.logger.Info("connectivity changed", "state", next)
	if next == Online {
		m.bus.Publish(events.Event{Kind: events.NetworkOnline, Pending: -1})
		m.startSync(ctx, "reconnect")
	} else {
		m.bus.Publish(events.Event{Kind: events.NetworkOffline, Pending: -1})
	}
	return true
}

// Check probes once and applies the result. When already online with
// queued entries, it starts another sync so failed entries are retried.
func (m *Monitor) Check(ctx context.Context) {
	if m.probe == nil {
		return
	}
	online := m.probe(ctx)
	if m.Set(online) || !online || m.syncer == nil {
		return
	}
	pending, err := m.syncer.Pending()
	if err != nil {
		m.logger.Warn("reading outbox size", "error", err)
		return
	}
	if pending > 0 {
		m.startSync(ctx, "retry")
	}
}

// Run probes immediately and then every interval until ctx is done. Syncs
// started while Run is active use ctx. Run waits for them before returning.
func (m *Monitor) Run(ctx context.Context) error {
	if m.probe == nil {
		return errors.New("netmon: no probe configured")
	}
	interval := m.interval
	if interval <= 0 {
		interval = types.DefaultProbeInterval
	}

	m.mu.Lock()
	m.syncCtx = ctx
	m.mu.Unlock()
	defer m.wg.Wait()

	m.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Wait blocks until every sync the monitor started has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) startSync(ctx context.Context, reason string) {
	if m.syncer == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, err := m.syncer.Sync(ctx)
		switch {
		case errors.Is(err, types.ErrSyncInProgress):
			m.logger.Debug("sync already running", "reason", reason)
		case err != nil:
			m.logger.Warn("sync failed", "reason", reason, "error", err)
		}
	}()
}
