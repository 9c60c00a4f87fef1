// Package syncer replays the outbox against the backend authority and
// reconciles local collections with the authoritative remote state.
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mesh-intelligence/tillsync/internal/events"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// Remote is the backend authority. remote.Client implements it.
type Remote interface {
	Create(ctx context.Context, et types.EntityType, body json.RawMessage, idempotencyKey string) (json.RawMessage, error)
	Update(ctx context.Context, et types.EntityType, id string, body json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, et types.EntityType, id string) error
	List(ctx context.Context, et types.EntityType) ([]json.RawMessage, error)
	PushSnapshot(ctx context.Context, snap types.Snapshot) error
	Restore(ctx context.Context, customerID, businessName string) (types.Snapshot, error)
	Status(ctx context.Context, customerID, businessName string) (types.SyncMetadata, error)
}

// replacer is implemented by stores that can swap a whole collection in one
// transaction. sqlite.Backend does.
type replacer interface {
	ReplaceAll(collection string, records []json.RawMessage) error
}

// Coordinator drives synchronization. Drain and Reconcile may be called
// directly and are not guarded against overlap; Sync refuses to run twice
// at once.
type Coordinator struct {
	store  types.LocalStore
	outbox types.Outbox
	remote Remote

	bus          *events.Bus
	logger       *slog.Logger
	compact      bool
	customerID   string
	businessName string
	now          func() time.Time

	running atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithEvents publishes sync and outbox events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithCompaction drops every queued entry of a never-synced record that has
// a queued delete before each drain.
func WithCompaction(enabled bool) Option {
	return func(c *Coordinator) { c.compact = enabled }
}

// WithCustomer sets the identity sent with the bulk sync endpoints.
func WithCustomer(customerID, businessName string) Option {
	return func(c *Coordinator) {
		c.customerID = customerID
		c.businessName = businessName
	}
}

// New creates a Coordinator.
func New(store types.LocalStore, outbox types.Outbox, remote Remote, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		outbox: outbox,
		remote: remote,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Running reports whether a Sync is in progress.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Pending returns the number of queued outbox entries.
func (c *Coordinator) Pending() (int, error) {
	return c.outbox.Count()
}

// Report summarizes one Sync.
type Report struct {
	Started    time.Time         `json:"started" yaml:"started"`
	Finished   time.Time         `json:"finished" yaml:"finished"`
	Drains     []DrainResult     `json:"drains" yaml:"drains"`
	Reconciles []ReconcileResult `json:"reconciles" yaml:"reconciles"`
	// Pending is the outbox size when the sync ended.
	Pending int `json:"pending" yaml:"pending"`
}

// Sync drains and then reconciles every syncable entity type, referenced
// types first. Entry failures are logged and counted; Sync fails only when
// a phase as a whole fails, and then returns a *types.SyncError naming it.
// Returns types.ErrSyncInProgress if another Sync is running.
func (c *Coordinator) Sync(ctx context.Context) (Report, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Report{}, types.ErrSyncInProgress
	}
	defer c.running.Store(false)

	report := Report{Started: c.now()}
	c.bus.Publish(events.Event{Kind: events.SyncStarted, Pending: -1})
	c.logger.Info("sync started")

	err := c.syncAll(ctx, &report)

	report.Finished = c.now()
	report.Pending = -1
	if n, cerr := c.outbox.Count(); cerr == nil {
		report.Pending = n
	}
	if err != nil {
		c.logger.Error("sync failed", "error", err, "pending", report.Pending)
		c.bus.Publish(events.Event{Kind: events.SyncFailed, Err: err, Pending: report.Pending})
		return report, err
	}
	c.logger.Info("sync completed", "pending", report.Pending, "duration", report.Finished.Sub(report.Started))
	c.bus.Publish(events.Event{Kind: events.SyncCompleted, Pending: report.Pending})
	return report, nil
}

func (c *Coordinator) syncAll(ctx context.Context, report *Report) error {
	for _, et := range types.SyncableEntityTypes {
		dr, err := c.Drain(ctx, et)
		report.Drains = append(report.Drains, dr)
		if err != nil {
			return err
		}
		rr, err := c.Reconcile(ctx, et)
		report.Reconciles = append(report.Reconciles, rr)
		if err != nil {
			return err
		}
	}
	return nil
}
