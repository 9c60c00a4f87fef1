package services

import (
	"time"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// Connectivity reports whether the backend is believed reachable.
// netmon.Monitor implements it.
type Connectivity interface {
	Online() bool
}

// Outcome is what a WriteStrategy did with a mutation.
type Outcome struct {
	// Entry is the queued outbox entry, nil when nothing was queued.
	Entry *types.OutboxEntry
	// Pending is the outbox size after queueing, or -1 when not queried.
	Pending int
}

// WriteStrategy runs after every successful local write. It never touches
// the network; the outbox is the only place a mutation can go.
type WriteStrategy interface {
	Name() string
	AfterWrite(m types.Mutation) (Outcome, error)
}

// Direct is the online strategy: writes stay local and a later full sync
// reconciles them.
type Direct struct{}

func (Direct) Name() string { return "online" }

func (Direct) AfterWrite(types.Mutation) (Outcome, error) {
	return Outcome{Pending: -1}, nil
}

// Queue is the offline strategy: every mutation is appended to the outbox.
type Queue struct {
	Outbox types.Outbox
	Now    func() time.Time
}

func (q Queue) Name() string { return "offline" }

func (q Queue) AfterWrite(m types.Mutation) (Outcome, error) {
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	entry, err := q.Outbox.Append(m, now().UTC())
	if err != nil {
		return Outcome{}, err
	}
	pending, err := q.Outbox.Count()
	if err != nil {
		pending = -1
	}
	return Outcome{Entry: &entry, Pending: pending}, nil
}

// ByConnectivity picks Online or Offline on every write from the current
// connectivity state.
type ByConnectivity struct {
	Monitor Connectivity
	Online  WriteStrategy
	Offline WriteStrategy
}

func (s ByConnectivity) current() WriteStrategy {
	if s.Monitor.Online() {
		return s.Online
	}
	return s.Offline
}

func (s ByConnectivity) Name() string { return s.current().Name() }

func (s ByConnectivity) AfterWrite(m types.Mutation) (Outcome, error) {
	return s.current().AfterWrite(m)
}

// NewStrategy composes the standard selector: Direct while online, Queue
// onto outbox while offline.
func NewStrategy(monitor Connectivity, outbox types.Outbox) WriteStrategy {
	return ByConnectivity{
		Monitor: monitor,
		Online:  Direct{},
		Offline: Queue{Outbox: outbox},
	}
}
