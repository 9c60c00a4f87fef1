// Package events is the typed notification channel of the sync engine.
// Services, the sync coordinator and the network monitor publish to a Bus;
// the CLI and the request-cache hub subscribe.
package events

import (
	"sync"
	"time"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// Kind identifies an event.
type Kind string

// Event kinds.
const (
	RecordCreated  Kind = "record.created"
	RecordUpdated  Kind = "record.updated"
	RecordDeleted  Kind = "record.deleted"
	MutationQueued Kind = "outbox.queued"
	EntrySynced    Kind = "outbox.synced"
	EntryFailed    Kind = "outbox.failed"
	SyncStarted    Kind = "sync.started"
	SyncCompleted  Kind = "sync.completed"
	SyncFailed     Kind = "sync.failed"
	NetworkOnline  Kind = "network.online"
	NetworkOffline Kind = "network.offline"
)

// Event is one notification. Fields that do not apply to a kind are zero.
type Event struct {
	Kind       Kind
	EntityType types.EntityType
	RecordID   string
	EntryID    int64
	Op         types.OpType
	// Pending is the outbox size after the event, or -1 when unknown.
	Pending int
	Err     error
	At      time.Time
}

// Handler receives events. Handlers run on the publishing goroutine and must
// not block.
type Handler func(Event)

type subscription struct {
	handler Handler
	kinds   map[Kind]bool
}

// Bus fans events out to subscribers. The zero value is not usable; a nil
// *Bus accepts Publish calls and drops them.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: map[int]subscription{}, now: time.Now}
}

// Subscribe registers h for the given kinds, or for every kind when none are
// given. The returned func removes the subscription.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) (unsubscribe func()) {
	sub := subscription{handler: h}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Chan subscribes a buffered channel. Events that do not fit in the buffer
// are dropped. The channel is never closed; stop reading after unsubscribe.
func (b *Bus) Chan(size int, kinds ...Kind) (<-chan Event, func()) {
	ch := make(chan Event, size)
	unsub := b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}, kinds...)
	return ch, unsub
}

// Publish delivers e to every matching subscriber. At is filled when zero.
// A panicking handler does not stop delivery to the others.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.kinds == nil || sub.kinds[e.Kind] {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(e)
		}()
	}
}
