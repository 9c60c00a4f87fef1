package reqcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
)

// HubPath is where pages open the message websocket.
const HubPath = "/__tillsync/ws"

// Registration tracks the active worker and at most one waiting worker, and
// answers page messages. It serves HTTP as a caching proxy in front of the
// active worker's origin.
type Registration struct {
	mu      sync.Mutex
	active  *Worker
	waiting *Worker

	// lifecycle serializes Register and SkipWaiting. Activation deletes
	// every other bucket, so it must never overlap an install.
	lifecycle sync.Mutex

	network http.RoundTripper
	hub     *Hub
	logger  *slog.Logger
}

// NewRegistration creates an empty registration. network carries requests
// while no worker is active; nil means http.DefaultTransport.
func NewRegistration(network http.RoundTripper, logger *slog.Logger) *Registration {
	if network == nil {
		network = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registration{network: network, logger: logger}
	r.hub = NewHub(r, logger)
	return r
}

// Hub returns the page message hub.
func (r *Registration) Hub() *Hub { return r.hub }

// Active returns the active worker, or nil.
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the installed worker waiting to take over, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Register installs w. With no active worker, w activates at once;
// otherwise it waits for SkipWaiting. A worker with the active version is
// ignored. A newer waiting worker replaces an older one.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	if r.active != nil && r.active.Version() == w.Version() {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := w.Install(ctx); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("installing %s: %w", w.Version(), err)
	}

	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return r.activate(ctx, w)
	}
	if r.waiting != nil {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = w
	r.mu.Unlock()
	r.logger.Info("worker waiting", "version", w.Version())
	return nil
}

// SkipWaiting activates the waiting worker immediately. It is a no-op when
// nothing is waiting.
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	w := r.waiting
	r.waiting = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return r.activate(ctx, w)
}

// activate deletes stale buckets and makes w the worker for every request
// from now on, including those of pages that were already open.
func (r *Registration) activate(ctx context.Context, w *Worker) error {
	if err := w.Activate(ctx); err != nil {
		return fmt.Errorf("activating %s: %w", w.Version(), err)
	}
	r.mu.Lock()
	prev := r.active
	r.active = w
	r.mu.Unlock()
	if prev != nil {
		prev.setState(StateRedundant)
		prev.Settle()
	}
	r.logger.Info("worker activated", "version", w.Version())
	return nil
}

// HandleMessage answers one page message.
func (r *Registration) HandleMessage(msg Message) (*Message, error) {
	switch msg.Type {
	case MsgSkipWaiting:
		if err := r.SkipWaiting(context.Background()); err != nil {
			return nil, err
		}
		return nil, nil
	case MsgCheckUpdate:
		w := r.Active()
		if w == nil {
			return nil, ErrNoWorker
		}
		return &Message{Type: MsgVersion, Version: w.Version()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// SyncEvent handles a background-sync event. The sync-pending-operations tag
// asks every open page to sync; nothing else is done here.
func (r *Registration) SyncEvent(tag string) error {
	if tag != SyncTag {
		return fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	r.hub.Broadcast(Message{Type: MsgSyncRequired})
	return nil
}

// RoundTrip sends req through the active worker.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if w := r.Active(); w != nil {
		return w.RoundTrip(req)
	}
	return r.network.RoundTrip(req)
}

// ServeHTTP proxies the request to the active worker's origin through
// RoundTrip. HubPath is served by the message hub.
func (r *Registration) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.URL.Path == HubPath {
		r.hub.ServeHTTP(rw, req)
		return
	}
	w := r.Active()
	if w == nil {
		http.Error(rw, ErrNoWorker.Error(), http.StatusServiceUnavailable)
		return
	}

	target := w.Origin().ResolveReference(&url.URL{Path: req.URL.Path, RawQuery: req.URL.RawQuery})
	out, err := http.NewRequestWithContext(req.Context(), req.Method, target.String(), req.Body)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	out.Header = req.Header.Clone()
	out.ContentLength = req.ContentLength

	res, err := r.RoundTrip(out)
	if err != nil {
		r.logger.Debug("proxy request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		http.Error(rw, err.Error(), http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	for k, vs := range res.Header {
		for _, v := range vs {
			rw.Header().Add(k, v)
		}
	}
	rw.WriteHeader(res.StatusCode)
	if _, err := io.Copy(rw, res.Body); err != nil {
		r.logger.Debug("proxy copy failed", "path", req.URL.Path, "error", err)
	}
}
