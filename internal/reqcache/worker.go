// Package reqcache is the request-caching layer. A Worker intercepts HTTP
// GETs to its origin: API paths go network first, everything else is served
// from a versioned cache bucket and refreshed in the background. A
// Registration manages worker versions and talks to pages over a websocket
// hub.
package reqcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/tillsync/internal/sqlite"
)

// BucketPrefix starts every bucket name; the version follows it.
const BucketPrefix = "tillsync-"

// Header set on responses built by the worker rather than the network.
const (
	HeaderSource = "X-Tillsync-Source"
	SourceCache  = "cache"
	SourceWorker = "worker"
)

// Storage holds cache buckets. sqlite.CacheStore implements it.
type Storage interface {
	Open(bucket string) error
	Buckets() ([]string, error)
	DeleteBucket(bucket string) error
	Put(bucket string, resp sqlite.CachedResponse) error
	Match(bucket, url string) (sqlite.CachedResponse, bool, error)
}

// State is a worker's lifecycle stage.
type State string

const (
	StateNew       State = "new"
	StateInstalled State = "installed"
	StateActivated State = "activated"
	StateRedundant State = "redundant"
)

// Worker caches responses for one origin under one version.
type Worker struct {
	version   string
	origin    *url.URL
	shell     []string
	apiPrefix string
	storage   Storage
	network   http.RoundTripper
	logger    *slog.Logger

	mu    sync.Mutex
	state State

	refreshes sync.WaitGroup
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithShell sets the paths pre-cached by Install.
func WithShell(paths ...string) WorkerOption {
	return func(w *Worker) { w.shell = paths }
}

// WithNetwork sets the transport used to reach the origin.
// The default is http.DefaultTransport.
func WithNetwork(rt http.RoundTripper) WorkerOption {
	return func(w *Worker) { w.network = rt }
}

// WithAPIPrefix sets the path prefix routed network first. The default is /api/.
func WithAPIPrefix(prefix string) WorkerOption {
	return func(w *Worker) { w.apiPrefix = prefix }
}

// WithWorkerLogger sets the logger. Nil means slog.Default().
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a worker for origin (scheme and host) at version.
func NewWorker(version, origin string, storage Storage, opts ...WorkerOption) (*Worker, error) {
	if version == "" {
		return nil, errors.New("reqcache: empty version")
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("reqcache: invalid origin %q", origin)
	}
	w := &Worker{
		version:   version,
		origin:    &url.URL{Scheme: u.Scheme, Host: u.Host},
		apiPrefix: "/api/",
		storage:   storage,
		network:   http.DefaultTransport,
		state:     StateNew,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("cache_version", version)
	return w, nil
}

// Version returns the worker's version.
func (w *Worker) Version() string { return w.version }

// Bucket returns the name of the worker's cache bucket.
func (w *Worker) Bucket() string { return BucketPrefix + w.version }

// Origin returns the origin the worker serves.
func (w *Worker) Origin() *url.URL { return w.origin }

// State returns the lifecycle stage.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Install fetches every shell path into the bucket. Any failure fails the
// install and the worker stays new.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.storage.Open(w.Bucket()); err != nil {
		return fmt.Errorf("opening %s: %w", w.Bucket(), err)
	}
	for _, p := range w.shell {
		target := w.origin.ResolveReference(&url.URL{Path: p})
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}
		res, err := w.network.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("pre-caching %s: %w", p, err)
		}
		if !ok2xx(res.StatusCode) {
			res.Body.Close()
			return fmt.Errorf("pre-caching %s: status %d", p, res.StatusCode)
		}
		if _, err := w.store(req, res); err != nil {
			return fmt.Errorf("pre-caching %s: %w", p, err)
		}
	}
	w.setState(StateInstalled)
	w.logger.Info("worker installed", "shell", len(w.shell))
	return nil
}

// Activate deletes every bucket of another version.
func (w *Worker) Activate(ctx context.Context) error {
	names, err := w.storage.Buckets()
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == w.Bucket() {
			continue
		}
		if err := w.storage.DeleteBucket(name); err != nil {
			return fmt.Errorf("deleting %s: %w", name, err)
		}
		w.logger.Info("deleted stale cache", "bucket", name)
	}
	w.setState(StateActivated)
	return nil
}

// RoundTrip routes one request. Only same-origin GETs are handled; every
// other request goes to the network untouched and is never cached.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || !w.sameOrigin(req.URL) {
		return w.network.RoundTrip(req)
	}
	if strings.HasPrefix(req.URL.Path, w.apiPrefix) {
		return w.networkFirst(req)
	}
	return w.staleWhileRevalidate(req)
}

// Settle waits for background refreshes started by RoundTrip.
func (w *Worker) Settle() {
	w.refreshes.Wait()
}

func (w *Worker) networkFirst(req *http.Request) (*http.Response, error) {
	res, err := w.network.RoundTrip(req)
	if err == nil {
		if !ok2xx(res.StatusCode) {
			return res, nil
		}
		return w.store(req, res)
	}

	cached, ok := w.match(req)
	if ok && jsonContainer(cached.Body) {
		w.logger.Debug("serving cached api response", "url", cacheKey(req.URL), "error", err)
		return cachedResponse(req, cached), nil
	}
	return synthesize(req, http.StatusServiceUnavailable, "offline and no cached data"), nil
}

func (w *Worker) staleWhileRevalidate(req *http.Request) (*http.Response, error) {
	if cached, ok := w.match(req); ok {
		w.refresh(req)
		return cachedResponse(req, cached), nil
	}

	res, err := w.network.RoundTrip(req)
	if err != nil {
		return synthesize(req, http.StatusRequestTimeout, "offline and not cached"), nil
	}
	if !ok2xx(res.StatusCode) {
		return res, nil
	}
	return w.store(req, res)
}

// refresh refetches req in the background and stores a 2xx answer. The
// caller's cancellation does not stop it.
func (w *Worker) refresh(req *http.Request) {
	bg := req.Clone(context.WithoutCancel(req.Context()))
	w.refreshes.Add(1)
	go func() {
		defer w.refreshes.Done()
		res, err := w.network.RoundTrip(bg)
		if err != nil {
			w.logger.Debug("background refresh failed", "url", cacheKey(bg.URL), "error", err)
			return
		}
		if !ok2xx(res.StatusCode) {
			res.Body.Close()
			return
		}
		fresh, err := w.store(bg, res)
		if err != nil {
			w.logger.Warn("background refresh not stored", "url", cacheKey(bg.URL), "error", err)
			return
		}
		fresh.Body.Close()
	}()
}

// store reads res fully, caches it, and returns an equivalent response with
// a fresh body.
func (w *Worker) store(req *http.Request, res *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	entry := sqlite.CachedResponse{
		URL:      cacheKey(req.URL),
		Status:   res.StatusCode,
		Header:   res.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}
	switch err := w.put(entry); {
	case errors.Is(err, sqlite.ErrBucketNotFound):
		w.logger.Debug("cache write dropped, bucket gone", "url", entry.URL)
	case err != nil:
		w.logger.Warn("cache write failed", "url", entry.URL, "error", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return res, nil
}

// put writes entry unless the worker has been replaced. A redundant worker's
// bucket is deleted, or about to be, and must stay that way.
func (w *Worker) put(entry sqlite.CachedResponse) error {
	if w.State() == StateRedundant {
		return sqlite.ErrBucketNotFound
	}
	return w.storage.Put(w.Bucket(), entry)
}

func (w *Worker) match(req *http.Request) (sqlite.CachedResponse, bool) {
	cached, ok, err := w.storage.Match(w.Bucket(), cacheKey(req.URL))
	if err != nil {
		w.logger.Warn("cache read failed", "url", cacheKey(req.URL), "error", err)
		return cached, false
	}
	return cached, ok
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, w.origin.Scheme) && strings.EqualFold(u.Host, w.origin.Host)
}

func cacheKey(u *url.URL) string {
	return u.RequestURI()
}

func ok2xx(code int) bool {
	return code >= 200 && code < 300
}

// jsonContainer reports whether body parses as a JSON array or object.
func jsonContainer(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '[' && trimmed[0] != '{') {
		return false
	}
	return json.Valid(trimmed)
}

func cachedResponse(req *http.Request, c sqlite.CachedResponse) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderSource, SourceCache)
	return newResponse(req, c.Status, header, c.Body)
}

func synthesize(req *http.Request, status int, reason string) *http.Response {
	body, _ := json.Marshal(map[string]string{"error": reason})
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderSource, SourceWorker)
	return newResponse(req, status, header, body)
}

func newResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
