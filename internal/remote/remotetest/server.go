// Package remotetest provides an in-memory backend authority for tests. It
// serves the same REST/JSON surface the remote client consumes.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// Server is a fake backend. Records live in memory keyed by collection and id.
// Created records get ids of the form srv_<n>.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	records  map[types.EntityType]map[string]json.RawMessage
	requests []Request
	snapshot *types.Snapshot
	status   types.SyncMetadata
	fail     func(r *http.Request) int
	now      func() time.Time
}

// Request is one request the server has received.
type Request struct {
	Method         string
	Path           string
	IdempotencyKey string
	Body           json.RawMessage
}

// NewServer starts a fake backend. The caller must Close it.
func NewServer() *Server {
	s := &Server{
		records: map[types.EntityType]map[string]json.RawMessage{},
		status:  types.SyncMetadata{Status: types.SyncSuccess, Collections: map[string]*time.Time{}},
		now:     time.Now,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// FailWith makes the server answer with the returned status whenever fn
// returns a non-zero value. Pass nil to stop failing.
func (s *Server) FailWith(fn func(r *http.Request) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Seed stores records as if they had been created remotely.
func (s *Server) Seed(et types.EntityType, records ...json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		h, err := types.ParseHeader(rec)
		if err != nil {
			panic(fmt.Sprintf("remotetest: seeding %s: %v", et, err))
		}
		s.collection(et)[h.ID] = rec
	}
}

// Records returns the stored records of one collection ordered by id.
func (s *Server) Records(et types.EntityType) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(et)
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// SetStatus replaces the metadata served by /api/sync/status.
func (s *Server) SetStatus(meta types.SyncMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = meta
}

// Snapshot returns the last snapshot pushed to /api/sync/all.
func (s *Server) Snapshot() *types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Server) collection(et types.EntityType) map[string]json.RawMessage {
	c, ok := s.records[et]
	if !ok {
		c = map[string]json.RawMessage{}
		s.records[et] = c
	}
	return c
}

func (s *Server) list(et types.EntityType) []json.RawMessage {
	c := s.records[et]
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, c[id])
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && r.ContentLength > 0 {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method:         r.Method,
		Path:           r.URL.Path,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Body:           body,
	})
	if s.fail != nil {
		if code := s.fail(r); code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		http.NotFound(w, r)
		return
	}
	if parts[1] == "sync" && len(parts) == 3 {
		s.serveSync(w, r, parts[2], body)
		return
	}

	et := types.EntityType(parts[1])
	if !et.Syncable() {
		http.NotFound(w, r)
		return
	}
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.list(et))
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.nextID++
		id := fmt.Sprintf("srv_%d", s.nextID)
		rec, err := s.canonical(body, id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.collection(et)[id] = rec
		writeJSON(w, http.StatusCreated, rec)
	case len(parts) == 3 && r.Method == http.MethodPut:
		if _, ok := s.collection(et)[parts[2]]; !ok {
			http.NotFound(w, r)
			return
		}
		rec, err := s.canonical(body, parts[2])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.collection(et)[parts[2]] = rec
		writeJSON(w, http.StatusOK, rec)
	case len(parts) == 3 && r.Method == http.MethodDelete:
		if _, ok := s.collection(et)[parts[2]]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(s.collection(et), parts[2])
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveSync(w http.ResponseWriter, r *http.Request, op string, body json.RawMessage) {
	switch {
	case op == "all" && r.Method == http.MethodPost:
		var snap types.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.snapshot = &snap
		for _, et := range types.SyncableEntityTypes {
			c := map[string]json.RawMessage{}
			for _, rec := range snap.Records(et) {
				if h, err := types.ParseHeader(rec); err == nil {
					c[h.ID] = rec
				}
			}
			s.records[et] = c
		}
		now := s.now().UTC()
		s.status.LastSyncTimestamp = &now
		s.status.Status = types.SyncSuccess
		if s.status.Collections == nil {
			s.status.Collections = map[string]*time.Time{}
		}
		for _, et := range types.SyncableEntityTypes {
			s.status.Collections[string(et)] = &now
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case op == "restore" && r.Method == http.MethodGet:
		snap := types.Snapshot{
			CustomerID:   r.URL.Query().Get("customerId"),
			BusinessName: r.URL.Query().Get("businessName"),
		}
		for _, et := range types.SyncableEntityTypes {
			snap.SetRecords(et, s.list(et))
		}
		writeJSON(w, http.StatusOK, snap)
	case op == "status" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.status)
	default:
		http.NotFound(w, r)
	}
}

// canonical sets the id of body and fills missing timestamps.
func (s *Server) canonical(body json.RawMessage, id string) (json.RawMessage, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["id"] = id
	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, ok := fields["createdAt"]; !ok {
		fields["createdAt"] = now
	}
	if _, ok := fields["updatedAt"]; !ok {
		fields["updatedAt"] = now
	}
	return json.Marshal(fields)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
