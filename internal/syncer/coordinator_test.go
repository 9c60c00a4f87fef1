package syncer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tillsync/internal/events"
	"github.com/mesh-intelligence/tillsync/internal/remote"
	"github.com/mesh-intelligence/tillsync/internal/remote/remotetest"
	"github.com/mesh-intelligence/tillsync/internal/services"
	"github.com/mesh-intelligence/tillsync/internal/sqlite"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

type offline struct{ online atomic.Bool }

func (o *offline) Online() bool { return o.online.Load() }

type fixture struct {
	backend *sqlite.Backend
	server  *remotetest.Server
	client  *remote.Client
	svc     *services.Services
	net     *offline
	bus     *events.Bus
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })

	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	client, err := remote.NewClient(srv.URL)
	require.NoError(t, err)

	f := &fixture{
		backend: b,
		server:  srv,
		client:  client,
		net:     &offline{},
		bus:     events.NewBus(),
		clock:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = services.New(b, services.NewStrategy(f.net, b.Outbox()), services.WithClock(f.tick))
	return f
}

func (f *fixture) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fixture) coordinator(opts ...Option) *Coordinator {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithEvents(f.bus)}, opts...)
	return New(f.backend, f.backend.Outbox(), f.client, opts...)
}

func (f *fixture) local(t *testing.T, et types.EntityType) []json.RawMessage {
	t.Helper()
	recs, err := f.backend.GetAll(et.Collection())
	require.NoError(t, err)
	return recs
}

func (f *fixture) pending(t *testing.T) []types.OutboxEntry {
	t.Helper()
	all, err := f.backend.Outbox().All()
	require.NoError(t, err)
	return all
}

func idOf(t *testing.T, body json.RawMessage) string {
	t.Helper()
	h, err := types.ParseHeader(body)
	require.NoError(t, err)
	return h.ID
}

func TestSync_OfflineCreateIsReplacedByServerRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1, err := f.svc.Products.Create(types.Product{Name: "P1", Price: 4, Stock: 2})
	require.NoError(t, err)
	require.True(t, types.IsTemporaryID(p1.ID))
	require.Len(t, f.pending(t), 1)

	f.net.online.Store(true)
	c := f.coordinator()
	dr, err := c.Drain(ctx, types.EntityProducts)
	require.NoError(t, err)
	assert.Equal(t, 1, dr.Synced)
	assert.Equal(t, map[string]string{p1.ID: "srv_1"}, dr.Adopted)
	assert.Empty(t, f.pending(t))

	reqs := f.server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, p1.ID, reqs[0].IdempotencyKey)
	var posted map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &posted))
	assert.NotContains(t, posted, "id", "temporary id is stripped before POST")
	assert.Equal(t, "P1", posted["name"])

	_, err = c.Reconcile(ctx, types.EntityProducts)
	require.NoError(t, err)

	local := f.local(t, types.EntityProducts)
	require.Len(t, local, 1, "the temporary copy is gone")
	assert.Equal(t, "srv_1", idOf(t, local[0]))
	_, err = f.svc.Products.Get(p1.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDrain_ReplayMatchesLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.server.Seed(types.EntityProducts,
		json.RawMessage(`{"id":"srv_100","name":"Old","price":1,"stock":1,"active":true,"createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}`))

	// Bring the seeded record down while online.
	c := f.coordinator()
	_, err := c.Reconcile(ctx, types.EntityProducts)
	require.NoError(t, err)

	a, err := f.svc.Products.Create(types.Product{Name: "A", Price: 1, Stock: 5})
	require.NoError(t, err)
	b, err := f.svc.Products.Create(types.Product{Name: "B", Price: 2})
	require.NoError(t, err)
	_, err = f.svc.Products.Create(types.Product{Name: "C", Price: 3})
	require.NoError(t, err)
	_, err = f.svc.Products.Update(a.ID, func(p *types.Product) error { p.Price = 1.5; return nil })
	require.NoError(t, err)
	require.NoError(t, f.svc.Products.Delete(b.ID))
	_, err = f.svc.Products.Update("srv_100", func(p *types.Product) error { p.Name = "Renamed"; return nil })
	require.NoError(t, err)
	_, err = f.svc.Products.Update(a.ID, func(p *types.Product) error { p.Stock = 4; return nil })
	require.NoError(t, err)
	require.Len(t, f.pending(t), 7)

	dr, err := c.Drain(ctx, types.EntityProducts)
	require.NoError(t, err)
	assert.Zero(t, dr.Failed)
	assert.Empty(t, f.pending(t))

	local := f.local(t, types.EntityProducts)
	remoteRecs := f.server.Records(types.EntityProducts)
	require.Len(t, remoteRecs, len(local))
	byID := map[string]json.RawMessage{}
	for _, rec := range remoteRecs {
		byID[idOf(t, rec)] = rec
	}
	for _, rec := range local {
		id := idOf(t, rec)
		assert.False(t, types.IsTemporaryID(id))
		require.Contains(t, byID, id)
		assert.True(t, sameJSON(rec, byID[id]), "local %s\nremote %s", rec, byID[id])
	}
}

func TestReconcile_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.server.Seed(types.EntityCategories,
		json.RawMessage(`{"id":"srv_1","name":"Drinks","updatedAt":"2026-01-01T00:00:00Z"}`),
		json.RawMessage(`{"id":"srv_2","name":"Food","updatedAt":"2026-01-02T00:00:00Z"}`))
	c := f.coordinator()

	first, err := c.Reconcile(ctx, types.EntityCategories)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	before := f.local(t, types.EntityCategories)

	second, err := c.Reconcile(ctx, types.EntityCategories)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{EntityType: types.EntityCategories}, second)
	assert.Equal(t, before, f.local(t, types.EntityCategories))
}

func TestReconcile_LastWriterWins(t *testing.T) {
	t1 := "2026-02-01T10:00:00Z"
	t2 := "2026-02-01T11:00:00Z"
	tests := []struct {
		name      string
		localAt   string
		remoteAt  string
		wantName  string
		wantCount func(r ReconcileResult) int
	}{
		{"remote newer", t1, t2, "remote", func(r ReconcileResult) int { return r.Updated }},
		{"local newer", t2, t1, "local", func(r ReconcileResult) int { return r.KeptLocal }},
		{"tie goes to remote", t1, t1, "remote", func(r ReconcileResult) int { return r.Updated }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.backend.Put(types.CollectionUsers,
				json.RawMessage(`{"id":"srv_7","username":"local","updatedAt":"`+tt.localAt+`"}`)))
			f.server.Seed(types.EntityUsers,
				json.RawMessage(`{"id":"srv_7","username":"remote","updatedAt":"`+tt.remoteAt+`"}`))

			r, err := f.coordinator().Reconcile(context.Background(), types.EntityUsers)
			require.NoError(t, err)
			assert.Equal(t, 1, tt.wantCount(r))

			u, err := f.svc.Users.Get("srv_7")
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, u.Username)
		})
	}
}

func TestReconcile_ServerIsAuthoritativeForConfirmedIDs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.backend.Put(types.CollectionSettings, json.RawMessage(`{"id":"srv_gone","key":"a"}`)))
	temp, err := f.svc.Settings.Create(types.Setting{Key: "b"})
	require.NoError(t, err)

	r, err := f.coordinator().Reconcile(context.Background(), types.EntitySettings)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Removed)

	local := f.local(t, types.EntitySettings)
	require.Len(t, local, 1)
	assert.Equal(t, temp.ID, idOf(t, local[0]), "temporary records are untouched")
}

func TestSync_FullCycle(t *testing.T) {
	f := newFixture(t)
	cat, err := f.svc.Categories.Create(types.Category{Name: "Drinks"})
	require.NoError(t, err)
	_, err = f.svc.Products.Create(types.Product{Name: "Tea", CategoryID: cat.ID, Stock: 3})
	require.NoError(t, err)
	_, err = f.svc.Transactions.Create(types.Transaction{Total: 5, Status: types.TransactionCompleted})
	require.NoError(t, err)

	var completed []events.Event
	f.bus.Subscribe(func(e events.Event) { completed = append(completed, e) }, events.SyncCompleted)

	report, err := f.coordinator().Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Pending)
	assert.Len(t, report.Drains, len(types.SyncableEntityTypes))
	assert.Len(t, report.Reconciles, len(types.SyncableEntityTypes))

	assert.Len(t, f.server.Records(types.EntityCategories), 1)
	assert.Len(t, f.server.Records(types.EntityProducts), 1)
	assert.Len(t, f.server.Records(types.EntityTransactions), 1)
	sales := f.local(t, types.EntityTransactions)
	require.Len(t, sales, 1)
	assert.False(t, types.IsTemporaryID(idOf(t, sales[0])))

	require.Len(t, completed, 1)
	assert.Zero(t, completed[0].Pending)
}
