package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tillsync/internal/remote"
	"github.com/mesh-intelligence/tillsync/internal/remote/remotetest"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

func newClient(t *testing.T) (*remote.Client, *remotetest.Server) {
	t.Helper()
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	c, err := remote.NewClient(srv.URL)
	require.NoError(t, err)
	return c, srv
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "/api", "ftp://x", "http://"} {
		_, err := remote.NewClient(raw)
		assert.ErrorIs(t, err, types.ErrAPIBaseURLInvalid, raw)
	}
}

func TestClient_CRUD(t *testing.T) {
	ctx := context.Background()
	c, srv := newClient(t)

	created, err := c.Create(ctx, types.EntityProducts, json.RawMessage(`{"name":"Tea","price":2.5}`), "local_1_abc")
	require.NoError(t, err)
	h, err := types.ParseHeader(created)
	require.NoError(t, err)
	assert.Equal(t, "srv_1", h.ID)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/api/products", reqs[0].Path)
	assert.Equal(t, "local_1_abc", reqs[0].IdempotencyKey)

	_, err = c.Update(ctx, types.EntityProducts, "srv_1", json.RawMessage(`{"id":"srv_1","name":"Green Tea"}`))
	require.NoError(t, err)

	list, err := c.List(ctx, types.EntityProducts)
	require.NoError(t, err)
	require.Len(t, list, 1)
	p, err := types.Decode[types.Product](list[0])
	require.NoError(t, err)
	assert.Equal(t, "Green Tea", p.Name)

	require.NoError(t, c.Delete(ctx, types.EntityProducts, "srv_1"))
	list, err = c.List(ctx, types.EntityProducts)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClient_NonSuccessIsNetworkError(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)

	err := c.Delete(ctx, types.EntityUsers, "srv_404")
	require.Error(t, err)

	var ne *types.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusNotFound, ne.StatusCode)
	assert.Equal(t, http.MethodDelete, ne.Method)
}

func TestClient_TransportFailureIsNetworkError(t *testing.T) {
	srv := remotetest.NewServer()
	c, err := remote.NewClient(srv.URL)
	require.NoError(t, err)
	srv.Close()

	_, err = c.List(context.Background(), types.EntityCategories)
	var ne *types.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Zero(t, ne.StatusCode, "no response was received")
}

func TestClient_HTTPClientTimeout(t *testing.T) {
	srv := remotetest.NewServer()
	release := make(chan struct{})
	srv.FailWith(func(*http.Request) int {
		<-release
		return 0
	})
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := remote.NewClient(srv.URL+"/", remote.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)
	assert.Equal(t, srv.URL, c.BaseURL(), "trailing slash is trimmed")

	_, err = c.List(context.Background(), types.EntityProducts)
	var ne *types.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Zero(t, ne.StatusCode)
}

func TestClient_SnapshotRestoreStatus(t *testing.T) {
	ctx := context.Background()
	c, srv := newClient(t)

	snap := types.Snapshot{CustomerID: "c1", BusinessName: "Corner Shop"}
	snap.SetRecords(types.EntityCategories, []json.RawMessage{json.RawMessage(`{"id":"cat1","name":"Drinks"}`)})
	require.NoError(t, c.PushSnapshot(ctx, snap))

	pushed := srv.Snapshot()
	require.NotNil(t, pushed)
	assert.Equal(t, "c1", pushed.CustomerID)

	restored, err := c.Restore(ctx, "c1", "Corner Shop")
	require.NoError(t, err)
	assert.Equal(t, "Corner Shop", restored.BusinessName)
	require.Len(t, restored.Categories, 1)
	assert.Empty(t, restored.Products)

	meta, err := c.Status(ctx, "c1", "Corner Shop")
	require.NoError(t, err)
	assert.Equal(t, types.SyncSuccess, meta.Status)
	require.NotNil(t, meta.LastSyncTimestamp)
	assert.WithinDuration(t, time.Now(), *meta.LastSyncTimestamp, time.Minute)
}
