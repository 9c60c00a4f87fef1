package sqlite

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStore_PutMatchReplace(t *testing.T) {
	c := setupBackend(t).CacheStorage()
	require.NoError(t, c.Open("shell-v1"))

	_, ok, err := c.Match("shell-v1", "/index.html")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put("shell-v1", CachedResponse{
		URL:    "/index.html",
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html"}},
		Body:   []byte("<html>v1</html>"),
	}))
	require.NoError(t, c.Put("shell-v1", CachedResponse{
		URL:    "/index.html",
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html"}},
		Body:   []byte("<html>v2</html>"),
	}))

	got, ok, err := c.Match("shell-v1", "/index.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<html>v2</html>", string(got.Body))
	assert.Equal(t, "text/html", got.Header.Get("Content-Type"))
	assert.False(t, got.StoredAt.IsZero())
}

func TestCacheStore_Buckets(t *testing.T) {
	c := setupBackend(t).CacheStorage()

	require.NoError(t, c.Open("tillsync-v1"))
	require.NoError(t, c.Open("tillsync-v2"))
	require.NoError(t, c.Put("tillsync-v2", CachedResponse{URL: "/a", Status: 200, Body: []byte("a")}))
	require.NoError(t, c.Open("tillsync-v1"), "opening twice is a no-op")

	names, err := c.Buckets()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tillsync-v1", "tillsync-v2"}, names)

	require.NoError(t, c.DeleteBucket("tillsync-v2"))
	names, err = c.Buckets()
	require.NoError(t, err)
	assert.Equal(t, []string{"tillsync-v1"}, names)

	_, ok, err := c.Match("tillsync-v2", "/a")
	require.NoError(t, err)
	assert.False(t, ok, "entries go with their bucket")
}

func TestCacheStore_PutIntoDeletedBucket(t *testing.T) {
	c := setupBackend(t).CacheStorage()

	err := c.Put("tillsync-v1", CachedResponse{URL: "/", Status: 200, Body: []byte("never opened")})
	require.ErrorIs(t, err, ErrBucketNotFound)

	require.NoError(t, c.Open("tillsync-v1"))
	require.NoError(t, c.Open("tillsync-v2"))
	require.NoError(t, c.DeleteBucket("tillsync-v1"))

	err = c.Put("tillsync-v1", CachedResponse{URL: "/", Status: 200, Body: []byte("late")})
	require.ErrorIs(t, err, ErrBucketNotFound)

	names, err := c.Buckets()
	require.NoError(t, err)
	assert.Equal(t, []string{"tillsync-v2"}, names, "a late write must not bring the bucket back")

	_, ok, err := c.Match("tillsync-v1", "/")
	require.NoError(t, err)
	assert.False(t, ok)
}
