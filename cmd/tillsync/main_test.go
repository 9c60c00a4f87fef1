package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tillsync/internal/remote/remotetest"
	"github.com/mesh-intelligence/tillsync/internal/services"
	"github.com/mesh-intelligence/tillsync/internal/sqlite"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// cliEnv is one till: a config dir and a data dir, optionally pointed at a
// fake remote authority.
type cliEnv struct {
	configDir string
	dataDir   string
	server    *remotetest.Server
}

func newCLIEnv(t *testing.T, withRemote bool) *cliEnv {
	t.Helper()
	env := &cliEnv{
		configDir: filepath.Join(t.TempDir(), "config"),
		dataDir:   filepath.Join(t.TempDir(), "data"),
	}
	if withRemote {
		env.server = remotetest.NewServer()
		t.Cleanup(env.server.Close)
		require.NoError(t, os.MkdirAll(env.configDir, 0o755))
		cfg := fmt.Sprintf("backend: sqlite\napi_base_url: %s\ncustomer_id: c1\nbusiness_name: Corner Cafe\nlog_level: error\n", env.server.URL)
		require.NoError(t, os.WriteFile(filepath.Join(env.configDir, configFileExt), []byte(cfg), 0o644))
	}
	return env
}

func (env *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(newApp(&out, &errOut))
	root.SetArgs(append([]string{"--config-dir", env.configDir, "--data-dir", env.dataDir, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func (env *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := env.run(t, args...)
	require.NoError(t, err, "tillsync %s", strings.Join(args, " "))
	return out
}

func decodeRecord(t *testing.T, out string) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rec), out)
	return rec
}

func TestVersion(t *testing.T) {
	env := newCLIEnv(t, false)
	out := env.mustRun(t, "version")
	assert.Contains(t, out, "tillsync "+version)
}

func TestInit(t *testing.T) {
	env := newCLIEnv(t, false)
	out := env.mustRun(t, "init")

	assert.Contains(t, out, "tillsync initialized")
	assert.FileExists(t, filepath.Join(env.configDir, configFileExt))
	assert.FileExists(t, filepath.Join(env.dataDir, sqlite.DatabaseFile))
}

func TestLoadConfig_DefaultFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, types.BackendSQLite, cfg.Backend)
	assert.Equal(t, types.DefaultProbeInterval, cfg.ProbeInterval)
	assert.Equal(t, types.DefaultCacheVersion, cfg.CacheVersion)
	assert.Equal(t, types.DefaultListen, cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.CompactOutbox)
	assert.Empty(t, cfg.APIBaseURL)
}

func TestLoadConfig_ReadsValues(t *testing.T) {
	dir := t.TempDir()
	yaml := `backend: sqlite
api_base_url: https://pos.example.com
probe_interval: 5s
compact_outbox: true
cache_version: v7
shell_paths:
  - /
  - /index.html
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileExt), []byte(yaml), 0o644))

	cfg, err := loadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://pos.example.com", cfg.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
	assert.True(t, cfg.CompactOutbox)
	assert.Equal(t, "v7", cfg.CacheVersion)
	assert.Equal(t, []string{"/", "/index.html"}, cfg.ShellPaths)
}

func TestInvalidConfigIsUserError(t *testing.T) {
	env := newCLIEnv(t, false)
	require.NoError(t, os.MkdirAll(env.configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.configDir, configFileExt), []byte("api_base_url: ftp://nowhere\n"), 0o644))

	_, err := env.run(t, "list", "products")
	require.ErrorIs(t, err, types.ErrAPIBaseURLInvalid)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestRecordCommands(t *testing.T) {
	env := newCLIEnv(t, false)

	created := decodeRecord(t, env.mustRun(t, "set", "products", `{"name":"Espresso","price":2.5,"stock":40,"active":true}`))
	id, _ := created["id"].(string)
	require.True(t, types.IsTemporaryID(id), "got id %q", id)

	patched := decodeRecord(t, env.mustRun(t, "set", "products", id, `{"price":2.75,"id":"ignored"}`))
	assert.Equal(t, id, patched["id"])
	assert.Equal(t, 2.75, patched["price"])
	assert.Equal(t, "Espresso", patched["name"])

	got := decodeRecord(t, env.mustRun(t, "get", "products", id))
	assert.Equal(t, 2.75, got["price"])

	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "list", "products")), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, "2\n", env.mustRun(t, "outbox", "--count"))

	out := env.mustRun(t, "delete", "products", id)
	assert.Contains(t, out, "deleted products "+id)

	_, err := env.run(t, "get", "products", id)
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, exitUserError, exitCode(err))

	assert.Equal(t, "3\n", env.mustRun(t, "outbox", "--count"))
}

func TestRecordCommands_Errors(t *testing.T) {
	env := newCLIEnv(t, false)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown collection", []string{"list", "widgets"}, types.ErrUnknownCollection},
		{"malformed json", []string{"set", "categories", "{nope"}, types.ErrInvalidData},
		{"patch of missing record", []string{"set", "categories", "srv_404", `{"name":"x"}`}, types.ErrNotFound},
		{"delete of missing record", []string{"delete", "users", "srv_404"}, types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, exitUserError, exitCode(err))
		})
	}
}

func TestSalesAliasAndSubscription(t *testing.T) {
	env := newCLIEnv(t, false)

	env.mustRun(t, "set", "sales", `{"total":3,"paymentMethod":"cash"}`)
	env.mustRun(t, "set", "subscription", `{"plan":"pro"}`)

	var sales []map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "list", "transactions")), &sales))
	assert.Len(t, sales, 1)

	// The subscription cache never reaches the outbox.
	assert.Equal(t, "1\n", env.mustRun(t, "outbox", "--count"))
}

func TestOutboxOutputModes(t *testing.T) {
	env := newCLIEnv(t, false)
	env.mustRun(t, "set", "categories", `{"name":"Drinks"}`)
	env.mustRun(t, "set", "products", `{"name":"Tea","price":2}`)

	text := env.mustRun(t, "outbox")
	assert.Contains(t, text, "ID")
	assert.Contains(t, text, "categories")
	assert.Contains(t, text, "products")

	var view struct {
		Pending int              `json:"pending"`
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "--json", "outbox", "products")), &view))
	assert.Equal(t, 1, view.Pending)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "add", view.Entries[0]["type"])

	yamlOut := env.mustRun(t, "--yaml", "outbox")
	assert.Contains(t, yamlOut, "pending: 2")
	assert.Contains(t, yamlOut, "entityType: categories")

	_, err := env.run(t, "--json", "--yaml", "outbox")
	require.ErrorIs(t, err, errBadOutputMode)
}

func TestCheckout(t *testing.T) {
	env := newCLIEnv(t, false)
	p := decodeRecord(t, env.mustRun(t, "set", "products", `{"name":"Bagel","price":3,"stock":5,"active":true}`))
	id := p["id"].(string)

	tx := decodeRecord(t, env.mustRun(t, "checkout", "--item", id+":2", "--tax", "0.5"))
	assert.Equal(t, 6.5, tx["total"])

	after := decodeRecord(t, env.mustRun(t, "get", "products", id))
	assert.Equal(t, float64(3), after["stock"])

	_, err := env.run(t, "checkout", "--item", id+":9")
	require.ErrorIs(t, err, services.ErrInsufficientStock)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = env.run(t, "checkout")
	require.ErrorIs(t, err, services.ErrEmptyCart)
}

func TestParseCartLines(t *testing.T) {
	lines, err := parseCartLines([]string{"srv_1", "srv_2:3", "srv_3:-1"})
	require.NoError(t, err)
	assert.Equal(t, []services.CartLine{
		{ProductID: "srv_1", Quantity: 1},
		{ProductID: "srv_2", Quantity: 3},
		{ProductID: "srv_3", Quantity: -1},
	}, lines)

	_, err = parseCartLines([]string{"srv_1:two"})
	assert.ErrorIs(t, err, services.ErrInvalidQuantity)

	_, err = parseCartLines([]string{":2"})
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

func TestRemoteCommandsNeedRemote(t *testing.T) {
	env := newCLIEnv(t, false)
	for _, cmd := range []string{"sync", "push", "restore", "serve"} {
		t.Run(cmd, func(t *testing.T) {
			args := []string{cmd}
			if cmd == "serve" {
				require.NoError(t, os.MkdirAll(env.configDir, 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(env.configDir, configFileExt), []byte("listen: 127.0.0.1:0\n"), 0o644))
			}
			_, err := env.run(t, args...)
			require.ErrorIs(t, err, errNoRemote)
			assert.Equal(t, exitUserError, exitCode(err))
		})
	}

	out := env.mustRun(t, "status")
	assert.Contains(t, out, "remote:  not configured")
}

func TestSyncAgainstRemote(t *testing.T) {
	env := newCLIEnv(t, true)
	created := decodeRecord(t, env.mustRun(t, "set", "products", `{"name":"Scone","price":2,"stock":12}`))
	tempID := created["id"].(string)

	var report struct {
		Drains []struct {
			EntityType string            `json:"entityType"`
			Synced     int               `json:"synced"`
			Adopted    map[string]string `json:"adopted"`
		} `json:"drains"`
		Pending int `json:"pending"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "--json", "sync")), &report))
	assert.Equal(t, 0, report.Pending)

	var adopted string
	for _, d := range report.Drains {
		if d.EntityType == string(types.EntityProducts) {
			assert.Equal(t, 1, d.Synced)
			adopted = d.Adopted[tempID]
		}
	}
	assert.Equal(t, "srv_1", adopted)

	got := decodeRecord(t, env.mustRun(t, "get", "products", "srv_1"))
	assert.Equal(t, "Scone", got["name"])
	_, err := env.run(t, "get", "products", tempID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	text := env.mustRun(t, "sync")
	assert.Contains(t, text, "pending: 0")
}

func TestPushRestoreStatus(t *testing.T) {
	env := newCLIEnv(t, true)
	env.mustRun(t, "set", "categories", `{"name":"Bakery"}`)
	env.mustRun(t, "set", "users", `{"username":"ana","role":"cashier"}`)

	out := env.mustRun(t, "push")
	assert.Contains(t, out, "pushed 1 categories")
	assert.Contains(t, out, "pushed 1 users")
	assert.Contains(t, out, "pushed 0 products")

	status := env.mustRun(t, "--yaml", "status")
	assert.Contains(t, status, "pending: 2")
	assert.Contains(t, status, "status: success")

	env.server.Seed(types.EntityProducts, json.RawMessage(`{"id":"srv_9","name":"Rye","price":4,"stock":1,"createdAt":"2026-03-01T09:00:00Z","updatedAt":"2026-03-01T09:00:00Z"}`))
	out = env.mustRun(t, "restore")
	assert.Contains(t, out, "restored 1 products")

	got := decodeRecord(t, env.mustRun(t, "get", "products", "srv_9"))
	assert.Equal(t, "Rye", got["name"])
}

func TestBackupExportImport(t *testing.T) {
	env := newCLIEnv(t, false)
	cat := decodeRecord(t, env.mustRun(t, "set", "categories", `{"name":"Pastry"}`))
	backupDir := t.TempDir()

	env.mustRun(t, "backup", "export", backupDir)
	assert.FileExists(t, filepath.Join(backupDir, types.CollectionCategories+".jsonl"))

	env.mustRun(t, "delete", "categories", cat["id"].(string))
	out := env.mustRun(t, "backup", "import", backupDir)
	assert.Contains(t, out, "imported 1 categories")

	got := decodeRecord(t, env.mustRun(t, "get", "categories", cat["id"].(string)))
	assert.Equal(t, "Pastry", got["name"])
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"not found", &types.NotFoundError{Collection: "products", ID: "x"}, exitUserError},
		{"wrapped remote missing", fmt.Errorf("sync: %w", errNoRemote), exitUserError},
		{"usage", &usageError{err: errors.New(`unknown command "frob" for "tillsync"`)}, exitUserError},
		{"message mentioning a flag", &types.NetworkError{Method: "GET", URL: "http://x", Err: errors.New("feature flag off")}, exitSysError},
		{"message mentioning args", errors.New("reading arg(s) file: permission denied"), exitSysError},
		{"store failure", &types.StoreError{Op: "put", Collection: "products", Err: errors.New("disk full")}, exitSysError},
		{"network", &types.NetworkError{Method: "GET", URL: "http://x", Err: errors.New("refused")}, exitSysError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRejectedCommandLines(t *testing.T) {
	env := newCLIEnv(t, false)
	for name, args := range map[string][]string{
		"unknown command": {"frob"},
		"unknown flag":    {"list", "products", "--frob"},
		"missing args":    {"get", "products"},
		"extra args":      {"version", "now"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.run(t, args...)
			require.Error(t, err)
			assert.Equal(t, exitUserError, exitCode(err))
		})
	}
}

func TestAPIPrefix(t *testing.T) {
	assert.Equal(t, "/api/", apiPrefix("http://till.local:8080"))
	assert.Equal(t, "/api/", apiPrefix("http://till.local/"))
	assert.Equal(t, "/pos/api/", apiPrefix("https://example.com/pos/"))
}

func TestServe(t *testing.T) {
	env := newCLIEnv(t, true)
	env.server.Seed(types.EntityCategories, json.RawMessage(`{"id":"srv_5","name":"Drinks","createdAt":"2026-03-01T09:00:00Z","updatedAt":"2026-03-01T09:00:00Z"}`))

	var logs bytes.Buffer
	a := newApp(io.Discard, &logs)
	a.flagConfigDir = env.configDir
	a.flagDataDir = env.dataDir
	require.NoError(t, a.setup())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.withEngine(func(e *engine) error { return a.serve(ctx, e, ln) })
	}()

	url := "http://" + ln.Addr().String() + "/api/categories"
	var body []byte
	require.Eventually(t, func() bool {
		res, err := http.Get(url)
		if err != nil {
			return false
		}
		defer res.Body.Close()
		body, _ = io.ReadAll(res.Body)
		return res.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, string(body), `"srv_5"`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
