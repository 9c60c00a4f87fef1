package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tillsync/internal/events"
	"github.com/mesh-intelligence/tillsync/internal/reqcache"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the till UI through the request cache and sync in the background",
		Long: `Serve listens on the configured address and proxies every request to
api_base_url through the request cache: API calls go to the network first and
fall back to cached JSON, other paths are answered from the cache and
refreshed in the background. Pages connect to ` + reqcache.HubPath + ` to
receive SYNC_REQUIRED and to send SKIP_WAITING and CHECK_UPDATE.

While serving, connectivity is probed every probe_interval. Going online
triggers a sync and a SYNC_REQUIRED broadcast.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", a.cfg.Listen)
			if err != nil {
				return err
			}
			return a.withEngine(func(e *engine) error {
				return a.serve(ctx, e, ln)
			})
		},
	}
}

// serve runs the proxy on ln and the connectivity monitor until ctx is done.
func (a *app) serve(ctx context.Context, e *engine, ln net.Listener) error {
	if e.client == nil {
		ln.Close()
		return errNoRemote
	}

	origin := e.client.BaseURL()
	reg := reqcache.NewRegistration(nil, a.logger)
	worker, err := reqcache.NewWorker(a.cfg.CacheVersion, origin, e.backend.CacheStorage(),
		reqcache.WithShell(a.cfg.ShellPaths...),
		reqcache.WithAPIPrefix(apiPrefix(origin)),
		reqcache.WithWorkerLogger(a.logger),
	)
	if err != nil {
		ln.Close()
		return err
	}
	if err := reg.Register(ctx, worker); err != nil {
		ln.Close()
		return err
	}

	unsubscribe := e.bus.Subscribe(func(events.Event) {
		if err := reg.SyncEvent(reqcache.SyncTag); err != nil {
			a.logger.Warn("sync broadcast failed", "error", err)
		}
	}, events.NetworkOnline)
	defer unsubscribe()

	srv := &http.Server{Handler: reg, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	runCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		if err := e.monitor.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("connectivity monitor stopped", "error", err)
		}
	}()

	a.logger.Info("serving", "addr", ln.Addr().String(), "origin", origin, "cache_version", worker.Version())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown", "error", err)
	}
	<-monitorDone
	worker.Settle()

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// apiPrefix is the path under which the remote authority serves its API:
// the base URL's own path followed by /api/.
func apiPrefix(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "/api/"
	}
	return strings.TrimRight(u.Path, "/") + "/api/"
}
