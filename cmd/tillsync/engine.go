package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mesh-intelligence/tillsync/internal/events"
	"github.com/mesh-intelligence/tillsync/internal/netmon"
	"github.com/mesh-intelligence/tillsync/internal/remote"
	"github.com/mesh-intelligence/tillsync/internal/services"
	"github.com/mesh-intelligence/tillsync/internal/sqlite"
	"github.com/mesh-intelligence/tillsync/internal/syncer"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// remoteTimeout bounds each request to the remote authority.
const remoteTimeout = 30 * time.Second

// engine is the assembled store: SQLite backend, services writing through
// the connectivity-driven strategy, and, when a remote is configured, the
// sync coordinator and a probing monitor.
type engine struct {
	backend     *sqlite.Backend
	bus         *events.Bus
	monitor     *netmon.Monitor
	services    *services.Services
	client      *remote.Client
	coordinator *syncer.Coordinator
}

// openEngine attaches the backend and wires the components. The caller must
// call close. The monitor starts offline, so writes made by one-shot
// commands are queued until the next sync.
func (a *app) openEngine() (*engine, error) {
	backend := sqlite.NewBackend()
	if err := backend.Attach(a.cfg); err != nil {
		return nil, fmt.Errorf("attach backend: %w", err)
	}
	e := &engine{backend: backend, bus: events.NewBus()}

	monitorOpts := []netmon.Option{netmon.WithEvents(e.bus), netmon.WithLogger(a.logger)}
	if a.cfg.APIBaseURL != "" {
		client, err := remote.NewClient(a.cfg.APIBaseURL,
			remote.WithLogger(a.logger),
			remote.WithHTTPClient(&http.Client{Timeout: remoteTimeout}),
		)
		if err != nil {
			backend.Detach()
			return nil, err
		}
		e.client = client
		e.coordinator = syncer.New(backend, backend.Outbox(), client,
			syncer.WithLogger(a.logger),
			syncer.WithEvents(e.bus),
			syncer.WithCompaction(a.cfg.CompactOutbox),
			syncer.WithCustomer(a.cfg.CustomerID, a.cfg.BusinessName),
		)
		probeURL := a.cfg.ProbeURL
		if probeURL == "" {
			probeURL = a.cfg.APIBaseURL
		}
		monitorOpts = append(monitorOpts,
			netmon.WithSyncer(e.coordinator),
			netmon.WithProbe(netmon.HTTPProbe(nil, probeURL), a.cfg.ProbeInterval),
		)
	}
	e.monitor = netmon.New(monitorOpts...)
	e.services = services.New(backend, services.NewStrategy(e.monitor, backend.Outbox()), services.WithEvents(e.bus))
	return e, nil
}

// remote returns the coordinator or errNoRemote.
func (e *engine) remote() (*syncer.Coordinator, error) {
	if e.coordinator == nil {
		return nil, errNoRemote
	}
	return e.coordinator, nil
}

func (e *engine) close() error {
	e.monitor.Wait()
	return e.backend.Detach()
}

// recordService is the JSON face of an EntityService used by the generic
// record commands.
type recordService interface {
	get(id string) (any, error)
	list() (any, error)
	create(body json.RawMessage) (any, error)
	patch(id string, body json.RawMessage) (any, error)
	remove(id string) error
}

type jsonService[T any, PT interface {
	*T
	types.Record
}] struct {
	svc *services.EntityService[T, PT]
}

func (s jsonService[T, PT]) get(id string) (any, error) { return s.svc.Get(id) }
func (s jsonService[T, PT]) list() (any, error)         { return s.svc.List() }
func (s jsonService[T, PT]) remove(id string) error     { return s.svc.Delete(id) }

func (s jsonService[T, PT]) create(body json.RawMessage) (any, error) {
	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	return s.svc.Create(data)
}

func (s jsonService[T, PT]) patch(id string, body json.RawMessage) (any, error) {
	return s.svc.Patch(id, body)
}

// service returns the record service for a collection or entity type name.
func (e *engine) service(name string) (recordService, error) {
	et, err := types.ParseEntityType(name)
	if err != nil {
		return nil, err
	}
	s := e.services
	switch et {
	case types.EntityProducts:
		return jsonService[types.Product, *types.Product]{s.Products}, nil
	case types.EntityCategories:
		return jsonService[types.Category, *types.Category]{s.Categories}, nil
	case types.EntityTransactions:
		return jsonService[types.Transaction, *types.Transaction]{s.Transactions}, nil
	case types.EntityUsers:
		return jsonService[types.User, *types.User]{s.Users}, nil
	case types.EntitySettings:
		return jsonService[types.Setting, *types.Setting]{s.Settings}, nil
	case types.EntitySubscription:
		return jsonService[types.Subscription, *types.Subscription]{s.Subscription}, nil
	}
	return nil, errors.New("unreachable entity type " + string(et))
}

// withEngine opens the engine, runs fn and closes the engine, keeping the
// first error.
func (a *app) withEngine(fn func(e *engine) error) (err error) {
	e, err := a.openEngine()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.close(); cerr != nil && err == nil {
			err = fmt.Errorf("detach backend: %w", cerr)
		}
	}()
	return fn(e)
}
