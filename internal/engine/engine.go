package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// Service is a lifecycle component started before routes and stopped after
// them (cluster services, backends).
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// EngineAware is implemented by services that need the engine they belong to.
type EngineAware interface {
	SetEngine(e *Engine) error
}

// ErrorHandler receives lifecycle failures that must not abort the caller.
type ErrorHandler func(msg string, err error)

// StartupListener is notified once the engine completed its start-up.
// alreadyStarted is true when the listener was registered after start-up.
type StartupListener func(e *Engine, alreadyStarted bool)

// Option customises an Engine.
type Option func(*Engine)

// WithErrorHandler replaces the default (logging) error handler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(e *Engine) {
		if h != nil {
			e.onError = h
		}
	}
}

// WithRegistry uses r instead of a fresh registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

type routeEntry struct {
	route    Route
	policies []RoutePolicy
	// ownStart is true when the engine itself started the route.
	ownStart bool
}

// Engine runs routes and services and publishes start-up completion.
type Engine struct {
	name     string
	registry *Registry
	log      *zap.Logger
	onError  ErrorHandler

	// lifecycleMu serializes Start/Stop.
	lifecycleMu sync.Mutex

	mu        sync.Mutex
	services  []Service
	factories []RoutePolicyFactory
	routes    map[string]*routeEntry
	order     []string

	listenersMu  sync.Mutex
	listeners    map[uint64]StartupListener
	nextListener uint64
	started      atomic.Bool
}

// New creates a stopped engine.
func New(name string, opts ...Option) *Engine {
	e := &Engine{
		name:      name,
		registry:  NewRegistry(),
		log:       logger.Named("engine").With(logger.Engine(name)),
		routes:    make(map[string]*routeEntry),
		listeners: make(map[uint64]StartupListener),
	}
	e.onError = func(msg string, err error) {
		e.log.Error(msg, logger.Err(err))
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Name() string        { return e.name }
func (e *Engine) Registry() *Registry { return e.registry }
func (e *Engine) Logger() *zap.Logger { return e.log }
func (e *Engine) IsStarted() bool     { return e.started.Load() }

// HandleError forwards a non-fatal lifecycle failure to the error handler.
func (e *Engine) HandleError(msg string, err error) {
	if err == nil {
		return
	}
	e.onError(msg, err)
}

// AddStartupListener registers l for the next start-up completion. When the
// engine already started, l runs immediately on the calling goroutine with
// alreadyStarted=true. The returned function unregisters a pending listener.
func (e *Engine) AddStartupListener(l StartupListener) (cancel func()) {
	if l == nil {
		return func() {}
	}
	e.listenersMu.Lock()
	if e.started.Load() {
		e.listenersMu.Unlock()
		l(e, true)
		return func() {}
	}
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = l
	e.listenersMu.Unlock()

	return func() {
		e.listenersMu.Lock()
		delete(e.listeners, id)
		e.listenersMu.Unlock()
	}
}

// AddService registers a lifecycle service. Services added after start-up
// are started immediately.
func (e *Engine) AddService(ctx context.Context, svc Service) error {
	if svc == nil {
		return ErrInvalidService
	}
	if aware, ok := svc.(EngineAware); ok {
		if err := aware.SetEngine(e); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.services = append(e.services, svc)
	e.mu.Unlock()

	if e.started.Load() {
		return svc.Start(ctx)
	}
	return nil
}

// AddRoutePolicyFactory registers a factory applied to every route added
// afterwards.
func (e *Engine) AddRoutePolicyFactory(f RoutePolicyFactory) {
	if f == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories = append(e.factories, f)
}

// AddRoute registers route with the explicit policies plus one policy per
// registered factory. When the engine already started and the route still
// has auto-startup enabled after its policies initialised, it is started.
func (e *Engine) AddRoute(ctx context.Context, route Route, policies ...RoutePolicy) error {
	if route == nil || strings.TrimSpace(route.ID()) == "" {
		return ErrInvalidRoute
	}
	id := route.ID()

	e.mu.Lock()
	if _, exists := e.routes[id]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, id)
	}
	entry := &routeEntry{route: route}
	e.routes[id] = entry
	e.order = append(e.order, id)
	factories := append([]RoutePolicyFactory(nil), e.factories...)
	e.mu.Unlock()

	all := append([]RoutePolicy(nil), policies...)
	for _, f := range factories {
		p, err := f.CreateRoutePolicy(e, id)
		if err != nil {
			e.forget(id)
			return fmt.Errorf("engine: create policy for route %s: %w", id, err)
		}
		if p != nil {
			all = append(all, p)
		}
	}

	inited := make([]RoutePolicy, 0, len(all))
	for _, p := range all {
		if err := p.OnInit(route); err != nil {
			for i := len(inited) - 1; i >= 0; i-- {
				inited[i].OnRemove(route)
			}
			e.forget(id)
			return fmt.Errorf("engine: init policy for route %s: %w", id, err)
		}
		inited = append(inited, p)
	}

	e.mu.Lock()
	entry.policies = inited
	e.mu.Unlock()

	e.log.Debug("route added", logger.RouteID(id), logger.Count(len(inited)))

	if e.started.Load() && route.AutoStartup() {
		if err := e.startOwned(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRoute stops (when the engine owns it) and unregisters a route.
// Policies see OnRemove before the route leaves the engine.
func (e *Engine) RemoveRoute(ctx context.Context, id string) error {
	e.mu.Lock()
	entry, ok := e.routes[id]
	own := false
	if ok {
		own = entry.ownStart
		e.forgetLocked(id)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}

	for i := len(entry.policies) - 1; i >= 0; i-- {
		entry.policies[i].OnRemove(entry.route)
	}

	var err error
	if own {
		if err = entry.route.Stop(ctx); err != nil {
			e.HandleError("stop route "+id, err)
		}
	}

	e.log.Debug("route removed", logger.RouteID(id))
	return err
}

// Routes returns the registered route ids in registration order.
func (e *Engine) Routes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// Route returns the registered route with the given id.
func (e *Engine) Route(id string) (Route, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.routes[id]
	if !ok {
		return nil, false
	}
	return entry.route, true
}

// Start starts services, then auto-startup routes, then publishes start-up
// completion to every pending listener exactly once.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if e.started.Load() {
		return nil
	}

	e.mu.Lock()
	services := append([]Service(nil), e.services...)
	e.mu.Unlock()

	for i, svc := range services {
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if serr := services[j].Stop(ctx); serr != nil {
					e.HandleError("stop service after failed start", serr)
				}
			}
			return fmt.Errorf("engine: start service: %w", err)
		}
	}

	for _, entry := range e.snapshot() {
		if !entry.route.AutoStartup() {
			continue
		}
		if err := e.startOwned(ctx, entry); err != nil {
			return err
		}
	}

	e.listenersMu.Lock()
	e.started.Store(true)
	pending := e.listeners
	e.listeners = make(map[uint64]StartupListener)
	e.listenersMu.Unlock()

	e.log.Info("engine started", logger.Count(len(pending)))
	for _, l := range pending {
		l(e, false)
	}
	return nil
}

// Stop removes every route (last registered first) and stops services in
// reverse order. Stop failures are reported and do not abort the shutdown.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	ids := e.Routes()
	for i := len(ids) - 1; i >= 0; i-- {
		_ = e.RemoveRoute(ctx, ids[i])
	}

	e.mu.Lock()
	services := append([]Service(nil), e.services...)
	e.mu.Unlock()

	var first error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			e.HandleError("stop service", err)
			if first == nil {
				first = err
			}
		}
	}

	e.listenersMu.Lock()
	e.started.Store(false)
	e.listenersMu.Unlock()

	e.log.Info("engine stopped")
	return first
}

func (e *Engine) startOwned(ctx context.Context, entry *routeEntry) error {
	if err := entry.route.Start(ctx); err != nil {
		return fmt.Errorf("engine: start route %s: %w", entry.route.ID(), err)
	}
	e.mu.Lock()
	entry.ownStart = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) snapshot() []*routeEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*routeEntry, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.routes[id])
	}
	return out
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forgetLocked(id)
}

func (e *Engine) forgetLocked(id string) {
	delete(e.routes, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}
