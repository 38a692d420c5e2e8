package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// Route is a unit of work whose lifecycle is driven by the engine or by a
// route policy.
type Route interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// AutoStartup reports whether the engine should start the route itself.
	AutoStartup() bool
	SetAutoStartup(v bool)
}

// Status is the observable state of a route built by this package.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusStarted Status = "started"
)

// FuncRoute is a Route backed by plain start/stop functions.
// Start and Stop are idempotent: starting a started route does not call the
// start function again.
type FuncRoute struct {
	id    string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error

	autoStartup atomic.Bool

	mu     sync.Mutex
	status Status
}

// NewRoute builds a FuncRoute with auto-startup enabled. Nil functions are
// treated as no-ops.
func NewRoute(id string, start, stop func(ctx context.Context) error) *FuncRoute {
	r := &FuncRoute{id: id, start: start, stop: stop, status: StatusStopped}
	r.autoStartup.Store(true)
	return r
}

func (r *FuncRoute) ID() string            { return r.id }
func (r *FuncRoute) AutoStartup() bool     { return r.autoStartup.Load() }
func (r *FuncRoute) SetAutoStartup(v bool) { r.autoStartup.Store(v) }

// Status returns the current route status.
func (r *FuncRoute) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *FuncRoute) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusStarted {
		return nil
	}
	if r.start != nil {
		if err := r.start(ctx); err != nil {
			return err
		}
	}
	r.status = StatusStarted
	return nil
}

func (r *FuncRoute) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusStopped {
		return nil
	}
	if r.stop != nil {
		if err := r.stop(ctx); err != nil {
			return err
		}
	}
	r.status = StatusStopped
	return nil
}

// TickerRoute runs a task on a fixed interval while started.
type TickerRoute struct {
	*FuncRoute

	every time.Duration
	task  func(ctx context.Context) error
	log   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTickerRoute builds a route that calls task every interval while it is
// started. Task errors are logged and do not stop the route.
func NewTickerRoute(id string, every time.Duration, task func(ctx context.Context) error) *TickerRoute {
	t := &TickerRoute{
		every: every,
		task:  task,
		log:   logger.Named("route").With(logger.RouteID(id)),
	}
	t.FuncRoute = NewRoute(id, t.run, t.halt)
	return t
}

// run is called with the FuncRoute lock held.
func (t *TickerRoute) run(_ context.Context) error {
	if t.every <= 0 {
		return ErrInvalidRoute
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		tk := time.NewTicker(t.every)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				if t.task == nil {
					continue
				}
				if err := t.task(ctx); err != nil {
					t.log.Warn("route task failed", logger.Err(err))
				}
			}
		}
	}(t.done)
	return nil
}

// halt is called with the FuncRoute lock held.
func (t *TickerRoute) halt(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.cancel, t.done = nil, nil
	return nil
}
