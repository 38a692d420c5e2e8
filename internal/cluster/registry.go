package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/routemaster/internal/engine"
	"github.com/dropDatabas3/routemaster/internal/metrics"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// Provider is the common contract of Cluster and Service.
type Provider interface {
	ID() string
	GetOrCreateView(namespace string) (*View, error)
	Views() []*View
	IsRunning() bool
}

// viewRegistry is the namespace -> view table shared by Cluster and Service.
//
// Lookups and start/stop iterations take the read lock; creation takes the
// write lock and re-checks, so the backend factory runs once per namespace.
type viewRegistry struct {
	backend Backend
	log     *zap.Logger

	mu    sync.RWMutex
	views map[string]*View

	running atomic.Bool
}

func (r *viewRegistry) init(b Backend, log *zap.Logger) {
	r.backend = b
	r.log = log
	r.views = make(map[string]*View)
}

func (r *viewRegistry) lookup(namespace string) (*View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[namespace]
	return v, ok
}

// getOrCreate reads the engine through engineOf under the write lock, so a
// concurrent rebind either sees the new view in propagate or is seen here.
func (r *viewRegistry) getOrCreate(o owner, namespace string, engineOf func() *engine.Engine) (*View, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, ErrInvalidNamespace
	}
	if v, ok := r.lookup(namespace); ok {
		return v, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.views[namespace]; ok {
		return v, nil
	}

	v := newView(o, namespace)
	m, err := r.backend.CreateMembership(namespace, v)
	if err != nil {
		return nil, fmt.Errorf("cluster: create view %q on %s: %w", namespace, r.backend.Name(), err)
	}
	if m == nil {
		return nil, ErrNilMembership
	}
	v.membership = m
	v.setEngine(engineOf())

	if r.running.Load() {
		if err := v.Start(context.Background()); err != nil {
			return nil, fmt.Errorf("cluster: start view %q: %w", namespace, err)
		}
	}

	r.views[namespace] = v
	metrics.Views.WithLabelValues(o.ID()).Set(float64(len(r.views)))
	r.log.Info("view created", logger.Namespace(namespace))
	return v, nil
}

func (r *viewRegistry) list() []*View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*View, 0, len(r.views))
	for _, v := range r.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].namespace < out[j].namespace })
	return out
}

// each runs fn on every view concurrently while holding the read lock.
func (r *viewRegistry) each(ctx context.Context, fn func(ctx context.Context, v *View) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var g errgroup.Group
	for _, v := range r.views {
		v := v
		g.Go(func() error { return fn(ctx, v) })
	}
	return g.Wait()
}

func (r *viewRegistry) startAll(ctx context.Context) error {
	r.running.Store(true)
	return r.each(ctx, func(ctx context.Context, v *View) error {
		if err := v.Start(ctx); err != nil {
			return fmt.Errorf("cluster: start view %q: %w", v.namespace, err)
		}
		return nil
	})
}

func (r *viewRegistry) stopAll(ctx context.Context) error {
	r.running.Store(false)
	return r.each(ctx, func(ctx context.Context, v *View) error {
		if err := v.Stop(ctx); err != nil {
			return fmt.Errorf("cluster: stop view %q: %w", v.namespace, err)
		}
		return nil
	})
}

func (r *viewRegistry) propagate(e *engine.Engine) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.views {
		v.setEngine(e)
	}
}
