package cluster

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/engine"
	"github.com/dropDatabas3/routemaster/internal/metrics"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// owner is the container a view belongs to.
type owner interface {
	ID() string
}

type subscription struct {
	predicate Predicate
	listener  EventListener
}

// View is a namespace-scoped handle onto cluster membership.
//
// Listener registration is exclusive; Fire holds the read lock while it
// dispatches, so concurrent fires proceed in parallel and a listener removed
// by RemoveEventListener is never invoked after that call returns.
type View struct {
	namespace  string
	owner      owner
	membership Membership
	log        *zap.Logger

	mu        sync.RWMutex
	listeners []subscription

	lifecycleMu sync.Mutex
	started     bool

	engine atomic.Pointer[engine.Engine]
}

func newView(o owner, namespace string) *View {
	return &View{
		namespace: namespace,
		owner:     o,
		log: logger.Named("cluster.view").With(
			logger.ClusterID(o.ID()),
			logger.Namespace(namespace),
		),
	}
}

// Namespace returns the namespace this view is scoped to.
func (v *View) Namespace() string { return v.namespace }

// ClusterID returns the id of the owning Cluster or Service.
func (v *View) ClusterID() string { return v.owner.ID() }

// Engine returns the engine propagated by the owner, or nil.
func (v *View) Engine() *engine.Engine { return v.engine.Load() }

func (v *View) setEngine(e *engine.Engine) { v.engine.Store(e) }

// LocalMember returns this node's member in the namespace.
func (v *View) LocalMember() Member {
	return v.membership.LocalMember()
}

// Members returns the known members of the namespace.
func (v *View) Members() []Member {
	return v.membership.Members()
}

// LocalMemberIsLeader reports whether this node currently leads the
// namespace. It is a pass-through to the backend and has no side effects.
func (v *View) LocalMemberIsLeader() bool {
	m := v.membership.LocalMember()
	return m != nil && m.IsLeader()
}

// Leader returns the member currently leading the namespace, if known.
func (v *View) Leader() (Member, bool) {
	for _, m := range v.membership.Members() {
		if m != nil && m.IsLeader() {
			return m, true
		}
	}
	if m := v.membership.LocalMember(); m != nil && m.IsLeader() {
		return m, true
	}
	return nil, false
}

// AddEventListener subscribes l to the events accepted by p (every event when
// p is nil).
func (v *View) AddEventListener(p Predicate, l EventListener) {
	if l == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, subscription{predicate: p, listener: l})
}

// RemoveEventListener drops every subscription made with l.
func (v *View) RemoveEventListener(l EventListener) {
	if l == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.listeners[:0]
	for _, s := range v.listeners {
		if s.listener != l {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(v.listeners); i++ {
		v.listeners[i] = subscription{}
	}
	v.listeners = kept
}

// ListenerCount returns the number of active subscriptions.
func (v *View) ListenerCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.listeners)
}

// Fire delivers ev to every listener whose predicate accepts it, in
// subscription order. A panicking listener is logged and skipped.
func (v *View) Fire(ev Event) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, s := range v.listeners {
		if s.predicate != nil && !s.predicate(ev) {
			continue
		}
		v.dispatch(s.listener, ev)
	}
}

func (v *View) dispatch(l EventListener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerPanics.WithLabelValues(v.namespace).Inc()
			v.log.Error("event listener panicked",
				logger.Event(string(ev.Kind)),
				logger.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	l.OnEvent(v, ev)
}

// Start starts the backend membership. It is idempotent.
func (v *View) Start(ctx context.Context) error {
	v.lifecycleMu.Lock()
	defer v.lifecycleMu.Unlock()
	if v.started {
		return nil
	}
	if err := v.membership.Start(ctx); err != nil {
		return err
	}
	v.started = true
	v.log.Debug("view started")
	return nil
}

// Stop stops the backend membership. It is idempotent.
func (v *View) Stop(ctx context.Context) error {
	v.lifecycleMu.Lock()
	defer v.lifecycleMu.Unlock()
	if !v.started {
		return nil
	}
	if err := v.membership.Stop(ctx); err != nil {
		return err
	}
	v.started = false
	v.log.Debug("view stopped")
	return nil
}

// IsStarted reports whether the membership is running.
func (v *View) IsStarted() bool {
	v.lifecycleMu.Lock()
	defer v.lifecycleMu.Unlock()
	return v.started
}
