package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/engine"
	"github.com/dropDatabas3/routemaster/internal/metrics"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// State is the lifecycle state of a Policy.
type State string

const (
	StateAwaitingStartup State = "awaiting-startup"
	StateFollower        State = "follower"
	StateLeader          State = "leader"
	StateReleased        State = "released"
)

// Option customises a Policy.
type Option func(*Policy)

// WithEngine binds the policy to e up front. Without it the policy uses the
// engine propagated to its view.
func WithEngine(e *engine.Engine) Option {
	return func(p *Policy) { p.engine = e }
}

// WithRouteTimeout bounds every route start and stop issued by the policy.
// Zero means no deadline.
func WithRouteTimeout(d time.Duration) Option {
	return func(p *Policy) { p.timeout = d }
}

// WithLogger sets the policy logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.log = l
		}
	}
}

// Policy starts its routes while the local member leads the view namespace
// and keeps them stopped otherwise.
//
// Every registered route is in exactly one of the started or stopped sets.
// Leadership is re-read right before a transition is committed, so a stale
// event never flips the routes. Route Start/Stop and the engine error handler
// run without mu held: a route is marked pending, called, then committed.
// A route whose start failed is not retried until the next promotion.
type Policy struct {
	view    *cluster.View
	log     *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	engine    *engine.Engine
	leader    bool
	started   map[string]engine.Route
	stopped   map[string]engine.Route
	order     []string
	pending   map[string]bool
	failed    map[string]bool
	installed bool
	activated bool
	released  bool
	cancel    func()

	refs      *refCounter
	onRelease func(*Policy)
}

// New creates a policy for view.
func New(view *cluster.View, opts ...Option) (*Policy, error) {
	if view == nil {
		return nil, ErrNilView
	}
	p := &Policy{
		view:    view,
		started: make(map[string]engine.Route),
		stopped: make(map[string]engine.Route),
		pending: make(map[string]bool),
		failed:  make(map[string]bool),
		log: logger.Named("policy").With(
			logger.ClusterID(view.ClusterID()),
			logger.Namespace(view.Namespace()),
		),
	}
	p.refs = newRefCounter(p.release)
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// View returns the view the policy follows.
func (p *Policy) View() *cluster.View { return p.view }

// Namespace returns the namespace of the policy view.
func (p *Policy) Namespace() string { return p.view.Namespace() }

// SetEngine binds the policy to e. Binding a different engine than the one
// already bound fails.
func (p *Policy) SetEngine(e *engine.Engine) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine != nil && p.engine != e {
		return engine.ErrEngineMismatch
	}
	p.engine = e
	return nil
}

// Engine returns the bound engine, falling back to the view's.
func (p *Policy) Engine() *engine.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engineLocked()
}

func (p *Policy) engineLocked() *engine.Engine {
	if p.engine != nil {
		return p.engine
	}
	return p.view.Engine()
}

// OnInit takes ownership of route: auto-startup is disabled and the route
// joins the stopped set. The first registration installs the start-up hook;
// a route added while the policy already leads is started right away.
func (p *Policy) OnInit(route engine.Route) error {
	if route == nil {
		return engine.ErrInvalidRoute
	}
	id := route.ID()

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrPolicyReleased
	}
	eng := p.engineLocked()
	if eng == nil {
		p.mu.Unlock()
		return ErrNoEngine
	}
	if p.engine == nil {
		p.engine = eng
	}
	if p.has(id) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrDuplicateRoute, id)
	}
	n, err := p.refs.Retain()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	route.SetAutoStartup(false)
	p.stopped[id] = route
	p.order = append(p.order, id)
	install := !p.installed
	p.installed = true
	activated := p.activated
	p.mu.Unlock()

	p.log.Debug("route attached", logger.RouteID(id), logger.RefCount(n))

	if install {
		metrics.ActivePolicies.Inc()
		cancel := eng.AddStartupListener(func(*engine.Engine, bool) { p.activate() })
		p.mu.Lock()
		if p.released {
			p.mu.Unlock()
			cancel()
			return nil
		}
		p.cancel = cancel
		p.mu.Unlock()
		return nil
	}
	if activated {
		p.reconcile()
	}
	return nil
}

// OnRemove detaches route, stopping it first if the policy started it. When
// the last route leaves, the policy unsubscribes, demotes itself and becomes
// released.
func (p *Policy) OnRemove(route engine.Route) {
	if route == nil {
		return
	}
	id := route.ID()

	p.mu.Lock()
	if !p.has(id) {
		p.mu.Unlock()
		return
	}
	r, running := p.started[id]
	// una ruta pendiente la cierra quien la tiene en vuelo
	running = running && !p.pending[id]
	delete(p.started, id)
	delete(p.stopped, id)
	delete(p.failed, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if running {
		p.stopRoute(r)
	}
	n := p.refs.Release()
	p.log.Debug("route detached", logger.RouteID(id), logger.RefCount(n))
}

// OnEvent re-evaluates leadership on every leadership event of the view.
func (p *Policy) OnEvent(_ *cluster.View, _ cluster.Event) {
	p.evaluate()
}

// activate runs once, from whichever start-up path fires first.
func (p *Policy) activate() {
	p.mu.Lock()
	if p.activated || p.released {
		p.mu.Unlock()
		return
	}
	p.activated = true
	p.mu.Unlock()

	p.view.AddEventListener(cluster.KindIs(cluster.EventLeadershipChanged), p)

	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		p.view.RemoveEventListener(p)
		return
	}

	p.log.Info("policy activated")
	p.evaluate()
}

func (p *Policy) evaluate() {
	p.mu.Lock()
	if p.released || !p.activated {
		p.mu.Unlock()
		return
	}
	p.setLeaderLocked(p.view.LocalMemberIsLeader())
	p.mu.Unlock()
	p.reconcile()
}

// setLeaderLocked commits an observed leadership value. The backend is
// consulted once more and the value is only committed when both reads agree.
// Observing the committed value again is a no-op.
func (p *Policy) setLeaderLocked(leader bool) {
	if leader == p.leader || p.view.LocalMemberIsLeader() != leader {
		return
	}
	p.leader = leader
	if leader {
		clear(p.failed)
	}
	p.transitioned()
}

func (p *Policy) transitioned() {
	metrics.LeadershipChanges.WithLabelValues(p.view.Namespace(), metrics.Role(p.leader)).Inc()
	p.log.Info("leadership changed", logger.Leader(p.leader), logger.Count(len(p.order)))
}

type routeOp struct {
	route engine.Route
	start bool
}

// reconcile moves routes towards the committed leadership until nothing is
// left to do. Route callbacks run without mu held.
func (p *Policy) reconcile() {
	for {
		p.mu.Lock()
		ops := p.pickLocked()
		p.mu.Unlock()
		if len(ops) == 0 {
			return
		}
		for _, op := range ops {
			p.run(op)
		}
	}
}

// pickLocked marks pending every route that has to move: stopped routes that
// did not fail since the last promotion while leader, started routes
// otherwise.
func (p *Policy) pickLocked() []routeOp {
	var ops []routeOp
	for _, id := range p.order {
		if p.pending[id] {
			continue
		}
		if r, ok := p.stopped[id]; ok && p.leader && !p.failed[id] {
			p.pending[id] = true
			ops = append(ops, routeOp{route: r, start: true})
		} else if r, ok := p.started[id]; ok && !p.leader {
			p.pending[id] = true
			ops = append(ops, routeOp{route: r})
		}
	}
	return ops
}

func (p *Policy) run(op routeOp) {
	id := op.route.ID()
	ctx, cancel := p.routeContext()
	var err error
	if op.start {
		err = op.route.Start(ctx)
	} else {
		err = op.route.Stop(ctx)
	}
	cancel()

	p.mu.Lock()
	delete(p.pending, id)
	registered := p.has(id)
	switch {
	case !registered:
	case op.start && err != nil:
		p.failed[id] = true
	case op.start:
		delete(p.stopped, id)
		p.started[id] = op.route
	default:
		// la ruta queda detenida aunque el stop falle
		delete(p.started, id)
		p.stopped[id] = op.route
	}
	p.mu.Unlock()

	action := "stop"
	if op.start {
		action = "start"
	}
	if err != nil {
		p.routeFailed(action, id, err)
		return
	}
	metrics.RouteTransitions.WithLabelValues(p.view.Namespace(), action, metrics.ResultOK).Inc()
	if op.start && !registered {
		// removida mientras arrancaba
		p.stopRoute(op.route)
	}
}

func (p *Policy) stopRoute(r engine.Route) {
	ctx, cancel := p.routeContext()
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		p.routeFailed("stop", r.ID(), err)
		return
	}
	metrics.RouteTransitions.WithLabelValues(p.view.Namespace(), "stop", metrics.ResultOK).Inc()
}

func (p *Policy) routeFailed(action, id string, err error) {
	metrics.RouteTransitions.WithLabelValues(p.view.Namespace(), action, metrics.ResultError).Inc()
	p.log.Warn("route transition failed", logger.RouteID(id), logger.Op(action), logger.Err(err))
	if e := p.Engine(); e != nil {
		e.HandleError(fmt.Sprintf("%s route %s", action, id), err)
	}
}

func (p *Policy) routeContext() (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(context.Background(), p.timeout)
	}
	return context.WithCancel(context.Background())
}

// release runs once, when the last route was removed.
func (p *Policy) release() {
	p.mu.Lock()
	p.released = true
	activated := p.activated
	cancel := p.cancel
	p.cancel = nil
	if p.leader {
		p.leader = false
		p.transitioned()
	}
	p.mu.Unlock()
	p.reconcile()

	if activated {
		p.view.RemoveEventListener(p)
	}
	if cancel != nil {
		cancel()
	}
	metrics.ActivePolicies.Dec()
	p.log.Info("policy released")

	if p.onRelease != nil {
		p.onRelease(p)
	}
}

func (p *Policy) has(id string) bool {
	if _, ok := p.started[id]; ok {
		return true
	}
	_, ok := p.stopped[id]
	return ok
}

// IsLeader reports the leadership value the policy last committed.
func (p *Policy) IsLeader() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leader
}

// StartedRoutes returns the ids of the routes the policy started, in
// registration order.
func (p *Policy) StartedRoutes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idsLocked(p.started)
}

// StoppedRoutes returns the ids of the routes the policy keeps stopped, in
// registration order.
func (p *Policy) StoppedRoutes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idsLocked(p.stopped)
}

func (p *Policy) idsLocked(set map[string]engine.Route) []string {
	out := make([]string, 0, len(set))
	for _, id := range p.order {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// RefCount returns the number of routes attached to the policy.
func (p *Policy) RefCount() int { return p.refs.Count() }

// Released reports whether the last route was removed.
func (p *Policy) Released() bool { return p.refs.Released() }

// State returns the lifecycle state of the policy.
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.released:
		return StateReleased
	case !p.activated:
		return StateAwaitingStartup
	case p.leader:
		return StateLeader
	default:
		return StateFollower
	}
}

var (
	_ engine.RoutePolicy    = (*Policy)(nil)
	_ engine.EngineAware    = (*Policy)(nil)
	_ cluster.EventListener = (*Policy)(nil)
)
