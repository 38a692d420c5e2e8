package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/engine"
)

// DefaultReleasedRetention is how long a released policy stays listed by
// Factory.Policies.
const DefaultReleasedRetention = time.Minute

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithProvider uses p instead of looking a cluster provider up in the engine
// registry.
func WithProvider(p cluster.Provider) FactoryOption {
	return func(f *Factory) { f.provider = p }
}

// WithProviderName looks the cluster provider up in the engine registry under
// name.
func WithProviderName(name string) FactoryOption {
	return func(f *Factory) { f.providerName = strings.TrimSpace(name) }
}

// WithRouteFilter restricts the factory to the routes accepted by fn.
func WithRouteFilter(fn func(routeID string) bool) FactoryOption {
	return func(f *Factory) { f.filter = fn }
}

// WithPolicyOptions passes opts to every policy the factory creates.
func WithPolicyOptions(opts ...Option) FactoryOption {
	return func(f *Factory) { f.policyOpts = append(f.policyOpts, opts...) }
}

// WithReleasedRetention keeps released policies listed for d before they are
// evicted. Zero or negative drops them as soon as they are released.
func WithReleasedRetention(d time.Duration) FactoryOption {
	return func(f *Factory) { f.retention = d }
}

// Factory hands out the leadership policy of one namespace.
//
// Policies are shared per view: every route created through the same factory
// and engine follows one Policy. A released policy is replaced on the next
// request and otherwise expires from the table after the retention window.
type Factory struct {
	namespace    string
	provider     cluster.Provider
	providerName string
	filter       func(string) bool
	policyOpts   []Option
	retention    time.Duration

	mu       sync.Mutex
	policies *gocache.Cache
}

// NewFactory creates a factory for namespace.
func NewFactory(namespace string, opts ...FactoryOption) (*Factory, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, ErrInvalidNamespace
	}
	f := &Factory{
		namespace: namespace,
		retention: DefaultReleasedRetention,
	}
	for _, o := range opts {
		o(f)
	}
	if f.provider != nil && f.providerName != "" {
		return nil, ErrConflictingProvider
	}
	// políticas vivas sin expiración; las liberadas expiran tras retention
	janitor := time.Duration(0)
	if f.retention > 0 {
		janitor = f.retention
	}
	f.policies = gocache.New(gocache.NoExpiration, janitor)
	return f, nil
}

// Namespace returns the namespace the factory serves.
func (f *Factory) Namespace() string { return f.namespace }

// CreatePolicy returns the shared policy of the factory namespace on the
// provider resolved for e.
func (f *Factory) CreatePolicy(e *engine.Engine) (*Policy, error) {
	view, err := f.view(e)
	if err != nil {
		return nil, err
	}
	return f.shared(e, view)
}

// CreateRoutePolicy implements engine.RoutePolicyFactory. The returned
// policy attaches the route to the shared policy of the namespace.
func (f *Factory) CreateRoutePolicy(e *engine.Engine, routeID string) (engine.RoutePolicy, error) {
	if f.filter != nil && !f.filter(routeID) {
		return nil, nil
	}
	view, err := f.view(e)
	if err != nil {
		return nil, err
	}
	return &routePolicy{factory: f, engine: e, view: view}, nil
}

// Policies returns the policies handed out by the factory, including the ones
// released within the retention window.
func (f *Factory) Policies() []*Policy {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.policies.Items()
	out := make([]*Policy, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*Policy))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].view.ClusterID() != out[j].view.ClusterID() {
			return out[i].view.ClusterID() < out[j].view.ClusterID()
		}
		return out[i].Namespace() < out[j].Namespace()
	})
	return out
}

func (f *Factory) view(e *engine.Engine) (*cluster.View, error) {
	p, err := f.resolveProvider(e)
	if err != nil {
		return nil, err
	}
	v, err := p.GetOrCreateView(f.namespace)
	if err != nil {
		return nil, fmt.Errorf("policy: view %q: %w", f.namespace, err)
	}
	return v, nil
}

func (f *Factory) resolveProvider(e *engine.Engine) (cluster.Provider, error) {
	if f.provider != nil {
		return f.provider, nil
	}
	if e == nil {
		return nil, ErrNoEngine
	}
	if f.providerName != "" {
		p, err := engine.LookupByNameAndType[cluster.Provider](e.Registry(), f.providerName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoClusterService, err)
		}
		return p, nil
	}
	p, err := engine.FindSingleByType[cluster.Provider](e.Registry())
	switch {
	case errors.Is(err, engine.ErrAmbiguous):
		return nil, fmt.Errorf("%w: %v", ErrAmbiguousClusterService, err)
	case err != nil:
		return nil, ErrNoClusterService
	}
	return p, nil
}

func (f *Factory) shared(e *engine.Engine, view *cluster.View) (*Policy, error) {
	key := fmt.Sprintf("%p/%p", e, view)

	f.mu.Lock()
	defer f.mu.Unlock()
	if x, ok := f.policies.Get(key); ok {
		if p := x.(*Policy); !p.Released() {
			return p, nil
		}
		f.policies.Delete(key)
	}

	opts := append([]Option{WithEngine(e)}, f.policyOpts...)
	p, err := New(view, opts...)
	if err != nil {
		return nil, err
	}
	p.onRelease = func(p *Policy) { f.forget(key, p) }
	f.policies.Set(key, p, gocache.NoExpiration)
	return p, nil
}

func (f *Factory) forget(key string, p *Policy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	x, ok := f.policies.Get(key)
	if !ok || x.(*Policy) != p {
		return
	}
	if f.retention > 0 {
		f.policies.Set(key, p, f.retention)
		return
	}
	f.policies.Delete(key)
}

// routePolicy is the per-route handle over the shared policy. A policy that
// got released between lookup and attach is replaced once.
type routePolicy struct {
	factory *Factory
	engine  *engine.Engine
	view    *cluster.View

	mu     sync.Mutex
	policy *Policy
}

func (r *routePolicy) OnInit(route engine.Route) error {
	for attempt := 0; ; attempt++ {
		p, err := r.factory.shared(r.engine, r.view)
		if err != nil {
			return err
		}
		err = p.OnInit(route)
		if errors.Is(err, ErrPolicyReleased) && attempt == 0 {
			continue
		}
		if err == nil {
			r.mu.Lock()
			r.policy = p
			r.mu.Unlock()
		}
		return err
	}
}

func (r *routePolicy) OnRemove(route engine.Route) {
	r.mu.Lock()
	p := r.policy
	r.policy = nil
	r.mu.Unlock()
	if p != nil {
		p.OnRemove(route)
	}
}

// Policy returns the shared policy the route is attached to, or nil.
func (r *routePolicy) Policy() *Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

var _ engine.RoutePolicyFactory = (*Factory)(nil)
