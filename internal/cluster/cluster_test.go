package cluster_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/cluster/local"
	"github.com/dropDatabas3/routemaster/internal/engine"
)

type failingBackend struct {
	createErr error
	startErr  error
}

func (failingBackend) Name() string { return "failing" }

func (b failingBackend) CreateMembership(string, cluster.EventSink) (cluster.Membership, error) {
	if b.createErr != nil {
		return nil, b.createErr
	}
	return failingMembership{startErr: b.startErr}, nil
}

type failingMembership struct{ startErr error }

func (failingMembership) LocalMember() cluster.Member   { return cluster.NewMember("x", false, true) }
func (failingMembership) Members() []cluster.Member     { return nil }
func (m failingMembership) Start(context.Context) error { return m.startErr }
func (failingMembership) Stop(context.Context) error    { return nil }

// countingBackend hands out memberships that count their Start and Stop calls.
type countingBackend struct {
	mu sync.Mutex
	by map[string]*countingMembership
}

func newCountingBackend() *countingBackend {
	return &countingBackend{by: make(map[string]*countingMembership)}
}

func (*countingBackend) Name() string { return "counting" }

func (b *countingBackend) CreateMembership(namespace string, _ cluster.EventSink) (cluster.Membership, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := &countingMembership{}
	b.by[namespace] = m
	return m, nil
}

func (b *countingBackend) membership(namespace string) *countingMembership {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.by[namespace]
}

type countingMembership struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (*countingMembership) LocalMember() cluster.Member { return cluster.NewMember("x", true, true) }
func (*countingMembership) Members() []cluster.Member   { return nil }
func (m *countingMembership) Start(context.Context) error {
	m.starts.Add(1)
	return nil
}
func (m *countingMembership) Stop(context.Context) error {
	m.stops.Add(1)
	return nil
}

type lifecycleProvider interface {
	cluster.Provider
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func TestCluster_Construction(t *testing.T) {
	_, err := cluster.NewCluster(nil)
	require.ErrorIs(t, err, cluster.ErrNilBackend)

	c, err := cluster.NewCluster(local.New("n1"))
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())

	c, err = cluster.NewCluster(local.New("n1"), cluster.WithID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", c.ID())
}

func TestCluster_GetOrCreateViewIsIdempotent(t *testing.T) {
	b := local.New("n1")
	c, err := cluster.NewCluster(b)
	require.NoError(t, err)

	v1, err := c.GetOrCreateView("orders")
	require.NoError(t, err)
	v2, err := c.GetOrCreateView(" orders ")
	require.NoError(t, err)
	assert.Same(t, v1, v2)
	assert.Equal(t, 1, b.Created("orders"))

	_, err = c.GetOrCreateView("  ")
	require.ErrorIs(t, err, cluster.ErrInvalidNamespace)
}

func TestCluster_ConcurrentGetOrCreateCreatesOnce(t *testing.T) {
	b := local.New("n1")
	c, err := cluster.NewCluster(b)
	require.NoError(t, err)

	const n = 32
	views := make([]*cluster.View, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCreateView("orders")
			if err == nil {
				views[i] = v
			}
		}(i)
	}
	wg.Wait()

	for _, v := range views {
		assert.Same(t, views[0], v)
	}
	assert.Equal(t, 1, b.Created("orders"))
}

func TestCluster_StartStartsExistingAndNewViews(t *testing.T) {
	ctx := context.Background()
	c, err := cluster.NewCluster(local.New("n1"))
	require.NoError(t, err)

	before, err := c.GetOrCreateView("a")
	require.NoError(t, err)
	assert.False(t, before.IsStarted())

	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsRunning())
	assert.True(t, before.IsStarted())

	after, err := c.GetOrCreateView("b")
	require.NoError(t, err)
	assert.True(t, after.IsStarted())

	views := c.Views()
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].Namespace())

	require.NoError(t, c.Stop(ctx))
	assert.False(t, c.IsRunning())
	assert.False(t, before.IsStarted())
	assert.False(t, after.IsStarted())
}

func TestCluster_BackendFailures(t *testing.T) {
	boom := errors.New("boom")

	c, err := cluster.NewCluster(failingBackend{createErr: boom})
	require.NoError(t, err)
	_, err = c.GetOrCreateView("a")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, c.Views())

	c, err = cluster.NewCluster(failingBackend{startErr: boom})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	_, err = c.GetOrCreateView("a")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, c.Views())
}

func TestCluster_EngineBindingIsOneShot(t *testing.T) {
	c, err := cluster.NewCluster(local.New("n1"))
	require.NoError(t, err)
	v, err := c.GetOrCreateView("a")
	require.NoError(t, err)

	e1 := engine.New("e1")
	require.NoError(t, c.SetEngine(e1))
	require.NoError(t, c.SetEngine(e1))
	assert.Same(t, e1, c.Engine())
	assert.Same(t, e1, v.Engine())

	require.ErrorIs(t, c.SetEngine(engine.New("e2")), cluster.ErrEngineAlreadyBound)
	assert.Same(t, e1, c.Engine())

	v2, err := c.GetOrCreateView("b")
	require.NoError(t, err)
	assert.Same(t, e1, v2.Engine())
}

func TestCluster_EngineStartsCluster(t *testing.T) {
	ctx := context.Background()
	c, err := cluster.NewCluster(local.New("n1"))
	require.NoError(t, err)
	e := engine.New("e")
	require.NoError(t, e.AddService(ctx, c))
	assert.Same(t, e, c.Engine())

	require.NoError(t, e.Start(ctx))
	assert.True(t, c.IsRunning())
	require.NoError(t, e.Stop(ctx))
	assert.False(t, c.IsRunning())
}

func TestService_Identity(t *testing.T) {
	s, err := cluster.NewService(local.New("n1"), cluster.WithID("svc"))
	require.NoError(t, err)
	assert.Equal(t, "svc", s.ID())

	require.ErrorIs(t, s.SetID(" "), cluster.ErrInvalidID)
	require.NoError(t, s.SetID("renamed"))
	assert.Equal(t, "renamed", s.ID())

	v, err := s.GetView("orders")
	require.NoError(t, err)
	assert.Equal(t, "renamed", v.ClusterID())

	same, err := s.GetOrCreateView("orders")
	require.NoError(t, err)
	assert.Same(t, v, same)
}

func TestService_RebindPropagatesEngine(t *testing.T) {
	s, err := cluster.NewService(local.New("n1"))
	require.NoError(t, err)
	v, err := s.GetView("orders")
	require.NoError(t, err)

	e1, e2 := engine.New("e1"), engine.New("e2")
	require.NoError(t, s.SetEngine(e1))
	assert.Same(t, e1, v.Engine())
	require.NoError(t, s.SetEngine(e2))
	assert.Same(t, e2, s.Engine())
	assert.Same(t, e2, v.Engine())
}

func TestProviders_StartStopRacingViewCreation(t *testing.T) {
	cases := map[string]func(b cluster.Backend) (lifecycleProvider, error){
		"cluster": func(b cluster.Backend) (lifecycleProvider, error) { return cluster.NewCluster(b) },
		"service": func(b cluster.Backend) (lifecycleProvider, error) { return cluster.NewService(b) },
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := newCountingBackend()
			p, err := build(b)
			require.NoError(t, err)

			const n = 24
			create := func(prefix string) *sync.WaitGroup {
				var wg sync.WaitGroup
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := p.GetOrCreateView(fmt.Sprintf("%s-%d", prefix, i))
						assert.NoError(t, err)
					}(i)
				}
				return &wg
			}

			wg := create("a")
			require.NoError(t, p.Start(ctx))
			wg.Wait()

			for _, v := range p.Views() {
				assert.True(t, v.IsStarted(), v.Namespace())
				assert.Equal(t, int32(1), b.membership(v.Namespace()).starts.Load(), v.Namespace())
			}

			wg = create("b")
			require.NoError(t, p.Stop(ctx))
			wg.Wait()

			require.Len(t, p.Views(), 2*n)
			for _, v := range p.Views() {
				m := b.membership(v.Namespace())
				assert.False(t, v.IsStarted(), v.Namespace())
				assert.LessOrEqual(t, m.starts.Load(), int32(1), v.Namespace())
				assert.Equal(t, m.starts.Load(), m.stops.Load(), v.Namespace())
			}
		})
	}
}

func TestProviders_EngineBindRacingViewCreation(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, err := cluster.NewCluster(local.New("n1"))
		require.NoError(t, err)
		s, err := cluster.NewService(local.New("n1"))
		require.NoError(t, err)
		e := engine.New("e")

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				ns := fmt.Sprintf("ns-%d", j)
				_, err := c.GetOrCreateView(ns)
				assert.NoError(t, err)
				_, err = s.GetOrCreateView(ns)
				assert.NoError(t, err)
			}(j)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.SetEngine(e))
			assert.NoError(t, s.SetEngine(e))
		}()
		wg.Wait()

		for _, v := range append(c.Views(), s.Views()...) {
			require.Same(t, e, v.Engine(), "%s/%s", v.ClusterID(), v.Namespace())
		}
	}
}

func TestCluster_ViewCreatedLogCarriesBackendOnce(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c, err := cluster.NewCluster(local.New("n1"), cluster.WithID("c1"), cluster.WithLogger(zap.New(core)))
	require.NoError(t, err)
	_, err = c.GetOrCreateView("orders")
	require.NoError(t, err)

	created := logs.FilterMessage("view created").All()
	require.Len(t, created, 1)
	backends := 0
	for _, f := range created[0].Context {
		if f.Key == "backend" {
			backends++
		}
	}
	assert.Equal(t, 1, backends)
	assert.Equal(t, "orders", created[0].ContextMap()["namespace"])
}
