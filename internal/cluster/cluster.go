package cluster

import (
	"context"
	"sync"

	"github.com/dropDatabas3/routemaster/internal/engine"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

var (
	_ Provider           = (*Cluster)(nil)
	_ engine.Service     = (*Cluster)(nil)
	_ engine.EngineAware = (*Cluster)(nil)
)

// Cluster is a view container whose id is fixed at construction and which
// belongs to exactly one engine.
type Cluster struct {
	id string
	viewRegistry

	engineMu sync.Mutex
	engine   *engine.Engine
}

// NewCluster creates a stopped Cluster over backend b. The id is generated
// unless WithID is given.
func NewCluster(b Backend, opts ...Option) (*Cluster, error) {
	if b == nil {
		return nil, ErrNilBackend
	}
	o := buildOptions("cluster", opts)
	log := o.log.With(logger.ClusterID(o.id), logger.Backend(b.Name()))
	c := &Cluster{id: o.id}
	c.init(b, log)
	return c, nil
}

// ID returns the cluster id.
func (c *Cluster) ID() string { return c.id }

// GetOrCreateView returns the view for namespace, creating and (when the
// cluster is running) starting it on first use.
func (c *Cluster) GetOrCreateView(namespace string) (*View, error) {
	return c.getOrCreate(c, namespace, c.Engine)
}

// Views returns the known views ordered by namespace.
func (c *Cluster) Views() []*View { return c.list() }

// IsRunning reports whether Start was called without a later Stop.
func (c *Cluster) IsRunning() bool { return c.running.Load() }

// Engine returns the bound engine, or nil.
func (c *Cluster) Engine() *engine.Engine {
	c.engineMu.Lock()
	defer c.engineMu.Unlock()
	return c.engine
}

// SetEngine binds the cluster to e. Binding again to the same engine is a
// no-op; binding to a different one fails with ErrEngineAlreadyBound.
func (c *Cluster) SetEngine(e *engine.Engine) error {
	c.engineMu.Lock()
	if c.engine != nil {
		same := c.engine == e
		c.engineMu.Unlock()
		if same {
			return nil
		}
		return ErrEngineAlreadyBound
	}
	c.engine = e
	c.engineMu.Unlock()

	c.propagate(e)
	return nil
}

// Start starts every known view. Views created afterwards start on creation.
func (c *Cluster) Start(ctx context.Context) error {
	if err := c.startAll(ctx); err != nil {
		return err
	}
	c.log.Info("cluster started", logger.Count(len(c.list())))
	return nil
}

// Stop stops every known view.
func (c *Cluster) Stop(ctx context.Context) error {
	if err := c.stopAll(ctx); err != nil {
		return err
	}
	c.log.Info("cluster stopped")
	return nil
}
