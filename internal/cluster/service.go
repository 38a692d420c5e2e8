package cluster

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dropDatabas3/routemaster/internal/engine"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

var (
	_ Provider           = (*Service)(nil)
	_ engine.Service     = (*Service)(nil)
	_ engine.EngineAware = (*Service)(nil)
)

// Service is a view container registered under a settable id. Unlike
// Cluster it can be rebound to another engine; the engine is then propagated
// to every existing view.
type Service struct {
	idMu sync.RWMutex
	id   string

	viewRegistry
	engine atomic.Pointer[engine.Engine]
}

// NewService creates a stopped Service over backend b.
func NewService(b Backend, opts ...Option) (*Service, error) {
	if b == nil {
		return nil, ErrNilBackend
	}
	o := buildOptions("cluster.service", opts)
	log := o.log.With(logger.Backend(b.Name()))
	s := &Service{id: o.id}
	s.init(b, log)
	return s, nil
}

// ID returns the current service id.
func (s *Service) ID() string {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.id
}

// SetID changes the service id.
func (s *Service) SetID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidID
	}
	s.idMu.Lock()
	s.id = id
	s.idMu.Unlock()
	return nil
}

// GetView returns the view for namespace, creating and (when the service is
// running) starting it on first use.
func (s *Service) GetView(namespace string) (*View, error) {
	return s.getOrCreate(s, namespace, s.Engine)
}

// GetOrCreateView is GetView; it satisfies Provider.
func (s *Service) GetOrCreateView(namespace string) (*View, error) {
	return s.GetView(namespace)
}

// Views returns the known views ordered by namespace.
func (s *Service) Views() []*View { return s.list() }

// IsRunning reports whether Start was called without a later Stop.
func (s *Service) IsRunning() bool { return s.running.Load() }

// Engine returns the bound engine, or nil.
func (s *Service) Engine() *engine.Engine { return s.engine.Load() }

// SetEngine (re)binds the service and every existing view to e.
func (s *Service) SetEngine(e *engine.Engine) error {
	s.engine.Store(e)
	s.propagate(e)
	return nil
}

// Start starts every known view.
func (s *Service) Start(ctx context.Context) error {
	if err := s.startAll(ctx); err != nil {
		return err
	}
	s.log.Info("cluster service started", logger.ClusterID(s.ID()), logger.Count(len(s.list())))
	return nil
}

// Stop stops every known view.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.stopAll(ctx); err != nil {
		return err
	}
	s.log.Info("cluster service stopped", logger.ClusterID(s.ID()))
	return nil
}
