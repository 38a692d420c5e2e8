// Package lease builds membership on top of an external lease: whoever holds
// the lease of a namespace is its leader.
//
// The membership polls its Lease on a fixed interval. TryAcquire both
// acquires and renews; a failed call demotes the local member until the next
// successful one. Concrete leases live in the redis and postgres packages.
package lease

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

const DefaultInterval = 2 * time.Second

var ErrNilFactory = errors.New("lease: nil lease factory")

// Lease is an exclusive, expiring hold on a namespace.
type Lease interface {
	// TryAcquire acquires the lease or renews it when already held. It
	// reports whether the caller holds the lease afterwards.
	TryAcquire(ctx context.Context) (bool, error)
	// Release gives the lease up if held.
	Release(ctx context.Context) error
}

// Factory builds the lease of one namespace.
type Factory func(namespace string) (Lease, error)

// Option configures a Backend.
type Option func(*Backend)

// WithInterval sets the acquire/renew period.
func WithInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithLogger sets the backend logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// Backend creates lease-driven memberships.
type Backend struct {
	name     string
	localID  string
	factory  Factory
	interval time.Duration
	log      *zap.Logger
}

var _ cluster.Backend = (*Backend)(nil)

// New creates a backend reported as name whose local member is localID.
func New(name, localID string, f Factory, opts ...Option) (*Backend, error) {
	if f == nil {
		return nil, ErrNilFactory
	}
	if strings.TrimSpace(localID) == "" {
		return nil, cluster.ErrInvalidID
	}
	b := &Backend{
		name:     name,
		localID:  localID,
		factory:  f,
		interval: DefaultInterval,
		log:      logger.Named("cluster.lease").With(logger.Backend(name), logger.MemberID(localID)),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

func (b *Backend) Name() string { return b.name }

// Interval returns the acquire/renew period.
func (b *Backend) Interval() time.Duration { return b.interval }

func (b *Backend) CreateMembership(namespace string, sink cluster.EventSink) (cluster.Membership, error) {
	l, err := b.factory(namespace)
	if err != nil {
		return nil, err
	}
	return &membership{
		backend:   b,
		namespace: namespace,
		lease:     l,
		sink:      sink,
		log:       b.log.With(logger.Namespace(namespace)),
	}, nil
}

type membership struct {
	backend   *Backend
	namespace string
	lease     Lease
	sink      cluster.EventSink
	log       *zap.Logger

	leader atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *membership) LocalMember() cluster.Member {
	return cluster.NewMember(m.backend.localID, m.leader.Load(), true)
}

func (m *membership) Members() []cluster.Member {
	return []cluster.Member{m.LocalMember()}
}

// Start runs one acquire attempt synchronously, then keeps polling in the
// background until Stop.
func (m *membership) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	m.poll(ctx)
	go m.loop(ctx, m.done)
	return nil
}

// Stop ends polling and releases the lease when held. Losing leadership this
// way is notified like any other change.
func (m *membership) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	<-m.done
	m.cancel, m.done = nil, nil

	var err error
	if m.leader.Load() {
		err = m.lease.Release(ctx)
		if err != nil {
			m.log.Warn("lease release failed", logger.Err(err))
		}
	}
	m.set(false)
	return err
}

func (m *membership) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(m.backend.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.poll(ctx)
		}
	}
}

func (m *membership) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.backend.interval)
	defer cancel()
	held, err := m.lease.TryAcquire(ctx)
	if err != nil {
		m.log.Warn("lease acquire failed", logger.Err(err))
		held = false
	}
	m.set(held)
}

func (m *membership) set(leader bool) {
	if m.leader.Swap(leader) == leader {
		return
	}
	m.log.Info("lease leadership changed", logger.Leader(leader))
	payload := cluster.LeadershipPayload{}
	if leader {
		payload = cluster.LeadershipPayload{LeaderID: m.backend.localID, Local: true}
	}
	m.sink.Fire(cluster.Event{Kind: cluster.EventLeadershipChanged, Payload: payload})
}
