// Package raft provides a membership backend on an embedded hashicorp/raft
// node. Raft leadership is cluster wide: the Raft leader leads every
// namespace.
package raft

import (
	"context"
	"sort"
	"sync"
	"time"

	hraft "github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/metrics"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

const (
	observationBuffer = 128
	queryTimeout      = 2 * time.Second
)

var _ cluster.Backend = (*Backend)(nil)

// Backend turns Raft observations into view events.
type Backend struct {
	node *Node
	log  *zap.Logger

	mu      sync.Mutex
	started map[*membership]struct{}

	ch       chan hraft.Observation
	observer *hraft.Observer
	done     chan struct{}
	once     sync.Once
}

// NewBackend observes node until Close. The node stays owned by the caller.
func NewBackend(node *Node) (*Backend, error) {
	if node == nil || node.r == nil {
		return nil, ErrNotInitialized
	}
	b := &Backend{
		node:    node,
		log:     node.log.Named("backend"),
		started: make(map[*membership]struct{}),
		ch:      make(chan hraft.Observation, observationBuffer),
		done:    make(chan struct{}),
	}
	b.observer = hraft.NewObserver(b.ch, false, func(o *hraft.Observation) bool {
		switch o.Data.(type) {
		case hraft.LeaderObservation, hraft.RaftState, hraft.PeerObservation:
			return true
		}
		return false
	})
	node.registerObserver(b.observer)
	go b.run()
	return b, nil
}

func (b *Backend) Name() string { return "raft" }

// Node returns the observed node.
func (b *Backend) Node() *Node { return b.node }

func (b *Backend) CreateMembership(namespace string, sink cluster.EventSink) (cluster.Membership, error) {
	return &membership{backend: b, namespace: namespace, sink: sink}, nil
}

// PublishedLeader returns the member id the Raft leader recorded for
// namespace in the replicated state.
func (b *Backend) PublishedLeader(namespace string) (string, bool) {
	return b.node.Get(leaderKey(namespace))
}

// Close stops observing the node.
func (b *Backend) Close() error {
	b.once.Do(func() {
		b.node.deregisterObserver(b.observer)
		close(b.done)
	})
	return nil
}

func (b *Backend) run() {
	for {
		select {
		case <-b.done:
			return
		case o := <-b.ch:
			b.observe(o)
		}
	}
}

func (b *Backend) observe(o hraft.Observation) {
	var ev cluster.Event
	switch d := o.Data.(type) {
	case hraft.LeaderObservation:
		if d.LeaderID == b.node.id {
			metrics.RaftLeadershipChanges.Inc()
		}
		ev = cluster.Event{
			Kind: cluster.EventLeadershipChanged,
			Payload: cluster.LeadershipPayload{
				LeaderID: string(d.LeaderID),
				Local:    d.LeaderID == b.node.id,
			},
		}
	case hraft.RaftState:
		ev = cluster.Event{Kind: cluster.EventLeadershipChanged, Payload: b.payload()}
	case hraft.PeerObservation:
		ev = cluster.Event{Kind: cluster.EventMembersChanged, Payload: d.Peer}
	default:
		return
	}

	targets := b.snapshot()
	for _, m := range targets {
		m.sink.Fire(ev)
	}
	if ev.Kind == cluster.EventLeadershipChanged && b.node.IsLeader() {
		for _, m := range targets {
			b.publish(m.namespace)
		}
	}
}

func (b *Backend) payload() cluster.LeadershipPayload {
	id := b.node.LeaderID()
	return cluster.LeadershipPayload{LeaderID: id, Local: id != "" && id == b.node.NodeID()}
}

// publish records the local node as leader of namespace.
func (b *Backend) publish(namespace string) {
	if v, ok := b.PublishedLeader(namespace); ok && v == b.node.NodeID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	_, err := b.node.Apply(ctx, Command{Op: OpSet, Key: leaderKey(namespace), Value: b.node.NodeID()})
	if err != nil {
		b.log.Debug("publish leader failed", logger.Namespace(namespace), logger.Err(err))
	}
}

func (b *Backend) snapshot() []*membership {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*membership, 0, len(b.started))
	for m := range b.started {
		out = append(out, m)
	}
	return out
}

func leaderKey(namespace string) string { return "leader/" + namespace }

type membership struct {
	backend   *Backend
	namespace string
	sink      cluster.EventSink
}

func (m *membership) LocalMember() cluster.Member {
	n := m.backend.node
	return cluster.NewMember(n.NodeID(), n.IsLeader(), true)
}

// Members lists the servers of the Raft configuration. When the
// configuration cannot be read only the local member is returned.
func (m *membership) Members() []cluster.Member {
	n := m.backend.node
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	conf, err := n.GetConfiguration(ctx)
	if err != nil {
		return []cluster.Member{m.LocalMember()}
	}
	leader := n.LeaderID()
	out := make([]cluster.Member, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		id := string(s.ID)
		out = append(out, cluster.NewMember(id, id == leader, id == n.NodeID()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (m *membership) Start(context.Context) error {
	b := m.backend
	b.mu.Lock()
	b.started[m] = struct{}{}
	b.mu.Unlock()
	if b.node.IsLeader() {
		go b.publish(m.namespace)
	}
	return nil
}

func (m *membership) Stop(context.Context) error {
	b := m.backend
	b.mu.Lock()
	delete(b.started, m)
	b.mu.Unlock()
	return nil
}
