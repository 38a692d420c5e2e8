// Package local provides an in-memory membership backend.
//
// Leadership is set programmatically with SetLeader, which makes it the
// backend of choice for tests and for single-node deployments where the node
// is always leader.
package local

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dropDatabas3/routemaster/internal/cluster"
)

var _ cluster.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithDefaultLeader sets the leadership of namespaces never passed to
// SetLeader.
func WithDefaultLeader(leader bool) Option {
	return func(b *Backend) { b.defaultLeader = leader }
}

type namespaceState struct {
	leader bool
	peers  []string
}

// Backend is an in-memory membership backend.
type Backend struct {
	localID       string
	defaultLeader bool

	mu          sync.RWMutex
	state       map[string]*namespaceState
	memberships map[string][]*membership
	created     map[string]int
}

// New creates a backend whose local member is localID.
func New(localID string, opts ...Option) *Backend {
	b := &Backend{
		localID:     localID,
		state:       make(map[string]*namespaceState),
		memberships: make(map[string][]*membership),
		created:     make(map[string]int),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) Name() string { return "local" }

// CreateMembership returns a membership bound to sink.
func (b *Backend) CreateMembership(namespace string, sink cluster.EventSink) (cluster.Membership, error) {
	m := &membership{backend: b, namespace: namespace, sink: sink}
	b.mu.Lock()
	b.memberships[namespace] = append(b.memberships[namespace], m)
	b.created[namespace]++
	b.mu.Unlock()
	return m, nil
}

// Created returns how many memberships were built for namespace.
func (b *Backend) Created(namespace string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.created[namespace]
}

// IsLeader reports the local leadership of namespace.
func (b *Backend) IsLeader(namespace string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isLeaderLocked(namespace)
}

func (b *Backend) isLeaderLocked(namespace string) bool {
	if st, ok := b.state[namespace]; ok {
		return st.leader
	}
	return b.defaultLeader
}

// SetLeader changes the local leadership of namespace and notifies started
// memberships when the value changed.
func (b *Backend) SetLeader(namespace string, leader bool) {
	b.mu.Lock()
	st := b.stateLocked(namespace)
	changed := st.leader != leader
	st.leader = leader
	targets := b.startedLocked(namespace)
	b.mu.Unlock()

	if !changed {
		return
	}
	fire(targets, cluster.Event{
		Kind:    cluster.EventLeadershipChanged,
		Payload: b.leadershipPayload(leader),
	})
}

// SetPeers replaces the remote members of namespace.
func (b *Backend) SetPeers(namespace string, peers ...string) {
	b.mu.Lock()
	st := b.stateLocked(namespace)
	st.peers = append([]string(nil), peers...)
	sort.Strings(st.peers)
	targets := b.startedLocked(namespace)
	b.mu.Unlock()

	fire(targets, cluster.Event{Kind: cluster.EventMembersChanged})
}

// Renotify re-sends a leadership event with the current state, as a backend
// would on a duplicated notification.
func (b *Backend) Renotify(namespace string) {
	b.mu.RLock()
	leader := b.isLeaderLocked(namespace)
	targets := b.startedLocked(namespace)
	b.mu.RUnlock()

	fire(targets, cluster.Event{
		Kind:    cluster.EventLeadershipChanged,
		Payload: b.leadershipPayload(leader),
	})
}

func (b *Backend) leadershipPayload(leader bool) cluster.LeadershipPayload {
	if leader {
		return cluster.LeadershipPayload{LeaderID: b.localID, Local: true}
	}
	return cluster.LeadershipPayload{}
}

func (b *Backend) stateLocked(namespace string) *namespaceState {
	st, ok := b.state[namespace]
	if !ok {
		st = &namespaceState{leader: b.defaultLeader}
		b.state[namespace] = st
	}
	return st
}

func (b *Backend) startedLocked(namespace string) []*membership {
	var out []*membership
	for _, m := range b.memberships[namespace] {
		if m.started.Load() {
			out = append(out, m)
		}
	}
	return out
}

// fire runs without the backend lock: listeners call back into LocalMember.
func fire(targets []*membership, ev cluster.Event) {
	for _, m := range targets {
		m.sink.Fire(ev)
	}
}

type membership struct {
	backend   *Backend
	namespace string
	sink      cluster.EventSink
	started   atomic.Bool
}

func (m *membership) LocalMember() cluster.Member {
	return cluster.NewMember(m.backend.localID, m.backend.IsLeader(m.namespace), true)
}

func (m *membership) Members() []cluster.Member {
	b := m.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	leader := b.isLeaderLocked(m.namespace)
	out := []cluster.Member{cluster.NewMember(b.localID, leader, true)}
	if st, ok := b.state[m.namespace]; ok {
		for _, p := range st.peers {
			out = append(out, cluster.NewMember(p, false, false))
		}
	}
	return out
}

func (m *membership) Start(context.Context) error {
	m.started.Store(true)
	return nil
}

func (m *membership) Stop(context.Context) error {
	m.started.Store(false)
	return nil
}
