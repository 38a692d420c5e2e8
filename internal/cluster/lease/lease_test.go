package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/routemaster/internal/cluster"
)

// fakeLease is a shared in-memory lock: one holder per namespace.
type fakeLease struct {
	store *fakeStore
	ns    string
	owner string
}

type fakeStore struct {
	mu       sync.Mutex
	holders  map[string]string
	failing  bool
	releases int
}

func newFakeStore() *fakeStore { return &fakeStore{holders: make(map[string]string)} }

func (s *fakeStore) factory(owner string) Factory {
	return func(ns string) (Lease, error) {
		return &fakeLease{store: s, ns: ns, owner: owner}, nil
	}
}

func (s *fakeStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *fakeStore) drop(ns string) {
	s.mu.Lock()
	delete(s.holders, ns)
	s.mu.Unlock()
}

func (l *fakeLease) TryAcquire(context.Context) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.store.failing {
		return false, errors.New("store unavailable")
	}
	h, ok := l.store.holders[l.ns]
	if !ok {
		l.store.holders[l.ns] = l.owner
		return true, nil
	}
	return h == l.owner, nil
}

func (l *fakeLease) Release(context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.store.holders[l.ns] == l.owner {
		delete(l.store.holders, l.ns)
		l.store.releases++
	}
	return nil
}

type sink struct {
	mu     sync.Mutex
	events []cluster.Event
}

func (s *sink) Fire(ev cluster.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("x", "n1", nil)
	require.ErrorIs(t, err, ErrNilFactory)
	_, err = New("x", " ", newFakeStore().factory("n1"))
	require.ErrorIs(t, err, cluster.ErrInvalidID)

	b, err := New("x", "n1", newFakeStore().factory("n1"), WithInterval(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "x", b.Name())
	assert.Equal(t, time.Second, b.Interval())
}

func TestMembership_SingleHolder(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	b1, err := New("fake", "n1", store.factory("n1"), WithInterval(5*time.Millisecond))
	require.NoError(t, err)
	b2, err := New("fake", "n2", store.factory("n2"), WithInterval(5*time.Millisecond))
	require.NoError(t, err)

	s1, s2 := &sink{}, &sink{}
	m1, err := b1.CreateMembership("orders", s1)
	require.NoError(t, err)
	m2, err := b2.CreateMembership("orders", s2)
	require.NoError(t, err)

	require.NoError(t, m1.Start(ctx))
	require.NoError(t, m2.Start(ctx))
	assert.True(t, m1.LocalMember().IsLeader())
	assert.False(t, m2.LocalMember().IsLeader())
	assert.Equal(t, 1, s1.count())
	assert.Zero(t, s2.count())

	require.NoError(t, m1.Stop(ctx))
	assert.False(t, m1.LocalMember().IsLeader())
	assert.Equal(t, 2, s1.count())
	assert.Equal(t, 1, store.releases)

	require.Eventually(t, func() bool { return m2.LocalMember().IsLeader() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s2.count())
	require.NoError(t, m2.Stop(ctx))
}

func TestMembership_AcquireErrorsDemote(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	b, err := New("fake", "n1", store.factory("n1"), WithInterval(5*time.Millisecond))
	require.NoError(t, err)
	s := &sink{}
	m, err := b.CreateMembership("orders", s)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	require.True(t, m.LocalMember().IsLeader())

	store.setFailing(true)
	require.Eventually(t, func() bool { return !m.LocalMember().IsLeader() }, time.Second, 5*time.Millisecond)

	store.setFailing(false)
	require.Eventually(t, func() bool { return m.LocalMember().IsLeader() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, s.count())
}

func TestMembership_LostLease(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	b, err := New("fake", "n1", store.factory("n1"), WithInterval(5*time.Millisecond))
	require.NoError(t, err)
	m, err := b.CreateMembership("orders", &sink{})
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	store.mu.Lock()
	store.holders["orders"] = "someone-else"
	store.mu.Unlock()
	require.Eventually(t, func() bool { return !m.LocalMember().IsLeader() }, time.Second, 5*time.Millisecond)

	store.drop("orders")
	require.Eventually(t, func() bool { return m.LocalMember().IsLeader() }, time.Second, 5*time.Millisecond)
	assert.Len(t, m.Members(), 1)
}

func TestMembership_StartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	b, err := New("fake", "n1", newFakeStore().factory("n1"))
	require.NoError(t, err)
	m, err := b.CreateMembership("orders", &sink{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
}
