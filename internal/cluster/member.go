package cluster

import "context"

// Member is one participant of a namespace as seen by a backend.
type Member interface {
	ID() string
	IsLeader() bool
	IsLocal() bool
}

// NewMember returns an immutable Member snapshot.
func NewMember(id string, leader, local bool) Member {
	return member{id: id, leader: leader, local: local}
}

type member struct {
	id     string
	leader bool
	local  bool
}

func (m member) ID() string     { return m.id }
func (m member) IsLeader() bool { return m.leader }
func (m member) IsLocal() bool  { return m.local }

// Membership is the per-namespace handle a backend hands to a View.
type Membership interface {
	// LocalMember returns this node. It may be called before Start.
	LocalMember() Member
	Members() []Member
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// EventSink receives backend notifications. *View implements it.
type EventSink interface {
	Fire(ev Event)
}

// Backend builds memberships for namespaces. CreateMembership is called at
// most once per namespace and container.
type Backend interface {
	Name() string
	CreateMembership(namespace string, sink EventSink) (Membership, error)
}
