package cluster

// EventKind discriminates backend notifications.
type EventKind string

const (
	// EventLeadershipChanged is raised when the leader of a namespace may
	// have changed. Listeners re-read the current state instead of trusting
	// the payload, since events may arrive out of order.
	EventLeadershipChanged EventKind = "leadership-changed"
	// EventMembersChanged is raised when members join or leave.
	EventMembersChanged EventKind = "members-changed"
)

// Event is a backend notification with an opaque payload.
type Event struct {
	Kind    EventKind
	Payload any
}

// LeadershipPayload is the payload of EventLeadershipChanged when the backend
// knows who leads.
type LeadershipPayload struct {
	LeaderID string
	Local    bool
}

// Predicate selects the events a listener receives. A nil Predicate accepts
// every event.
type Predicate func(ev Event) bool

// KindIs accepts events of the given kind.
func KindIs(kind EventKind) Predicate {
	return func(ev Event) bool { return ev.Kind == kind }
}

// EventListener consumes view events. Listeners are matched by identity on
// removal, so implementations must be comparable (use pointer receivers).
// A listener must not add or remove listeners on the view that is invoking
// it.
type EventListener interface {
	OnEvent(v *View, ev Event)
}
