// Package cluster defines the node-local view of cluster membership used to
// drive leadership-based route activation.
//
// A [Backend] adapts a coordination system (an embedded Raft group, a Redis
// or PostgreSQL lease, an in-memory stand-in) and builds one [Membership] per
// namespace. A [View] wraps that membership, answers "is the local member the
// leader of this namespace" and fans out backend events to filtered
// listeners.
//
// Views are created lazily and cached by two containers with the same
// contract and different identity models:
//
//   - [Cluster]: id fixed at construction (generated when not given), bound to
//     a single engine for its whole life.
//   - [Service]: id settable after construction; rebinding it to an engine
//     propagates the engine to every existing view.
//
// Both implement [Provider]. At most one view exists per (container,
// namespace) and views live as long as their container.
package cluster
