// Package policy implements leadership-driven route activation.
//
// A [Policy] is bound to one cluster view. Routes attached to it have their
// auto-startup disabled; the policy starts them while the local member leads
// the view's namespace and stops them otherwise. Several routes share one
// policy through reference counting: the policy unsubscribes and demotes
// itself when the last route is removed.
//
// Activation waits for engine start-up. Both the live start-up notification
// and the "engine already started" path end in the same one-shot activation,
// which subscribes to leadership events and evaluates leadership once.
//
// A [Factory] resolves the cluster provider and view for a namespace and hands
// out the shared policy for it.
package policy
