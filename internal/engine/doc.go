// Package engine is the route runtime the leadership subsystem plugs into.
//
// An [Engine] owns a set of [Route]s, a set of lifecycle [Service]s and a
// [Registry] of named collaborators. Routes with auto-startup enabled are
// started by the engine itself; routes attached to a [RoutePolicy] that
// disables auto-startup are started and stopped by that policy instead.
//
// Start-up completion is published exactly once per start through
// [Engine.AddStartupListener]. Listeners registered after the engine already
// started are invoked immediately with alreadyStarted=true.
package engine
