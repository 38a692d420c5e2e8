package engine

// RoutePolicy observes the lifecycle of the routes it is attached to.
type RoutePolicy interface {
	// OnInit is called once when the route is added to the engine. An error
	// aborts the registration of that route only.
	OnInit(route Route) error

	// OnRemove is called once when the route is removed from the engine,
	// including during engine shutdown.
	OnRemove(route Route)
}

// RoutePolicyFactory creates a policy for every route added to an engine.
// A nil policy with a nil error means the factory does not apply to the route.
type RoutePolicyFactory interface {
	CreateRoutePolicy(e *Engine, routeID string) (RoutePolicy, error)
}

// RoutePolicyFactoryFunc adapts a function to RoutePolicyFactory.
type RoutePolicyFactoryFunc func(e *Engine, routeID string) (RoutePolicy, error)

func (f RoutePolicyFactoryFunc) CreateRoutePolicy(e *Engine, routeID string) (RoutePolicy, error) {
	return f(e, routeID)
}
