package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Resultados posibles de una transición de ruta.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// LeadershipChanges cuenta los cambios de liderazgo observados por una policy.
	LeadershipChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routemaster_leadership_changes_total",
		Help: "Cambios de liderazgo aplicados por namespace",
	}, []string{"namespace", "role"})

	// RouteTransitions cuenta start/stop de rutas gestionadas.
	RouteTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routemaster_route_transitions_total",
		Help: "Arranques y paradas de rutas gestionadas por liderazgo",
	}, []string{"namespace", "action", "result"})

	// Views es la cantidad de views creadas por cluster.
	Views = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "routemaster_cluster_views",
		Help: "Views creadas por cluster",
	}, []string{"cluster"})

	// ActivePolicies es la cantidad de policies con al menos una ruta registrada.
	ActivePolicies = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routemaster_active_policies",
		Help: "Policies de liderazgo activas",
	})

	// ListenerPanics cuenta listeners de eventos que entraron en panic.
	ListenerPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routemaster_listener_panics_total",
		Help: "Listeners de eventos recuperados tras un panic",
	}, []string{"namespace"})
)

// RegisterLeadership registra las métricas del subsistema de liderazgo.
func RegisterLeadership(reg prometheus.Registerer) error {
	return register(reg, LeadershipChanges, RouteTransitions, Views, ActivePolicies, ListenerPanics)
}

// Role devuelve la etiqueta de rol para LeadershipChanges.
func Role(leader bool) string {
	if leader {
		return "leader"
	}
	return "follower"
}
