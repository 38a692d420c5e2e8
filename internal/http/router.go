package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/engine"
	"github.com/dropDatabas3/routemaster/internal/policy"
)

// Deps son las dependencias del router de estado.
type Deps struct {
	Provider  cluster.Provider
	Engine    *engine.Engine
	Factories []*policy.Factory
	// Metrics se monta en /metrics si no es nil.
	Metrics http.Handler
}

type handlers struct {
	d Deps
}

// NewRouter arma el router chi de estado y salud del nodo.
func NewRouter(d Deps) http.Handler {
	h := &handlers{d: d}

	r := chi.NewRouter()
	r.Use(WithRecover, WithRequestID, WithMetrics, WithLogging)

	r.Get("/readyz", h.readyz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/cluster", h.cluster)
		r.Get("/cluster/{namespace}", h.view)
		r.Get("/policies", h.policies)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not_found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
	})
	return r
}

// readyz: 200 cuando el engine arrancó y el provider está corriendo.
func (h *handlers) readyz(w http.ResponseWriter, _ *http.Request) {
	if h.d.Engine != nil && !h.d.Engine.IsStarted() {
		WriteError(w, http.StatusServiceUnavailable, "not_ready", "engine not started")
		return
	}
	if h.d.Provider != nil && !h.d.Provider.IsRunning() {
		WriteError(w, http.StatusServiceUnavailable, "not_ready", "cluster not running")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) cluster(w http.ResponseWriter, _ *http.Request) {
	if h.d.Provider == nil {
		WriteError(w, http.StatusServiceUnavailable, "no_cluster", "")
		return
	}
	WriteJSON(w, http.StatusOK, clusterStatus(h.d.Provider))
}

// view no crea views: sólo lista las existentes.
func (h *handlers) view(w http.ResponseWriter, r *http.Request) {
	if h.d.Provider == nil {
		WriteError(w, http.StatusServiceUnavailable, "no_cluster", "")
		return
	}
	ns := strings.TrimSpace(chi.URLParam(r, "namespace"))
	for _, v := range h.d.Provider.Views() {
		if v.Namespace() == ns {
			WriteJSON(w, http.StatusOK, viewStatus(v))
			return
		}
	}
	WriteError(w, http.StatusNotFound, "view_not_found", ns)
}

func (h *handlers) policies(w http.ResponseWriter, r *http.Request) {
	ns := strings.TrimSpace(r.URL.Query().Get("namespace"))
	out := []PolicyStatus{}
	for _, f := range h.d.Factories {
		if f == nil || (ns != "" && f.Namespace() != ns) {
			continue
		}
		for _, p := range f.Policies() {
			out = append(out, policyStatus(p))
		}
	}
	WriteJSON(w, http.StatusOK, out)
}
