package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/cluster/local"
	"github.com/dropDatabas3/routemaster/internal/engine"
	"github.com/dropDatabas3/routemaster/internal/policy"
)

type fixture struct {
	backend *local.Backend
	svc     *cluster.Service
	engine  *engine.Engine
	factory *policy.Factory
	handler http.Handler
}

func newFixture(t *testing.T, metrics http.Handler) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{backend: local.New("n1")}

	svc, err := cluster.NewService(f.backend, cluster.WithID("svc"))
	require.NoError(t, err)
	f.svc = svc

	f.engine = engine.New("test")
	require.NoError(t, f.engine.AddService(ctx, svc))

	f.factory, err = policy.NewFactory("orders", policy.WithProvider(svc))
	require.NoError(t, err)
	f.engine.AddRoutePolicyFactory(f.factory)
	require.NoError(t, f.engine.AddRoute(ctx, engine.NewRoute("r1", nil, nil)))

	f.handler = NewRouter(Deps{
		Provider:  svc,
		Engine:    f.engine,
		Factories: []*policy.Factory{f.factory},
		Metrics:   metrics,
	})
	t.Cleanup(func() { _ = f.engine.Stop(context.Background()) })
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")

	require.NoError(t, f.engine.Start(context.Background()))
	rec = f.get(t, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestClusterStatus(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Start(context.Background()))
	f.backend.SetPeers("orders", "n2")
	f.backend.SetLeader("orders", true)

	rec := f.get(t, "/v1/cluster")
	require.Equal(t, http.StatusOK, rec.Code)

	var st ClusterStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "svc", st.ID)
	assert.True(t, st.Running)
	require.Len(t, st.Views, 1)

	v := st.Views[0]
	assert.Equal(t, "orders", v.Namespace)
	assert.True(t, v.Started)
	assert.True(t, v.LocalLeader)
	assert.Equal(t, "n1", v.Leader)
	assert.Equal(t, 1, v.Listeners)
	require.Len(t, v.Members, 2)
	assert.Equal(t, MemberStatus{ID: "n1", Leader: true, Local: true}, v.Members[0])
	assert.Equal(t, "n2", v.Members[1].ID)
	assert.False(t, v.Members[1].Local)
}

func TestViewStatus(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/v1/cluster/orders")
	require.Equal(t, http.StatusOK, rec.Code)
	var v ViewStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "orders", v.Namespace)
	assert.False(t, v.LocalLeader)

	rec = f.get(t, "/v1/cluster/billing")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "view_not_found")
	// la consulta no crea la view
	assert.Len(t, f.svc.Views(), 1)
}

func TestPolicies(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Start(context.Background()))

	decode := func(path string) []PolicyStatus {
		rec := f.get(t, path)
		require.Equal(t, http.StatusOK, rec.Code)
		var out []PolicyStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	out := decode("/v1/policies")
	require.Len(t, out, 1)
	assert.Equal(t, "follower", out[0].State)
	assert.Equal(t, []string{"r1"}, out[0].Stopped)
	assert.Empty(t, out[0].Started)
	assert.Equal(t, 1, out[0].RefCount)

	f.backend.SetLeader("orders", true)
	out = decode("/v1/policies?namespace=orders")
	require.Len(t, out, 1)
	assert.Equal(t, "leader", out[0].State)
	assert.True(t, out[0].Leader)
	assert.Equal(t, []string{"r1"}, out[0].Started)
	assert.Equal(t, "svc", out[0].ClusterID)

	assert.Empty(t, decode("/v1/policies?namespace=billing"))
}

func TestNotFoundAndMethod(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cluster", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := RegisterMetrics(MetricsConfig{Registry: reg, Gatherer: reg})
	require.NoError(t, err)

	f := newFixture(t, h)
	_ = f.get(t, "/readyz")

	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `path="/readyz"`)
}

func TestWithRecover(t *testing.T) {
	h := WithRequestID(WithRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "rid-1", rec.Header().Get("X-Request-ID"))
	assert.True(t, strings.Contains(rec.Body.String(), `"request_id":"rid-1"`))
}

func TestFetchCluster(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Start(context.Background()))
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	st, err := FetchCluster(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "svc", st.ID)
	require.Len(t, st.Views, 1)

	pols, err := FetchPolicies(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Len(t, pols, 1)

	_, err = FetchCluster(context.Background(), srv.Client(), srv.URL+"/missing")
	require.Error(t, err)
}
