package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/cluster/local"
	"github.com/dropDatabas3/routemaster/internal/config"
	"github.com/dropDatabas3/routemaster/internal/engine"
	rmhttp "github.com/dropDatabas3/routemaster/internal/http"
)

func testConfig(t *testing.T, leader bool) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Cluster.ID = "test-cluster"
	cfg.Cluster.NodeID = "n1"
	cfg.Cluster.Leader = leader
	cfg.Routes = []config.Route{
		{ID: "orders-sync", Namespace: "orders", Interval: "10ms"},
		{ID: "orders-audit", Namespace: "orders", Interval: "10ms"},
		{ID: "heartbeat", Interval: "10ms", Unmanaged: true},
	}
	return cfg
}

func startNode(t *testing.T, cfg *config.Config) *node {
	t.Helper()
	n, err := newNode(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
	return n
}

func routeStatus(t *testing.T, n *node, id string) engine.Status {
	t.Helper()
	r, ok := n.engine.Route(id)
	require.True(t, ok)
	return r.(*engine.TickerRoute).Status()
}

func TestNode_LeaderRunsManagedRoutes(t *testing.T) {
	n := startNode(t, testConfig(t, true))

	assert.Equal(t, engine.StatusStarted, routeStatus(t, n, "orders-sync"))
	assert.Equal(t, engine.StatusStarted, routeStatus(t, n, "orders-audit"))
	assert.Equal(t, engine.StatusStarted, routeStatus(t, n, "heartbeat"))

	require.Len(t, n.factories, 1)
	pols := n.factories[0].Policies()
	require.Len(t, pols, 1)
	assert.Equal(t, 2, pols[0].RefCount())
	assert.Equal(t, "test-cluster", n.svc.ID())
}

func TestNode_FollowerKeepsManagedRoutesStopped(t *testing.T) {
	n := startNode(t, testConfig(t, false))

	assert.Equal(t, engine.StatusStopped, routeStatus(t, n, "orders-sync"))
	assert.Equal(t, engine.StatusStarted, routeStatus(t, n, "heartbeat"))

	lb := n.backend.backend.(*local.Backend)
	lb.SetLeader("orders", true)
	assert.Equal(t, engine.StatusStarted, routeStatus(t, n, "orders-sync"))

	lb.SetLeader("orders", false)
	assert.Equal(t, engine.StatusStopped, routeStatus(t, n, "orders-sync"))
	assert.Equal(t, engine.StatusStarted, routeStatus(t, n, "heartbeat"))
}

func TestNode_UnknownBackend(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Cluster.Backend = "zookeeper"
	_, err := newNode(context.Background(), cfg, zap.NewNop())
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestStatusCommand(t *testing.T) {
	n := startNode(t, testConfig(t, true))
	srv := httptest.NewServer(rmhttp.NewRouter(rmhttp.Deps{
		Provider:  n.svc,
		Engine:    n.engine,
		Factories: n.factories,
	}))
	defer srv.Close()

	var buf bytes.Buffer
	require.NoError(t, runStatus(context.Background(), &buf, srv.URL, "text", time.Second))
	out := buf.String()
	assert.Contains(t, out, "cluster=test-cluster running=true")
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "leader")
	assert.Contains(t, out, "orders-sync,orders-audit")

	buf.Reset()
	require.NoError(t, runStatus(context.Background(), &buf, srv.URL, "json", time.Second))
	assert.Contains(t, buf.String(), `"ref_count": 2`)
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "dev\n", buf.String())
}
