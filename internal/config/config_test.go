package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeYAML(t, `
cluster:
  node_id: n1
routes:
  - id: poll-orders
    namespace: orders
  - id: poll-billing
    namespace: billing
    interval: 1m
  - id: heartbeat
    unmanaged: true
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, BackendLocal, c.Cluster.Backend)
	assert.Equal(t, 5*time.Second, c.Routes[0].Every())
	assert.Equal(t, time.Minute, c.Routes[1].Every())
	assert.Equal(t, []string{"orders", "billing"}, c.Namespaces())
	assert.Equal(t, 10*time.Second, c.RedisTTL())
	assert.Equal(t, 2*time.Second, c.PostgresInterval())
	assert.Equal(t, filepath.Join(filepath.Dir(p), "data", "raft"), c.Raft.Dir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "PROD")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ROUTEMASTER_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("NODE_ID", "env-node")
	t.Setenv("RAFT_NODES", "n1=127.0.0.1:8201; n2=127.0.0.1:8202")

	c, err := Load(writeYAML(t, "cluster:\n  node_id: yaml-node\n"))
	require.NoError(t, err)
	assert.Equal(t, "prod", c.App.Env)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, BackendRedis, c.Cluster.Backend)
	assert.Equal(t, 2, c.Redis.DB)
	assert.Equal(t, "env-node", c.Cluster.NodeID)
	assert.Equal(t, map[string]string{"n1": "127.0.0.1:8201", "n2": "127.0.0.1:8202"}, c.Raft.Nodes)
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]string{
		"unknown backend":    "cluster:\n  backend: zookeeper\n  node_id: n1\n",
		"raft without addr":  "cluster:\n  backend: raft\n  node_id: n1\n",
		"redis without addr": "cluster:\n  backend: redis\n  node_id: n1\n",
		"pg without dsn":     "cluster:\n  backend: postgres\n  node_id: n1\n",
		"route without ns":   "cluster:\n  node_id: n1\nroutes:\n  - id: a\n",
		"duplicate route":    "cluster:\n  node_id: n1\nroutes:\n  - {id: a, namespace: x}\n  - {id: a, namespace: y}\n",
		"bad interval":       "cluster:\n  node_id: n1\nroutes:\n  - {id: a, namespace: x, interval: soon}\n",
		"bad ttl":            "cluster:\n  node_id: n1\nredis:\n  ttl: -1s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeYAML(t, "routes: [unclosed"))
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	t.Setenv("NODE_ID", "n9")
	c, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "n9", c.Cluster.NodeID)
	assert.Empty(t, c.Namespaces())
}

func TestParseKVList(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, parseKVList(" a=1;;b = 2;c=;=x", ";"))
	assert.Empty(t, parseKVList("  ", ";"))
}
