package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends de membership soportados.
const (
	BackendLocal    = "local"
	BackendRaft     = "raft"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

const defaultRaftDir = "./data/raft"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	App struct {
		// dev | staging | prod | test
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Cluster struct {
		Backend string `yaml:"backend"` // local | raft | redis | postgres
		ID      string `yaml:"id"`
		NodeID  string `yaml:"node_id"`
		// Solo backend local: liderazgo inicial de todos los namespaces.
		Leader bool `yaml:"leader"`
	} `yaml:"cluster"`

	Raft struct {
		Addr               string            `yaml:"addr"`
		Dir                string            `yaml:"dir"`
		Nodes              map[string]string `yaml:"nodes"` // nodeID -> host:port (raft)
		BootstrapPreferred bool              `yaml:"bootstrap_preferred"`
		DisableBootstrap   bool              `yaml:"disable_bootstrap"`

		// TLS for Raft transport (optional, mTLS when enabled)
		TLSEnable     bool   `yaml:"tls_enable"`
		TLSCertFile   string `yaml:"tls_cert_file"`
		TLSKeyFile    string `yaml:"tls_key_file"`
		TLSCAFile     string `yaml:"tls_ca_file"`
		TLSServerName string `yaml:"tls_server_name"`
	} `yaml:"raft"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Password string `yaml:"password"`
		Prefix   string `yaml:"prefix"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		Prefix   string `yaml:"prefix"`
		Interval string `yaml:"interval"`
	} `yaml:"postgres"`

	Routes []Route `yaml:"routes"`
}

// Route declara una ruta periódica gestionada por liderazgo.
type Route struct {
	ID        string `yaml:"id"`
	Namespace string `yaml:"namespace"`
	Interval  string `yaml:"interval"`
	// Unmanaged: la ruta arranca con el engine sin política de liderazgo.
	Unmanaged bool `yaml:"unmanaged"`
}

// Every devuelve el intervalo parseado (validado en Validate).
func (r Route) Every() time.Duration {
	d, _ := time.ParseDuration(r.Interval)
	return d
}

// Namespaces devuelve los namespaces gestionados, sin duplicados y en orden
// de aparición.
func (c *Config) Namespaces() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range c.Routes {
		if r.Unmanaged || seen[r.Namespace] {
			continue
		}
		seen[r.Namespace] = true
		out = append(out, r.Namespace)
	}
	return out
}

// RedisTTL devuelve el TTL del lease en Redis (validado en Validate).
func (c *Config) RedisTTL() time.Duration {
	d, _ := time.ParseDuration(c.Redis.TTL)
	return d
}

// PostgresInterval devuelve el período de lock en Postgres (validado en Validate).
func (c *Config) PostgresInterval() time.Duration {
	d, _ := time.ParseDuration(c.Postgres.Interval)
	return d
}

// Load lee el YAML, aplica defaults y overrides por env, y valida.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// Dir de raft relativo al YAML
	if strings.TrimSpace(c.Raft.Dir) == "" {
		c.Raft.Dir = defaultRaftDir
	}
	if !filepath.IsAbs(c.Raft.Dir) {
		c.Raft.Dir = filepath.Clean(filepath.Join(filepath.Dir(path), c.Raft.Dir))
	}
	return finish(&c)
}

// Default devuelve la configuración por defecto con overrides por env.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(c *Config) (*Config, error) {
	c.setDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Cluster.Backend == "" {
		c.Cluster.Backend = BackendLocal
	}
	if c.Cluster.NodeID == "" {
		if h, err := os.Hostname(); err == nil {
			c.Cluster.NodeID = h
		}
	}
	if c.Raft.Dir == "" {
		c.Raft.Dir = defaultRaftDir
	}
	if c.Raft.Nodes == nil {
		c.Raft.Nodes = map[string]string{}
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "routemaster:"
	}
	if c.Redis.TTL == "" {
		c.Redis.TTL = "10s"
	}
	if c.Postgres.Prefix == "" {
		c.Postgres.Prefix = "routemaster:"
	}
	if c.Postgres.Interval == "" {
		c.Postgres.Interval = "2s"
	}
	for i := range c.Routes {
		if c.Routes[i].Interval == "" {
			c.Routes[i].Interval = "5s"
		}
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP / LOG
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// CLUSTER
	if v, ok := getEnvStr("ROUTEMASTER_BACKEND"); ok {
		c.Cluster.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := getEnvStr("ROUTEMASTER_CLUSTER_ID"); ok {
		c.Cluster.ID = strings.TrimSpace(v)
	}
	if v, ok := getEnvStr("NODE_ID"); ok {
		c.Cluster.NodeID = strings.TrimSpace(v)
	}
	if v, ok := getEnvBool("ROUTEMASTER_LEADER"); ok {
		c.Cluster.Leader = v
	}

	// RAFT
	if v, ok := getEnvStr("RAFT_ADDR"); ok {
		c.Raft.Addr = strings.TrimSpace(v)
	}
	if v, ok := getEnvStr("RAFT_DIR"); ok {
		c.Raft.Dir = strings.TrimSpace(v)
	}
	// RAFT_NODES="n1=127.0.0.1:8201;n2=127.0.0.1:8202"
	if m, ok := getEnvKVList("RAFT_NODES", ";"); ok {
		for k, v := range m {
			c.Raft.Nodes[k] = v
		}
	}
	if v, ok := getEnvBool("RAFT_BOOTSTRAP_PREFERRED"); ok {
		c.Raft.BootstrapPreferred = v
	}
	if v, ok := getEnvBool("RAFT_DISABLE_BOOTSTRAP"); ok {
		c.Raft.DisableBootstrap = v
	}
	if v, ok := getEnvBool("RAFT_TLS_ENABLE"); ok {
		c.Raft.TLSEnable = v
	}
	if v, ok := getEnvStr("RAFT_TLS_CERT_FILE"); ok {
		c.Raft.TLSCertFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_KEY_FILE"); ok {
		c.Raft.TLSKeyFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_CA_FILE"); ok {
		c.Raft.TLSCAFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_SERVER_NAME"); ok {
		c.Raft.TLSServerName = v
	}

	// REDIS
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvStr("REDIS_LEASE_TTL"); ok {
		c.Redis.TTL = v
	}

	// POSTGRES
	if v, ok := getEnvStr("POSTGRES_DSN"); ok {
		c.Postgres.DSN = v
	}
}

// Validate revisa backend, parámetros del backend elegido y rutas.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cluster.Backend {
	case BackendLocal:
	case BackendRaft:
		if strings.TrimSpace(c.Raft.Addr) == "" {
			errs = append(errs, fmt.Errorf("%w: raft.addr is required", ErrInvalid))
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, fmt.Errorf("%w: redis.addr is required", ErrInvalid))
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			errs = append(errs, fmt.Errorf("%w: postgres.dsn is required", ErrInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown cluster.backend %q", ErrInvalid, c.Cluster.Backend))
	}
	if strings.TrimSpace(c.Cluster.NodeID) == "" {
		errs = append(errs, fmt.Errorf("%w: cluster.node_id is required", ErrInvalid))
	}
	if d, err := time.ParseDuration(c.Redis.TTL); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("%w: redis.ttl %q", ErrInvalid, c.Redis.TTL))
	}
	if d, err := time.ParseDuration(c.Postgres.Interval); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("%w: postgres.interval %q", ErrInvalid, c.Postgres.Interval))
	}

	ids := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		switch {
		case strings.TrimSpace(r.ID) == "":
			errs = append(errs, fmt.Errorf("%w: routes[%d].id is required", ErrInvalid, i))
		case ids[r.ID]:
			errs = append(errs, fmt.Errorf("%w: duplicate route id %q", ErrInvalid, r.ID))
		}
		ids[r.ID] = true
		if !r.Unmanaged && strings.TrimSpace(r.Namespace) == "" {
			errs = append(errs, fmt.Errorf("%w: routes[%d].namespace is required", ErrInvalid, i))
		}
		if d, err := time.ParseDuration(r.Interval); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%w: routes[%d].interval %q", ErrInvalid, i, r.Interval))
		}
	}
	return errors.Join(errs...)
}

// parse env of form "k1=v1<sep>k2=v2" into map
func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	items := strings.Split(s, sep)
	out := make(map[string]string, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		// split at first '='
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

func getEnvKVList(key, sep string) (map[string]string, bool) {
	if s, ok := getEnvStr(key); ok {
		return parseKVList(s, sep), true
	}
	return nil, false
}
