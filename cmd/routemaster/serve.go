package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/config"
	"github.com/dropDatabas3/routemaster/internal/engine"
	rmhttp "github.com/dropDatabas3/routemaster/internal/http"
	"github.com/dropDatabas3/routemaster/internal/metrics"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
	"github.com/dropDatabas3/routemaster/internal/policy"
)

const (
	providerName    = "cluster"
	shutdownTimeout = 15 * time.Second
)

func runServe(ctx context.Context, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.Log.Level,
		NodeID:  cfg.Cluster.NodeID,
		Version: version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	if err := metrics.RegisterLeadership(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if cfg.Cluster.Backend == config.BackendRaft {
		if err := metrics.RegisterRaft(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := newNode(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		_ = n.Shutdown(context.Background())
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err, ok := <-n.server.Err():
		if ok && err != nil {
			serveErr = fmt.Errorf("http: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, n.Shutdown(sctx))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// node agrupa todo lo que corre en un proceso routemaster.
type node struct {
	cfg       *config.Config
	log       *zap.Logger
	backend   *backendHandle
	svc       *cluster.Service
	engine    *engine.Engine
	factories []*policy.Factory
	server    *rmhttp.Server
}

func newNode(ctx context.Context, cfg *config.Config, log *zap.Logger) (*node, error) {
	bh, err := buildBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	n := &node{cfg: cfg, log: log, backend: bh}
	if err := n.wire(ctx); err != nil {
		_ = bh.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) wire(ctx context.Context) error {
	svc, err := cluster.NewService(n.backend.backend, cluster.WithID(n.cfg.Cluster.ID))
	if err != nil {
		return err
	}
	n.svc = svc

	n.engine = engine.New(n.cfg.Cluster.NodeID)
	if err := n.engine.Registry().Bind(providerName, svc); err != nil {
		return err
	}
	if err := n.engine.AddService(ctx, svc); err != nil {
		return err
	}

	byNS := make(map[string]*policy.Factory)
	for _, ns := range n.cfg.Namespaces() {
		f, err := policy.NewFactory(ns, policy.WithProviderName(providerName))
		if err != nil {
			return err
		}
		byNS[ns] = f
		n.factories = append(n.factories, f)
	}

	for _, rc := range n.cfg.Routes {
		rt := engine.NewTickerRoute(rc.ID, rc.Every(), tickTask(n.log, rc))
		if rc.Unmanaged {
			if err := n.engine.AddRoute(ctx, rt); err != nil {
				return err
			}
			continue
		}
		p, err := byNS[rc.Namespace].CreateRoutePolicy(n.engine, rc.ID)
		if err != nil {
			return fmt.Errorf("route %s: %w", rc.ID, err)
		}
		if err := n.engine.AddRoute(ctx, rt, p); err != nil {
			return err
		}
	}

	var pool func() *pgxpool.Pool
	if n.backend.pool != nil {
		pool = func() *pgxpool.Pool { return n.backend.pool }
	}
	mh, err := rmhttp.RegisterMetrics(rmhttp.MetricsConfig{Pool: pool})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	n.server = rmhttp.NewServer(n.cfg.Server.Addr, rmhttp.NewRouter(rmhttp.Deps{
		Provider:  svc,
		Engine:    n.engine,
		Factories: n.factories,
		Metrics:   mh,
	}))
	return nil
}

// tickTask es la tarea de ejemplo de cada ruta: deja constancia del tick.
func tickTask(log *zap.Logger, rc config.Route) func(context.Context) error {
	l := log.With(logger.RouteID(rc.ID), logger.Namespace(rc.Namespace))
	return func(context.Context) error {
		l.Debug("tick")
		return nil
	}
}

func (n *node) Start(ctx context.Context) error {
	if err := n.engine.Start(ctx); err != nil {
		return err
	}
	n.server.Start()
	n.log.Info("routemaster started",
		logger.ClusterID(n.svc.ID()),
		logger.Backend(n.backend.backend.Name()),
		logger.Count(len(n.cfg.Routes)),
	)
	return nil
}

func (n *node) Shutdown(ctx context.Context) error {
	var errs []error
	if err := n.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := n.engine.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := n.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
