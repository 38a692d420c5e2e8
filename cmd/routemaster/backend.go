package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/cluster"
	"github.com/dropDatabas3/routemaster/internal/cluster/lease"
	"github.com/dropDatabas3/routemaster/internal/cluster/local"
	clusterpg "github.com/dropDatabas3/routemaster/internal/cluster/postgres"
	clusterraft "github.com/dropDatabas3/routemaster/internal/cluster/raft"
	clusterredis "github.com/dropDatabas3/routemaster/internal/cluster/redis"
	"github.com/dropDatabas3/routemaster/internal/config"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// backendHandle es el backend elegido más lo que hay que cerrar al salir.
type backendHandle struct {
	backend cluster.Backend
	pool    *pgxpool.Pool
	closers []func() error
}

func (h *backendHandle) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backendHandle, error) {
	nodeID := cfg.Cluster.NodeID
	h := &backendHandle{}

	switch cfg.Cluster.Backend {
	case config.BackendLocal:
		h.backend = local.New(nodeID, local.WithDefaultLeader(cfg.Cluster.Leader))

	case config.BackendRaft:
		node, err := clusterraft.NewNode(clusterraft.NodeOptions{
			NodeID:             nodeID,
			RaftAddr:           cfg.Raft.Addr,
			RaftDir:            cfg.Raft.Dir,
			Peers:              cfg.Raft.Nodes,
			BootstrapPreferred: cfg.Raft.BootstrapPreferred,
			DisableBootstrap:   cfg.Raft.DisableBootstrap,
			TLSEnable:          cfg.Raft.TLSEnable,
			TLSCertFile:        cfg.Raft.TLSCertFile,
			TLSKeyFile:         cfg.Raft.TLSKeyFile,
			TLSCAFile:          cfg.Raft.TLSCAFile,
			TLSServerName:      cfg.Raft.TLSServerName,
			Logger:             log.Named("raft"),
		})
		if err != nil {
			return nil, fmt.Errorf("raft node: %w", err)
		}
		h.closers = append(h.closers, node.Close)
		b, err := clusterraft.NewBackend(node)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		h.closers = append(h.closers, b.Close)
		h.backend = b

	case config.BackendRedis:
		client := rdb.NewClient(&rdb.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		h.closers = append(h.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		b, err := clusterredis.NewBackend(client, nodeID, clusterredis.Config{
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.RedisTTL(),
		}, lease.WithLogger(log.Named("redis")))
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		h.backend = b

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		h.pool = pool
		h.closers = append(h.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		b, err := clusterpg.NewBackend(pool, nodeID, clusterpg.Config{
			Prefix:   cfg.Postgres.Prefix,
			Interval: cfg.PostgresInterval(),
		}, lease.WithLogger(log.Named("postgres")))
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		h.backend = b

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Cluster.Backend)
	}

	log.Info("cluster backend ready", logger.Backend(h.backend.Name()), logger.MemberID(nodeID))
	return h, nil
}
