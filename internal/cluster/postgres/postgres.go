// Package postgres provides a lease membership backend on PostgreSQL session
// advisory locks.
//
// Each namespace maps to pg_try_advisory_lock(hashtext(key)). The lock lives
// as long as the session, so a lease pins one pooled connection while held
// and gives it back on release or when the connection stops answering.
package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/routemaster/internal/cluster/lease"
)

const DefaultPrefix = "routemaster:"

var ErrNilPool = errors.New("postgres: nil pool")

// Config configures the Postgres backend.
type Config struct {
	// Prefix is prepended to the lock key. Defaults to DefaultPrefix.
	Prefix string
	// Interval is the acquire/check period.
	Interval time.Duration
}

// Lease is an advisory-lock namespace lease.
type Lease struct {
	pool *pgxpool.Pool
	key  string

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewLease creates the lease of namespace.
func NewLease(pool *pgxpool.Pool, prefix, namespace string) *Lease {
	return &Lease{pool: pool, key: Key(prefix, namespace)}
}

// Key returns the lock key of namespace, hashed server side.
func Key(prefix, namespace string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "leader:" + strings.TrimSpace(namespace)
}

func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err != nil {
			l.dropLocked(ctx)
			return false, err
		}
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, err
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.key)
	if err != nil {
		l.dropLocked(ctx)
		return err
	}
	l.conn.Release()
	l.conn = nil
	return nil
}

// dropLocked closes the pinned session so the server frees the lock with it.
func (l *Lease) dropLocked(ctx context.Context) {
	_ = l.conn.Conn().Close(ctx)
	l.conn.Release()
	l.conn = nil
}

// NewBackend creates a lease backend whose local member is localID.
func NewBackend(pool *pgxpool.Pool, localID string, cfg Config, opts ...lease.Option) (*lease.Backend, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	factory := func(namespace string) (lease.Lease, error) {
		return NewLease(pool, cfg.Prefix, namespace), nil
	}
	if cfg.Interval > 0 {
		opts = append([]lease.Option{lease.WithInterval(cfg.Interval)}, opts...)
	}
	return lease.New("postgres", localID, factory, opts...)
}
