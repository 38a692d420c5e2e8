// Package redis provides a lease membership backend on Redis.
//
// The leader of a namespace holds the key <prefix>leader:<namespace> with its
// member id as value. Acquire is SET NX PX; renew and release only touch the
// key while it still carries the local id.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/routemaster/internal/cluster/lease"
)

const (
	DefaultPrefix = "routemaster:"
	DefaultTTL    = 10 * time.Second
)

var ErrNilClient = errors.New("redis: nil client")

var (
	renewScript = rdb.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = rdb.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Config configures the Redis backend.
type Config struct {
	// Prefix is prepended to every key. Defaults to DefaultPrefix.
	Prefix string
	// TTL is the lease lifetime. It must exceed the renew interval.
	TTL time.Duration
	// Interval is the acquire/renew period. Defaults to a third of TTL.
	Interval time.Duration
}

// Lease is a Redis-held namespace lease.
type Lease struct {
	client rdb.UniversalClient
	key    string
	owner  string
	ttl    time.Duration
}

// NewLease creates the lease of namespace held as owner.
func NewLease(client rdb.UniversalClient, prefix, namespace, owner string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: Key(prefix, namespace), owner: owner, ttl: ttl}
}

// Key returns the leadership key of namespace.
func Key(prefix, namespace string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "leader:" + strings.TrimSpace(namespace)
}

func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err()
}

// Holder returns the member id currently holding the lease, or "".
func (l *Lease) Holder(ctx context.Context) (string, error) {
	v, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, rdb.Nil) {
		return "", nil
	}
	return v, err
}

// NewBackend creates a lease backend whose local member is localID.
func NewBackend(client rdb.UniversalClient, localID string, cfg Config, opts ...lease.Option) (*lease.Backend, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = cfg.TTL / 3
	}
	factory := func(namespace string) (lease.Lease, error) {
		return NewLease(client, cfg.Prefix, namespace, localID, cfg.TTL), nil
	}
	opts = append([]lease.Option{lease.WithInterval(cfg.Interval)}, opts...)
	return lease.New("redis", localID, factory, opts...)
}
