package redis

import (
	"context"
	"os"
	"testing"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *rdb.Client {
	t.Helper()
	addr := os.Getenv("ROUTEMASTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROUTEMASTER_TEST_REDIS_ADDR not set")
	}
	c := rdb.NewClient(&rdb.Options{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()).Err())
	return c
}

func TestKey(t *testing.T) {
	assert.Equal(t, "routemaster:leader:orders", Key("", " orders "))
	assert.Equal(t, "x:leader:orders", Key("x:", "orders"))
}

func TestNewBackend_Defaults(t *testing.T) {
	_, err := NewBackend(nil, "n1", Config{})
	require.ErrorIs(t, err, ErrNilClient)

	b, err := NewBackend(rdb.NewClient(&rdb.Options{Addr: "127.0.0.1:0"}), "n1", Config{TTL: 9 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "redis", b.Name())
	assert.Equal(t, 3*time.Second, b.Interval())
}

func TestLease_ExclusiveHold(t *testing.T) {
	ctx := context.Background()
	c := testClient(t)
	prefix := "routemaster-test:" + time.Now().Format("150405.000000") + ":"

	a := NewLease(c, prefix, "orders", "n1", 2*time.Second)
	b := NewLease(c, prefix, "orders", "n2", 2*time.Second)
	t.Cleanup(func() { _ = c.Del(context.Background(), Key(prefix, "orders")).Err() })

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "renew by holder")

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx))
	holder, err := a.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n1", holder)

	require.NoError(t, a.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
