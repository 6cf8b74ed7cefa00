package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNoop_AlwaysMisses(t *testing.T) {
	var c Cache = Noop{}
	ctx := context.Background()

	v, ok := c.Get(ctx, "k")
	require.Nil(t, v)
	require.False(t, ok)
	require.False(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.False(t, c.Delete(ctx, "k"))
}

// deadClient returns a client pointed at a port nothing listens on.
func deadClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedis_TripsAfterConsecutiveFailures(t *testing.T) {
	client := deadClient()
	defer client.Close()

	c := NewWithClient(client, 2, zerolog.Nop())
	ctx := context.Background()

	require.False(t, c.tripped())

	_, ok := c.Get(ctx, "k")
	require.False(t, ok)
	require.False(t, c.tripped(), "one failure is below the cap")

	_, _ = c.Get(ctx, "k")
	require.True(t, c.tripped())

	// tripped handle answers without touching the backend
	start := time.Now()
	require.False(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok = c.Get(ctx, "k")
	require.False(t, ok)
	require.False(t, c.Delete(ctx, "k"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRedis_SuccessResetsFailureCount(t *testing.T) {
	client := deadClient()
	defer client.Close()

	c := NewWithClient(client, 3, zerolog.Nop())
	c.failures.Store(2)

	c.observe(nil)
	require.Equal(t, int64(0), c.failures.Load())
	require.False(t, c.tripped())
}

func TestNewWithClient_DefaultsMaxFailures(t *testing.T) {
	client := deadClient()
	defer client.Close()

	c := NewWithClient(client, 0, zerolog.Nop())
	require.Equal(t, int64(5), c.maxFailures)
}
