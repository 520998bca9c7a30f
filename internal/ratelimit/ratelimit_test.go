package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(rdb, 2, time.Second)

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(context.Background(), "u2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	mr.FastForward(2 * time.Second)
	ok, err = l.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSteadyRateBelowLimitIsNeverDenied(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(rdb, 3, 10*time.Second)

	// One hit every 4s stays under three per 10s. A TTL refreshed on each hit
	// would keep the counter alive and deny the fourth.
	for i := 0; i < 10; i++ {
		ok, err := l.Allow(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i)
		mr.FastForward(4 * time.Second)
	}
}

func TestDeniedHitsDoNotExtendWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(rdb, 1, 10*time.Second)

	ok, err := l.Allow(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		mr.FastForward(3 * time.Second)
		ok, err = l.Allow(context.Background(), "u1")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, time.Second, mr.TTL("rl:u1"))

	mr.FastForward(time.Second)
	ok, err = l.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCounterWithoutTTLIsRepaired(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, mr.Set("rl:u1", "5"))
	l := New(rdb, 1, 10*time.Second)

	ok, err := l.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Second, mr.TTL("rl:u1"))
}

func TestDisabledLimiter(t *testing.T) {
	var nilLimiter *Limiter
	ok, err := nilLimiter.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = New(nil, 5, time.Second).Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}
