package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterAllowsBurstThenBlocks(t *testing.T) {
	l := New("", Config{RequestsPerSecond: 1, Burst: 2})
	defer l.Close()

	ctx := context.Background()
	ok1, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)
	ok2, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)
	ok3, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}

func TestLocalLimiterTracksKeysIndependently(t *testing.T) {
	l := New("", Config{RequestsPerSecond: 1, Burst: 1})
	defer l.Close()

	ctx := context.Background()
	okA, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)
	okB, err := l.Allow(ctx, "key-b")
	require.NoError(t, err)

	assert.True(t, okA)
	assert.True(t, okB)
}

func TestRedisLimiterAllowsBurstThenBlocks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	l := New(mr.Addr(), Config{RequestsPerSecond: 1, Burst: 2})
	defer l.Close()

	ctx := context.Background()
	ok1, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)
	ok2, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)
	ok3, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}
