package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitConsumesBurst(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.Equal(t, 0, rl.Available())
}

func TestWaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefillCapsAtMax(t *testing.T) {
	var mu sync.Mutex
	clock := time.Now()
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	require.NoError(t, rl.Wait(context.Background()))
	require.NoError(t, rl.Wait(context.Background()))
	assert.Equal(t, 0, rl.Available())

	mu.Lock()
	clock = clock.Add(10 * time.Second)
	mu.Unlock()
	assert.Equal(t, 2, rl.Available())
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var rl *RateLimiter
	assert.NoError(t, rl.Wait(context.Background()))
}
