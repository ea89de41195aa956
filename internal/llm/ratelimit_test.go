package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("burst then limited", func(t *testing.T) {
		rl := NewRateLimiter(3)

		for i := 0; i < 3; i++ {
			assert.True(t, rl.tryAcquire(), "request %d should fit in the burst", i+1)
		}
		assert.False(t, rl.tryAcquire())
	})

	t.Run("context cancellation", func(t *testing.T) {
		rl := NewRateLimiter(1)
		require.NoError(t, rl.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := rl.Wait(ctx)
		require.Error(t, err)
	})

	t.Run("nil limiter never blocks", func(t *testing.T) {
		var rl *RateLimiter
		require.NoError(t, rl.Wait(context.Background()))
	})
}
