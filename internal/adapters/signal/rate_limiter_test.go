package signal

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	mock := clock.NewMock()
	rl := NewRateLimiter(2, 10*time.Second, mock)

	require.True(t, rl.Allow("10"))
	mock.Add(4 * time.Second)
	require.True(t, rl.Allow("10"))
	require.False(t, rl.Allow("10"))
	require.True(t, rl.Allow("20"))

	mock.Add(7 * time.Second)
	require.True(t, rl.Allow("10"))
	require.False(t, rl.Allow("10"))
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, clock.NewMock())
	require.True(t, rl.Allow("10"))
	require.False(t, rl.Allow("10"))
	rl.Forget("10")
	require.True(t, rl.Allow("10"))
}
