package willys

import (
	"testing"

	"github.com/stretchr/testify/require"

	"matkollen-backend/lib/telemetry"
)

func TestSessionsDoNotShareRateLimiter(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:willys")
	t.Cleanup(cleanup)

	a, err := NewSession("id-a", nil, SessionOptions{BaseUrl: "http://localhost"})
	require.NoError(t, err)
	b, err := NewSession("id-b", nil, SessionOptions{BaseUrl: "http://localhost"})
	require.NoError(t, err)
	require.NotSame(t, a.limiter, b.limiter)

	// draining one session's burst leaves the other's untouched
	for i := 0; i < 8; i++ {
		require.True(t, a.limiter.Allow())
	}
	require.False(t, a.limiter.Allow())
	require.True(t, b.limiter.Allow())
}
