package rtsp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffSchedule(t *testing.T) {
	require.Equal(t, 500*time.Millisecond, Backoff(1))
	require.Equal(t, 16*time.Second, Backoff(6))
	require.Equal(t, 30*time.Second, Backoff(11))
	require.Equal(t, 30*time.Second, Backoff(1000))
	require.Equal(t, 30*time.Second, Backoff(1001)) // clamped to MaxAttempt
}
