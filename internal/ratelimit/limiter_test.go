package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowUpToLimitThenBlocks(t *testing.T) {
	l := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("origin-a")
		require.True(t, ok)
	}
	ok, retryAfter := l.Allow("origin-a")
	require.False(t, ok)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(1, time.Minute)

	ok, _ := l.Allow("origin-a")
	require.True(t, ok)

	ok, _ = l.Allow("origin-b")
	require.True(t, ok, "distinct keys must not share a window")
}

func TestResetClearsWindow(t *testing.T) {
	l := New(1, time.Minute)
	l.Allow("origin-a")
	ok, _ := l.Allow("origin-a")
	require.False(t, ok)

	l.Reset("origin-a")
	ok, _ = l.Allow("origin-a")
	require.True(t, ok)
}

func TestWindowExpiresOldAttempts(t *testing.T) {
	l := New(1, 20*time.Millisecond)
	ok, _ := l.Allow("origin-a")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	ok, _ = l.Allow("origin-a")
	require.True(t, ok, "window should have rolled over")
}
