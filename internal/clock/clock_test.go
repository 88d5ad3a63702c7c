//go:build linux || darwin

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBootTime(t *testing.T) {
	bt, err := BootTime()
	require.NoError(t, err)
	require.True(t, bt.Before(time.Now()))
	require.True(t, bt.After(time.Unix(0, 0)))
}

func TestClockAdvances(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	a := c.Now()
	require.GreaterOrEqual(t, a, int64(0))
	time.Sleep(time.Millisecond)
	require.Greater(t, c.Now(), a)

	mono, err := Monotonic()
	require.NoError(t, err)
	require.GreaterOrEqual(t, mono, c.Uptime())
	require.InDelta(t, time.Now().UnixNano(), c.Timestamp(), float64(time.Minute))
}
