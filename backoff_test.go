package rtclient

import (
	"math"
	"testing"
	"time"

	"github.com/usercast/rtclient/internal/test/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	t.Run("growth", func(t *testing.T) {
		t.Parallel()

		b := NewBackoff(4000*time.Millisecond, 0.05, 0)
		assert.Equal(t, "enabled", true, b.Enabled())

		var got []time.Duration
		for i := 0; i < 3; i++ {
			got = append(got, b.OnConnectFailure())
		}
		assert.Equal(t, "delays", []time.Duration{
			4000 * time.Millisecond,
			4200 * time.Millisecond,
			4410 * time.Millisecond,
		}, got)
	})

	t.Run("increasing", func(t *testing.T) {
		t.Parallel()

		b := NewBackoff(100*time.Millisecond, 0.05, 0)
		prev := time.Duration(0)
		for i := 0; i < 50; i++ {
			d := b.OnConnectFailure()
			if d <= prev {
				t.Fatalf("delay %v after %v is not increasing", d, prev)
			}
			prev = d
		}
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()

		b := NewBackoff(100*time.Millisecond, 0.5, 0)
		b.OnConnectFailure()
		b.OnConnectFailure()
		assert.Equal(t, "next", 225*time.Millisecond, b.Next())

		b.OnConnectSuccess()
		assert.Equal(t, "delay", 100*time.Millisecond, b.OnConnectFailure())
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		b := NewBackoff(0, 0, 0)
		assert.Equal(t, "base", DefaultReconnectDelay, b.Base())
		b.OnConnectFailure()
		assert.Equal(t, "next", 4200*time.Millisecond, b.Next())
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		b := NewBackoff(-time.Second, 0, 0)
		assert.Equal(t, "enabled", false, b.Enabled())
		assert.Equal(t, "base", time.Duration(0), b.Base())
	})

	t.Run("fixed", func(t *testing.T) {
		t.Parallel()

		b := NewBackoff(100*time.Millisecond, -1, 0)
		for i := 0; i < 3; i++ {
			assert.Equal(t, "delay", 100*time.Millisecond, b.OnConnectFailure())
		}
	})

	t.Run("max", func(t *testing.T) {
		t.Parallel()

		b := NewBackoff(time.Second, 1, 3*time.Second)
		var got []time.Duration
		for i := 0; i < 4; i++ {
			got = append(got, b.OnConnectFailure())
		}
		assert.Equal(t, "delays", []time.Duration{
			time.Second,
			2 * time.Second,
			3 * time.Second,
			3 * time.Second,
		}, got)
	})

	t.Run("overflow", func(t *testing.T) {
		t.Parallel()

		b := NewBackoff(time.Duration(math.MaxInt64/2), 3, 0)
		b.OnConnectFailure()
		assert.Equal(t, "next", time.Duration(math.MaxInt64), b.Next())
		assert.Equal(t, "delay", time.Duration(math.MaxInt64), b.OnConnectFailure())
	})
}
