package rtclient

import (
	"math"
	"sync"
	"time"
)

// Reconnection defaults.
const (
	DefaultReconnectDelay  = 4 * time.Second
	DefaultReconnectGrowth = 0.05
)

// Backoff is the reconnection policy of the push channel.
//
// Each failure returns the current delay and grows it by a factor of
// 1+growth for the next failure. A success resets it to the base delay.
// There is no jitter.
type Backoff struct {
	base    time.Duration
	growth  float64
	max     time.Duration
	enabled bool

	mu      sync.Mutex
	current time.Duration
}

// NewBackoff returns a policy starting at base.
//
// A zero base means DefaultReconnectDelay and a zero growth means
// DefaultReconnectGrowth. A negative growth means no growth. A negative base
// is clamped to 0, which disables the policy: failures are still reported but
// never retried. max caps the delay; zero leaves it unbounded.
func NewBackoff(base time.Duration, growth float64, max time.Duration) *Backoff {
	if base == 0 {
		base = DefaultReconnectDelay
	}
	if base < 0 {
		base = 0
	}
	if growth == 0 {
		growth = DefaultReconnectGrowth
	}
	if growth < 0 {
		growth = 0
	}
	if max < 0 {
		max = 0
	}
	return &Backoff{
		base:    base,
		growth:  growth,
		max:     max,
		enabled: base > 0,
		current: base,
	}
}

// Enabled reports whether failures trigger a reconnection.
func (b *Backoff) Enabled() bool {
	return b.enabled
}

// Base returns the delay used after a success.
func (b *Backoff) Base() time.Duration {
	return b.base
}

// Next returns the delay the next failure will yield without changing it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.current
}

// OnConnectSuccess resets the delay to the base delay.
func (b *Backoff) OnConnectSuccess() {
	b.mu.Lock()
	b.current = b.base
	b.mu.Unlock()
}

// OnConnectFailure returns the delay to wait before the next attempt
// and grows the delay for the following failure.
func (b *Backoff) OnConnectFailure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.current
	if b.max > 0 && d > b.max {
		d = b.max
	}

	f := math.Round(float64(d) * (1 + b.growth))
	next := time.Duration(math.MaxInt64)
	if f < math.MaxInt64 {
		next = time.Duration(f)
	}
	if b.max > 0 && next > b.max {
		next = b.max
	}
	b.current = next
	return d
}
