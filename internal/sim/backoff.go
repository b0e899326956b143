package sim

import (
	"math/rand"
	"time"
)

// Delivery retry bounds at the transport boundary. A tick that has to retry
// runs long; the drift-corrected sleep absorbs the overrun on later ticks.
const (
	deliveryAttempts       = 5
	deliveryBackoffInitial = 5 * time.Millisecond
	deliveryBackoffMax     = 100 * time.Millisecond
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	max     time.Duration
	current time.Duration
}

// newBackoff creates a new backoff with the given initial and max durations.
func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{
		max:     max,
		current: initial,
	}
}

// Sleep sleeps for the current backoff duration and increases it.
func (b *backoff) Sleep() {
	// Add jitter: ±20%
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	sleep := time.Duration(float64(b.current) + jitter)

	time.Sleep(sleep)

	// Increase for next time
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
}
