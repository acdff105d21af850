package bridge

import "time"

// Backoff returns the delay before reconnect attempt n (starting at 0).
type Backoff func(attempt int) time.Duration

// ExponentialBackoff doubles from initial up to max.
func ExponentialBackoff(initial, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := initial
		for i := 0; i < attempt && d < max; i++ {
			d *= 2
		}
		return min(d, max)
	}
}
