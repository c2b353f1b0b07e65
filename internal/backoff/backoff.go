// Package backoff computes retry delays. Kept free of timers so both
// the outbox publisher and the consumer reconnect loop can test their
// schedules without sleeping.
package backoff

import "time"

// Delay returns the exponential delay for a 0-based attempt count:
// base, 2*base, 4*base, ... capped at max.
func Delay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
