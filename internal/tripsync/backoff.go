package tripsync

import "time"

const (
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffMax  = 60 * time.Second

	// rateLimitFactor stretches the base delay when the remote reports throttling.
	rateLimitFactor = 4
)

// Backoff returns the delay before retry number attempt (0-based): the
// exponential delay base*2^attempt capped at ceiling, with equal jitter so the
// result lies in [d/2, d].
func Backoff(attempt int, base, ceiling time.Duration, jitter Jitter) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	if jitter == nil {
		return d
	}
	half := d / 2
	j := jitter()
	if j < 0 {
		j = 0
	} else if j > 1 {
		j = 1
	}
	return half + time.Duration(float64(d-half)*j)
}
