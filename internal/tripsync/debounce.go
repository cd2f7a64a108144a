package tripsync

import "time"

// DefaultDebounceWindow coalesces local snapshot writes and remote change
// notifications.
const DefaultDebounceWindow = time.Second

// flushDue reports whether a coalescing queue holding pending writes should
// be flushed, given the time elapsed since its oldest pending write.
func flushDue(pending int, elapsed, window time.Duration) bool {
	if pending <= 0 {
		return false
	}
	return elapsed >= window
}
