package tripsync

import "time"

// PushOutcome tells the outbox what to do with a processed push.
type PushOutcome int

const (
	// PushDone removes the push from the queue.
	PushDone PushOutcome = iota
	// PushRetry keeps the push and schedules another attempt at RetryAt.
	PushRetry
	// PushDrop removes the push without success; the record is flagged elsewhere.
	PushDrop
	// PushHalt leaves the push untouched and stops processing the batch.
	PushHalt
)

// PushResult is returned by a PushFunc.
type PushResult struct {
	Outcome PushOutcome
	RetryAt time.Time
	Err     error
}

// PushFunc attempts a single queued push.
type PushFunc func(p PendingPush) PushResult

// Outbox is the durable queue of pending pushes. Entries are added by
// LocalStore in the same transaction as the journaled write they belong to.
type Outbox interface {
	// ProcessDue calls fn for each push due at now (at most limit) and applies
	// its outcome. Only one batch runs at a time. Returns the number of pushes
	// completed and the error of a halting push, if any.
	ProcessDue(now time.Time, limit int, fn PushFunc) (int, error)

	// NextDue returns the earliest scheduled attempt.
	NextDue() (time.Time, bool, error)

	// Count returns the number of queued pushes.
	Count() (int, error)
}
