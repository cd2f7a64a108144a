// Package outbox is the durable queue of pending pushes. Entries are written
// by the local store together with the journaled record they belong to; the
// sync engine drains them here.
package outbox

import (
	"fmt"
	"sync"
	"time"

	"tripsync/internal/tripsync"
)

// queueStore is the part of tripsync.Database the outbox needs.
// Concurrency is managed by the caller (Outbox.mu).
type queueStore interface {
	DuePushes(now time.Time, limit int) ([]tripsync.PendingPush, error)
	NextPushAt() (time.Time, bool, error)
	ReschedulePush(recordID string, seq int64, attempts int, next time.Time, lastErr string) error
	CompletePush(recordID string, seq int64) error
	CountPushes() (int, error)
}

// Outbox implements tripsync.Outbox over the local database.
type Outbox struct {
	store  queueStore
	logger tripsync.Logger
	mu     sync.Mutex
}

var _ tripsync.Outbox = (*Outbox)(nil)

// New creates an outbox over store.
func New(store queueStore, logger tripsync.Logger) *Outbox {
	return &Outbox{store: store, logger: logger}
}

// ProcessDue calls fn for each push due at now, oldest first, and applies
// the outcome. A PushHalt result stops the batch and leaves that push
// queued. Only one batch runs at a time. Outcomes apply to the version fn
// saw: a record written again while fn ran stays queued.
func (o *Outbox) ProcessDue(now time.Time, limit int, fn tripsync.PushFunc) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	due, err := o.store.DuePushes(now, limit)
	if err != nil {
		return 0, fmt.Errorf("listing due pushes: %w", err)
	}

	done := 0
	for _, p := range due {
		res := fn(p)
		switch res.Outcome {
		case tripsync.PushDone:
			if err := o.store.CompletePush(p.RecordID, p.Seq); err != nil {
				return done, fmt.Errorf("completing push %s: %w", p.RecordID, err)
			}
			done++
		case tripsync.PushDrop:
			if err := o.store.CompletePush(p.RecordID, p.Seq); err != nil {
				return done, fmt.Errorf("dropping push %s: %w", p.RecordID, err)
			}
			o.logger.Warn("push dropped", "kind", p.Kind.String(), "id", p.RecordID, "attempts", p.Attempts, "error", res.Err)
		case tripsync.PushRetry:
			lastErr := ""
			if res.Err != nil {
				lastErr = res.Err.Error()
			}
			if err := o.store.ReschedulePush(p.RecordID, p.Seq, p.Attempts+1, res.RetryAt, lastErr); err != nil {
				return done, fmt.Errorf("rescheduling push %s: %w", p.RecordID, err)
			}
		case tripsync.PushHalt:
			return done, res.Err
		default:
			return done, fmt.Errorf("unknown push outcome %d", res.Outcome)
		}
	}
	return done, nil
}

// NextDue returns when the earliest queued push is scheduled.
func (o *Outbox) NextDue() (time.Time, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.NextPushAt()
}

// Count returns the number of queued pushes.
func (o *Outbox) Count() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.CountPushes()
}
