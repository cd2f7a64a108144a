package tripsync

import (
	"time"

	"tripsync/internal/model"
)

// JournalEntry is one durably appended record version awaiting compaction
// into its kind's snapshot.
type JournalEntry struct {
	Seq  int64
	Kind model.Kind
	Data []byte
}

// PendingPush is a queued push for a record.
type PendingPush struct {
	RecordID      string
	Kind          model.Kind
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	EnqueuedAt    time.Time

	// Seq is the journal sequence of the write that last queued the push.
	// A newer write to the same record replaces it.
	Seq int64
}

// Database provides durable local storage for one account on one device.
// All methods should be implemented with appropriate transaction handling.
type Database interface {
	// Snapshot operations

	// LoadSnapshot returns the persisted snapshot blob for a kind and its
	// checksum. found is false when the kind has never been flushed.
	LoadSnapshot(kind model.Kind) (data []byte, checksum string, found bool, err error)

	// SaveSnapshot replaces the kind's snapshot and removes that kind's journal
	// entries with seq <= throughSeq, atomically.
	SaveSnapshot(kind model.Kind, data []byte, checksum string, throughSeq int64) error

	// ResetKind removes the snapshot and cursor of a kind. Journal entries
	// are kept: they hold local writes that may not have been pushed yet.
	ResetKind(kind model.Kind) error

	// Journal operations

	// AppendJournal durably appends a record version and returns its sequence
	// number. When enqueue is true a push for recordID is queued in the same
	// transaction.
	AppendJournal(kind model.Kind, recordID string, data []byte, enqueue bool, at time.Time) (int64, error)

	// LoadJournal returns all journal entries ordered by sequence.
	LoadJournal() ([]JournalEntry, error)

	// Cursor operations

	// GetCursor returns the last persisted pull cursor for a kind, or "".
	GetCursor(kind model.Kind) (Cursor, error)

	// SetCursor persists the pull cursor for a kind.
	SetCursor(kind model.Kind, cursor Cursor) error

	// Outbox operations

	// DuePushes returns up to limit queued pushes due at or before now,
	// oldest first.
	DuePushes(now time.Time, limit int) ([]PendingPush, error)

	// NextPushAt returns the earliest scheduled push time.
	NextPushAt() (at time.Time, ok bool, err error)

	// EnsurePush queues a push for recordID unless one is already queued.
	EnsurePush(kind model.Kind, recordID string, at time.Time) error

	// ReschedulePush records a failed attempt and the next attempt time. It
	// does nothing when the record was queued again after seq.
	ReschedulePush(recordID string, seq int64, attempts int, next time.Time, lastErr string) error

	// CompletePush removes a push from the queue. A push queued again after
	// seq stays.
	CompletePush(recordID string, seq int64) error

	// CountPushes returns the number of queued pushes.
	CountPushes() (int, error)

	// Close closes the database connection.
	Close() error
}
