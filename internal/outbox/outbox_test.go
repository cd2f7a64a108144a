package outbox

import (
	"errors"
	"testing"
	"time"

	"tripsync/internal/database"
	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

var t0 = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newTestOutbox(t *testing.T, ids ...string) (*Outbox, *database.SQLiteDatabase) {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i, id := range ids {
		at := t0.Add(time.Duration(i) * time.Millisecond)
		if _, err := db.AppendJournal(model.KindTrip, id, []byte(`{}`), true, at); err != nil {
			t.Fatalf("AppendJournal() error = %v", err)
		}
	}
	return New(db, tripsync.NewNopLogger()), db
}

func TestOutbox_ProcessDue(t *testing.T) {
	t.Run("done and drop remove the push", func(t *testing.T) {
		ob, _ := newTestOutbox(t, "a", "b")

		n, err := ob.ProcessDue(t0.Add(time.Second), 10, func(p tripsync.PendingPush) tripsync.PushResult {
			if p.RecordID == "a" {
				return tripsync.PushResult{Outcome: tripsync.PushDone}
			}
			return tripsync.PushResult{Outcome: tripsync.PushDrop, Err: errors.New("malformed")}
		})
		if err != nil {
			t.Fatalf("ProcessDue() error = %v", err)
		}
		if n != 1 {
			t.Errorf("ProcessDue() = %d, want 1 completed", n)
		}
		if c, _ := ob.Count(); c != 0 {
			t.Errorf("Count() = %d, want 0", c)
		}
	})

	t.Run("retry reschedules with attempt count", func(t *testing.T) {
		ob, db := newTestOutbox(t, "a")
		retryAt := t0.Add(4 * time.Second)

		_, err := ob.ProcessDue(t0.Add(time.Second), 10, func(p tripsync.PendingPush) tripsync.PushResult {
			return tripsync.PushResult{Outcome: tripsync.PushRetry, RetryAt: retryAt, Err: errors.New("offline")}
		})
		if err != nil {
			t.Fatalf("ProcessDue() error = %v", err)
		}

		next, ok, _ := ob.NextDue()
		if !ok || !next.Equal(retryAt) {
			t.Errorf("NextDue() = %v, %v; want %v", next, ok, retryAt)
		}
		due, _ := db.DuePushes(retryAt, 10)
		if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "offline" {
			t.Errorf("DuePushes() = %+v", due)
		}

		calls := 0
		ob.ProcessDue(t0.Add(2*time.Second), 10, func(tripsync.PendingPush) tripsync.PushResult {
			calls++
			return tripsync.PushResult{Outcome: tripsync.PushDone}
		})
		if calls != 0 {
			t.Errorf("push processed %d times before it was due", calls)
		}
	})

	t.Run("halt stops the batch and keeps the push", func(t *testing.T) {
		ob, _ := newTestOutbox(t, "a", "b", "c")
		halt := errors.New("auth expired")

		var seen []string
		_, err := ob.ProcessDue(t0.Add(time.Second), 10, func(p tripsync.PendingPush) tripsync.PushResult {
			seen = append(seen, p.RecordID)
			if p.RecordID == "b" {
				return tripsync.PushResult{Outcome: tripsync.PushHalt, Err: halt}
			}
			return tripsync.PushResult{Outcome: tripsync.PushDone}
		})
		if !errors.Is(err, halt) {
			t.Fatalf("ProcessDue() error = %v, want %v", err, halt)
		}
		if len(seen) != 2 {
			t.Errorf("processed %v, want a and b only", seen)
		}
		if c, _ := ob.Count(); c != 2 {
			t.Errorf("Count() = %d, want 2", c)
		}
	})

	t.Run("write during processing keeps the push", func(t *testing.T) {
		ob, db := newTestOutbox(t, "a")

		n, err := ob.ProcessDue(t0.Add(time.Second), 1, func(p tripsync.PendingPush) tripsync.PushResult {
			if _, err := db.AppendJournal(model.KindTrip, "a", []byte(`{"v":2}`), true, t0.Add(time.Second)); err != nil {
				t.Fatalf("AppendJournal() error = %v", err)
			}
			return tripsync.PushResult{Outcome: tripsync.PushDone}
		})
		if err != nil || n != 1 {
			t.Fatalf("ProcessDue() = %d, %v", n, err)
		}
		if c, _ := ob.Count(); c != 1 {
			t.Errorf("Count() = %d, want the newer write still queued", c)
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		ob, _ := newTestOutbox(t, "a", "b", "c")

		n, _ := ob.ProcessDue(t0.Add(time.Second), 2, func(tripsync.PendingPush) tripsync.PushResult {
			return tripsync.PushResult{Outcome: tripsync.PushDone}
		})
		if n != 2 {
			t.Errorf("ProcessDue() = %d, want 2", n)
		}
	})
}

func TestOutbox_Empty(t *testing.T) {
	ob, _ := newTestOutbox(t)

	if _, ok, err := ob.NextDue(); ok || err != nil {
		t.Errorf("NextDue() = %v, %v; want false, nil", ok, err)
	}
	n, err := ob.ProcessDue(t0, 10, func(tripsync.PendingPush) tripsync.PushResult {
		t.Fatal("fn called on empty outbox")
		return tripsync.PushResult{}
	})
	if n != 0 || err != nil {
		t.Errorf("ProcessDue() = %d, %v", n, err)
	}
}
