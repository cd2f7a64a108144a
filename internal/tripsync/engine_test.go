package tripsync_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tripsync/internal/model"
	"tripsync/internal/remote"
	"tripsync/internal/testutil"
	"tripsync/internal/tripsync"
)

func TestSyncEngine_PushPull(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	a := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})
	b := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})

	rec := a.write(t, "t1", "Tokyo")
	if n := a.drain(t); n != 1 {
		t.Fatalf("DrainOutbox() = %d, want 1", n)
	}
	if a.pending(t) != 0 {
		t.Error("outbox not empty after push")
	}
	if a.local.Get("t1").Dirty {
		t.Error("record still dirty after push")
	}
	if a.metrics.Count("push/trip/ok") != 1 {
		t.Errorf("push/trip/ok = %d, want 1", a.metrics.Count("push/trip/ok"))
	}

	t.Run("payload leaves the device sealed", func(t *testing.T) {
		stored, err := store.Get(ctx, account, model.KindTrip, "t1")
		if err != nil || stored == nil {
			t.Fatalf("Get() = %v, %v", stored, err)
		}
		if bytes.Equal(stored.Payload, rec.Payload) {
			t.Error("remote holds the plaintext payload")
		}
		if stored.OwnerAccountID != account {
			t.Errorf("owner = %q, want %q", stored.OwnerAccountID, account)
		}
	})

	t.Run("second device pulls the same version", func(t *testing.T) {
		if err := b.engine.SyncKind(ctx, model.KindTrip); err != nil {
			t.Fatalf("SyncKind() error = %v", err)
		}
		got := b.local.Get("t1")
		if got == nil {
			t.Fatal("t1 not pulled")
		}
		if !bytes.Equal(got.Payload, rec.Payload) || !got.ModifiedAt.Equal(rec.ModifiedAt) || got.Dirty {
			t.Errorf("pulled = %+v, want clean copy of %+v", got, rec)
		}
		if c, _ := b.local.Cursor(model.KindTrip); c == "" {
			t.Error("cursor not persisted")
		}
	})

	t.Run("applying the feed again changes nothing", func(t *testing.T) {
		b.local.SetCursor(model.KindTrip, "")
		if err := b.engine.SyncKind(ctx, model.KindTrip); err != nil {
			t.Fatalf("SyncKind() error = %v", err)
		}
		if b.pending(t) != 0 {
			t.Error("re-applying a pulled record queued a push")
		}
		if b.metrics.Count("merge/identical") != 1 {
			t.Errorf("merge/identical = %d, want 1", b.metrics.Count("merge/identical"))
		}
	})
}

func TestSyncEngine_Pagination(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})
	b := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{PageSize: 2})

	for i := range 5 {
		a.write(t, fmt.Sprintf("t%d", i), fmt.Sprintf("Trip %d", i))
	}
	a.drain(t)

	if err := b.engine.SyncKind(context.Background(), model.KindTrip); err != nil {
		t.Fatalf("SyncKind() error = %v", err)
	}
	if got := len(b.local.All(model.KindTrip)); got != 5 {
		t.Errorf("pulled %d records, want 5", got)
	}
}

func TestSyncEngine_TransientFailure(t *testing.T) {
	clock := testutil.FixedClock()
	store := remote.NewMemoryStore()
	h := newEngineHarness(t, store, clock, tripsync.EngineOptions{BackoffBase: time.Second, BackoffMax: 8 * time.Second})

	h.write(t, "t1", "Tokyo")
	store.SetOffline(true)

	for attempt := range 5 {
		if n := h.drain(t); n != 0 {
			t.Fatalf("attempt %d pushed %d records while offline", attempt, n)
		}
		next, ok, _ := h.outbox.NextDue()
		if !ok || !next.After(clock.Now()) {
			t.Fatalf("attempt %d: push not rescheduled (next=%v)", attempt, next)
		}
		clock.Set(next)
	}

	st := h.status.Status()
	if st.State != tripsync.StateOffline || st.LastError == "" {
		t.Errorf("Status() = %+v, want offline with an error", st)
	}
	if h.pending(t) != 1 {
		t.Fatal("push lost while offline")
	}

	store.SetOffline(false)
	if n := h.drain(t); n != 1 {
		t.Fatalf("DrainOutbox() after reconnect = %d, want 1", n)
	}
	if st := h.status.Status(); st.State != tripsync.StateIdle || st.LastError != "" {
		t.Errorf("Status() after reconnect = %+v, want idle", st)
	}
}

func TestSyncEngine_BackoffIsCapped(t *testing.T) {
	clock := testutil.FixedClock()
	store := remote.NewMemoryStore()
	h := newEngineHarness(t, store, clock, tripsync.EngineOptions{BackoffBase: time.Second, BackoffMax: 4 * time.Second})

	h.write(t, "t1", "Tokyo")
	store.SetOffline(true)
	var waits []time.Duration
	for range 5 {
		h.drain(t)
		next, _, _ := h.outbox.NextDue()
		waits = append(waits, next.Sub(clock.Now()))
		clock.Set(next)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestSyncEngine_AuthExpired(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	h := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})

	h.write(t, "t1", "Tokyo")
	store.FailNext(tripsync.NewSyncError(tripsync.AuthExpired, "put", errors.New("token expired")))

	if _, err := h.engine.DrainOutbox(ctx); tripsync.ClassifyError(err) != tripsync.AuthExpired {
		t.Fatalf("DrainOutbox() error = %v, want auth-expired", err)
	}
	if !h.engine.Suspended() {
		t.Fatal("engine not suspended")
	}
	if st := h.status.Status(); st.State != tripsync.StateSuspended {
		t.Errorf("State = %s, want suspended", st.State)
	}
	if h.pending(t) != 1 {
		t.Error("push dropped on auth failure")
	}

	if _, err := h.engine.Push(ctx, h.local.Get("t1")); !errors.Is(err, tripsync.ErrSuspended) {
		t.Errorf("Push() while suspended error = %v, want ErrSuspended", err)
	}
	if err := h.engine.SyncKind(ctx, model.KindTrip); !errors.Is(err, tripsync.ErrSuspended) {
		t.Errorf("SyncKind() while suspended error = %v, want ErrSuspended", err)
	}
	if store.PutCount() != 0 {
		t.Error("suspended engine reached the remote")
	}

	h.engine.Resume()
	if h.status.Status().State != tripsync.StateIdle {
		t.Errorf("State after Resume() = %s, want idle", h.status.Status().State)
	}
	if n := h.drain(t); n != 1 {
		t.Errorf("DrainOutbox() after Resume() = %d, want 1", n)
	}
}

func TestSyncEngine_PermanentRejection(t *testing.T) {
	store := remote.NewMemoryStore()
	h := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})

	h.write(t, "t1", "Tokyo")
	store.FailNext(tripsync.NewSyncError(tripsync.PermanentRejection, "put", errors.New("too large")))

	h.drain(t)

	if h.pending(t) != 0 {
		t.Error("rejected push still queued")
	}
	got := h.local.Get("t1")
	if got == nil || !got.Rejected || got.Dirty {
		t.Errorf("record = %+v, want rejected and kept", got)
	}
	if h.metrics.Count("push/trip/permanent-rejection") != 1 {
		t.Error("rejection not counted")
	}
}

func TestSyncEngine_RateLimited(t *testing.T) {
	clock := testutil.FixedClock()
	store := remote.NewMemoryStore()
	h := newEngineHarness(t, store, clock, tripsync.EngineOptions{BackoffBase: time.Second, BackoffMax: time.Minute})

	h.write(t, "t1", "Tokyo")
	store.FailNext(tripsync.NewSyncError(tripsync.RateLimited, "put", errors.New("slow down")))
	h.drain(t)

	next, ok, _ := h.outbox.NextDue()
	if !ok {
		t.Fatal("rate-limited push dropped")
	}
	if wait := next.Sub(clock.Now()); wait < 4*time.Second {
		t.Errorf("rate-limited retry in %v, want at least 4s", wait)
	}
}

func TestSyncEngine_CursorExpired(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	a := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})
	b := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})

	a.write(t, "t1", "Tokyo")
	a.write(t, "t2", "Osaka")
	a.drain(t)
	if err := b.engine.SyncKind(ctx, model.KindTrip); err != nil {
		t.Fatalf("SyncKind() error = %v", err)
	}

	store.ExpireCursors()
	a.write(t, "t3", "Kyoto")
	a.drain(t)

	if err := b.engine.SyncKind(ctx, model.KindTrip); err != nil {
		t.Fatalf("SyncKind() after expiry error = %v", err)
	}
	if got := len(b.local.All(model.KindTrip)); got != 3 {
		t.Errorf("records after re-pull = %d, want 3", got)
	}
	if b.metrics.Count("pull/trip/cursor-expired") != 1 {
		t.Errorf("pull/trip/cursor-expired = %d, want 1", b.metrics.Count("pull/trip/cursor-expired"))
	}
}

func TestSyncEngine_PullDropsUntrustedRecords(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	h := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})
	cipher := testutil.NewTestCipher(t)

	sealed := func(data []byte) []byte {
		out, err := cipher.Seal(data)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		return out
	}

	good := tripRecord(t, "good", "Tokyo", t0)
	good.Payload = sealed(good.Payload)
	unsealed := tripRecord(t, "unsealed", "Tokyo", t0)
	invalid := tripRecord(t, "invalid", "x", t0)
	invalid.Payload = sealed([]byte(`{"title":""}`))
	unknown := tripRecord(t, "unknown", "x", t0)
	unknown.Payload = sealed([]byte(`{"title":"x","extra":1}`))

	for _, r := range []*tripsync.Record{good, unsealed, invalid, unknown} {
		if _, err := store.Put(ctx, account, r); err != nil {
			t.Fatalf("Put(%s) error = %v", r.ID, err)
		}
	}

	if err := h.engine.SyncKind(ctx, model.KindTrip); err != nil {
		t.Fatalf("SyncKind() error = %v", err)
	}
	all := h.local.All(model.KindTrip)
	if len(all) != 1 || all[0].ID != "good" {
		t.Errorf("stored = %v, want only the valid record", all)
	}
	if c, _ := h.local.Cursor(model.KindTrip); c == "" {
		t.Error("cursor not advanced past dropped records")
	}
}

func TestSyncEngine_ConcurrentEditsConverge(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	clockA := testutil.FixedClock()
	clockB := testutil.FixedClock()
	a := newEngineHarness(t, store, clockA, tripsync.EngineOptions{})
	b := newEngineHarness(t, store, clockB, tripsync.EngineOptions{})

	a.write(t, "t1", "Tokyo")
	a.drain(t)
	b.engine.SyncAll(ctx)

	// Both edit offline; B's edit is later.
	clockA.Advance(time.Second)
	a.write(t, "t1", "Tokyo (A)")
	clockB.Advance(2 * time.Second)
	b.write(t, "t1", "Tokyo (B)")

	for _, h := range []*engineHarness{a, b, a, b} {
		if err := h.engine.SyncAll(ctx); err != nil {
			t.Fatalf("SyncAll() error = %v", err)
		}
	}

	ra, rb := a.local.Get("t1"), b.local.Get("t1")
	if !tripsync.SameVersion(ra, rb) {
		t.Fatalf("devices diverged:\nA: %s\nB: %s", ra.Payload, rb.Payload)
	}
	if !bytes.Equal(ra.Payload, tripPayload(t, "Tokyo (B)")) {
		t.Errorf("converged on %s, want the later edit", ra.Payload)
	}
	if ra.Dirty || rb.Dirty {
		t.Error("converged records still dirty")
	}
}

// editingOutbox runs edit once, right after the first push the engine
// reports as done and before the outbox completes it.
type editingOutbox struct {
	tripsync.Outbox
	edit func()
}

func (o *editingOutbox) ProcessDue(now time.Time, limit int, fn tripsync.PushFunc) (int, error) {
	return o.Outbox.ProcessDue(now, limit, func(p tripsync.PendingPush) tripsync.PushResult {
		res := fn(p)
		if res.Outcome == tripsync.PushDone && o.edit != nil {
			edit := o.edit
			o.edit = nil
			edit()
		}
		return res
	})
}

func TestSyncEngine_EditDuringPushCompletion(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	h := newEngineHarness(t, store, testutil.FixedClock(), tripsync.EngineOptions{})
	ob := &editingOutbox{Outbox: h.outbox}
	engine := h.newEngine(t, store, ob, tripsync.EngineOptions{})

	h.write(t, "t1", "Tokyo")
	var edited *tripsync.Record
	ob.edit = func() {
		h.clock.Advance(time.Second)
		edited = h.write(t, "t1", "Kyoto")
	}

	if _, err := engine.DrainOutbox(ctx); err != nil {
		t.Fatalf("DrainOutbox() error = %v", err)
	}
	if edited == nil {
		t.Fatal("edit did not run")
	}
	h.drain(t)
	stored, err := store.Get(ctx, account, model.KindTrip, "t1")
	if err != nil || stored == nil {
		t.Fatalf("Get() = %v, %v", stored, err)
	}
	if !stored.ModifiedAt.Equal(edited.ModifiedAt) {
		t.Errorf("remote ModifiedAt = %v, want the edit at %v", stored.ModifiedAt, edited.ModifiedAt)
	}
	if store.PutCount() != 2 {
		t.Errorf("PutCount() = %d, want 2", store.PutCount())
	}
	if h.local.Get("t1").Dirty || h.pending(t) != 0 {
		t.Errorf("dirty = %v, pending = %d after pushing the edit", h.local.Get("t1").Dirty, h.pending(t))
	}
}
