package tripsync_test

import (
	"context"
	"testing"
	"time"

	"tripsync/internal/database"
	"tripsync/internal/model"
	"tripsync/internal/outbox"
	"tripsync/internal/testutil"
	"tripsync/internal/tripsync"
)

const account = "acct-1"

var t0 = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func tripPayload(t *testing.T, title string) []byte {
	t.Helper()
	data, err := model.Encode(model.Trip{Title: title})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

func tripRecord(t *testing.T, id, title string, at time.Time) *tripsync.Record {
	t.Helper()
	return &tripsync.Record{
		ID:             id,
		Kind:           model.KindTrip,
		Payload:        tripPayload(t, title),
		ModifiedAt:     at,
		OwnerAccountID: account,
	}
}

func openLocal(t *testing.T, db tripsync.Database, clock tripsync.Clock) *tripsync.LocalStore {
	t.Helper()
	local, err := tripsync.OpenLocalStore(db, tripsync.LocalStoreOptions{}, clock, tripsync.NewNopLogger(), nil)
	if err != nil {
		t.Fatalf("OpenLocalStore() error = %v", err)
	}
	return local
}

// engineHarness is one device's sync engine over an in-memory database.
type engineHarness struct {
	db      *database.SQLiteDatabase
	local   *tripsync.LocalStore
	outbox  *outbox.Outbox
	engine  *tripsync.SyncEngine
	status  *tripsync.StatusTracker
	metrics *testutil.CountingMetrics
	clock   *testutil.StubClock
}

func newEngineHarness(t *testing.T, remote tripsync.RemoteStore, clock *testutil.StubClock, opts tripsync.EngineOptions) *engineHarness {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	h := &engineHarness{
		db:      db,
		local:   openLocal(t, db, clock),
		outbox:  outbox.New(db, tripsync.NewNopLogger()),
		status:  tripsync.NewStatusTracker(tripsync.StateIdle),
		metrics: testutil.NewCountingMetrics(),
		clock:   clock,
	}
	h.engine = h.newEngine(t, remote, h.outbox, opts)
	return h
}

// newEngine builds an engine over the harness's local store that drains ob.
func (h *engineHarness) newEngine(t *testing.T, remote tripsync.RemoteStore, ob tripsync.Outbox, opts tripsync.EngineOptions) *tripsync.SyncEngine {
	t.Helper()
	return tripsync.NewSyncEngine(account, tripsync.EngineDeps{
		Local:   h.local,
		Outbox:  ob,
		Remote:  remote,
		Cipher:  testutil.NewTestCipher(t),
		Status:  h.status,
		Clock:   h.clock,
		Jitter:  testutil.FixedJitter(1),
		Logger:  tripsync.NewNopLogger(),
		Metrics: h.metrics,
	}, opts)
}

// write stores a dirty trip record locally, as a user edit would.
func (h *engineHarness) write(t *testing.T, id, title string) *tripsync.Record {
	t.Helper()
	rec := tripRecord(t, id, title, h.clock.Now())
	rec.Dirty = true
	if err := h.local.Put(rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return rec
}

func (h *engineHarness) drain(t *testing.T) int {
	t.Helper()
	n, err := h.engine.DrainOutbox(context.Background())
	if err != nil {
		t.Fatalf("DrainOutbox() error = %v", err)
	}
	return n
}

func (h *engineHarness) pending(t *testing.T) int {
	t.Helper()
	n, err := h.outbox.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	return n
}

// device is a complete sync core for one simulated device.
type device struct {
	svc   *tripsync.Service
	db    *database.SQLiteDatabase
	clock *testutil.StubClock
}

func newDevice(t *testing.T, remote tripsync.RemoteStore, clock *testutil.StubClock, idPrefix string) *device {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	svc, err := tripsync.NewService(tripsync.ServiceDeps{
		Database: db,
		Outbox:   outbox.New(db, tripsync.NewNopLogger()),
		Remote:   remote,
		Cipher:   testutil.NewTestCipher(t),
		Session:  tripsync.Session{AccountID: account, SyncEnabled: true},
		Clock:    clock,
		IDs:      testutil.NewPrefixedIDGenerator(idPrefix),
		Jitter:   testutil.FixedJitter(1),
		Logger:   tripsync.NewNopLogger(),
	}, tripsync.ServiceOptions{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return &device{svc: svc, db: db, clock: clock}
}

func (d *device) sync(t *testing.T) {
	t.Helper()
	if err := d.svc.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func (d *device) trips() map[string]model.Trip {
	out := make(map[string]model.Trip)
	for _, e := range d.svc.Trips.Snapshot().Items {
		out[e.ID] = e.Value
	}
	return out
}
