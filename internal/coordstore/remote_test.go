package coordstore_test

import (
	"context"
	"testing"

	"tripsync/internal/coordstore"
	"tripsync/internal/model"
	"tripsync/internal/remote"
	"tripsync/internal/testutil"
	"tripsync/internal/tripsync"
)

func TestRemoteStore_LookupPublish(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	store := coordstore.NewRemoteStore(mem, testutil.FixedClock())

	got, err := store.Lookup(ctx, "NRT")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Lookup() before publish = %+v, want nil", got)
	}

	want := model.CoordinateRecord{Code: "NRT", Latitude: 35.772, Longitude: 140.393, Provenance: "geocoder"}
	if err := store.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, err = store.Lookup(ctx, "NRT")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got == nil || *got != want {
		t.Errorf("Lookup() = %+v, want %+v", got, want)
	}

	// The record lives in the shared scope under the derived ID.
	rec, _ := mem.Get(ctx, tripsync.SharedScope, model.KindCoordinate, tripsync.CoordinateRecordID("NRT"))
	if rec == nil || rec.OwnerAccountID != "" {
		t.Errorf("shared record = %+v, want ownerless record", rec)
	}
}

func TestRemoteStore_PublishRejectsInvalid(t *testing.T) {
	store := coordstore.NewRemoteStore(remote.NewMemoryStore(), testutil.FixedClock())
	err := store.Publish(context.Background(), model.CoordinateRecord{Code: "NRT", Latitude: 120, Longitude: 0, Provenance: "x"})
	if err == nil {
		t.Error("Publish() of out-of-range coordinate error = nil")
	}
}

func TestRemoteStore_VisibleAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	a := coordstore.NewRemoteStore(mem, testutil.FixedClock())
	b := coordstore.NewRemoteStore(mem, testutil.FixedClock())

	if err := a.Publish(ctx, model.CoordinateRecord{Code: "LIS", Latitude: 38.774, Longitude: -9.134, Provenance: "geocoder"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got, err := b.Lookup(ctx, "LIS")
	if err != nil || got == nil {
		t.Fatalf("Lookup() from other store = %v, %v", got, err)
	}
}
