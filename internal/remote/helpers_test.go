package remote

import (
	"context"
	"testing"
	"time"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func tripRecord(id, owner string, at time.Time) *tripsync.Record {
	return &tripsync.Record{
		ID:             id,
		Kind:           model.KindTrip,
		Payload:        []byte(`{"title":"` + id + `"}`),
		ModifiedAt:     at,
		OwnerAccountID: owner,
		Dirty:          true,
	}
}

// exerciseStore runs the behaviour every RemoteStore backend shares.
func exerciseStore(t *testing.T, store tripsync.RemoteStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("put then get strips local flags", func(t *testing.T) {
		if _, err := store.Put(ctx, "acct-1", tripRecord("t1", "acct-1", t0)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := store.Get(ctx, "acct-1", model.KindTrip, "t1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got == nil {
			t.Fatal("Get() = nil, want record")
		}
		if got.Dirty {
			t.Error("stored record is still dirty")
		}
		if !got.ModifiedAt.Equal(t0) {
			t.Errorf("ModifiedAt = %v, want %v", got.ModifiedAt, t0)
		}
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		got, err := store.Get(ctx, "acct-1", model.KindTrip, "nope")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != nil {
			t.Errorf("Get() = %+v, want nil", got)
		}
	})

	t.Run("scopes are isolated", func(t *testing.T) {
		cs, err := store.Fetch(ctx, "acct-2", model.KindTrip, "", 10)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if len(cs.Records) != 0 {
			t.Errorf("Fetch() in other scope returned %d records", len(cs.Records))
		}
	})

	t.Run("rejects foreign owner", func(t *testing.T) {
		_, err := store.Put(ctx, "acct-1", tripRecord("t9", "acct-2", t0))
		if got := tripsync.ClassifyError(err); got != tripsync.PermanentRejection {
			t.Errorf("ClassifyError() = %v, want PermanentRejection", got)
		}
	})

	t.Run("rejects account kind in shared scope", func(t *testing.T) {
		_, err := store.Put(ctx, tripsync.SharedScope, tripRecord("t9", "", t0))
		if got := tripsync.ClassifyError(err); got != tripsync.PermanentRejection {
			t.Errorf("ClassifyError() = %v, want PermanentRejection", got)
		}
	})

	t.Run("fetch pages and resumes from cursor", func(t *testing.T) {
		for _, id := range []string{"p1", "p2", "p3"} {
			if _, err := store.Put(ctx, "acct-3", tripRecord(id, "acct-3", t0)); err != nil {
				t.Fatalf("Put(%s) error = %v", id, err)
			}
		}

		first, err := store.Fetch(ctx, "acct-3", model.KindTrip, "", 2)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if len(first.Records) != 2 || !first.More {
			t.Fatalf("first page = %d records, More %v; want 2, true", len(first.Records), first.More)
		}

		second, err := store.Fetch(ctx, "acct-3", model.KindTrip, first.Cursor, 2)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if len(second.Records) != 1 || second.More {
			t.Fatalf("second page = %d records, More %v; want 1, false", len(second.Records), second.More)
		}
		if second.Records[0].ID != "p3" {
			t.Errorf("second page record = %s, want p3", second.Records[0].ID)
		}

		// A rewrite shows up again after the cursor.
		if _, err := store.Put(ctx, "acct-3", tripRecord("p1", "acct-3", t0.Add(time.Minute))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		third, err := store.Fetch(ctx, "acct-3", model.KindTrip, second.Cursor, 10)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if len(third.Records) != 1 || third.Records[0].ID != "p1" {
			t.Errorf("Fetch() after rewrite = %+v, want p1 only", third.Records)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := store.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}
