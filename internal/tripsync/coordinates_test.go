package tripsync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tripsync/internal/coordstore"
	"tripsync/internal/geocode"
	"tripsync/internal/model"
	"tripsync/internal/remote"
	"tripsync/internal/testutil"
	"tripsync/internal/tripsync"
)

var okj = model.Coordinate{Latitude: 34.7569, Longitude: 133.8553}

func newCache(shared tripsync.CoordinateStore, geocoder tripsync.Geocoder, metrics tripsync.Metrics) *tripsync.CoordinateCache {
	return tripsync.NewCoordinateCache(tripsync.CoordinateCacheDeps{
		Static:   geocode.StaticTable(),
		Shared:   shared,
		Geocoder: geocoder,
		Logger:   tripsync.NewNopLogger(),
		Metrics:  metrics,
	}, time.Second)
}

func TestCoordinateCache_Static(t *testing.T) {
	geo := testutil.NewStubGeocoder(nil)
	metrics := testutil.NewCountingMetrics()
	c := newCache(nil, geo, metrics)

	got := c.Resolve(context.Background(), " nrt ")
	if got == nil || got.Latitude != 35.7720 {
		t.Fatalf("Resolve(nrt) = %v, want the built-in NRT coordinate", got)
	}
	if geo.Calls("NRT") != 0 {
		t.Error("static code reached the geocoder")
	}
	if metrics.Count("lookup/static") != 1 {
		t.Error("static lookup not counted")
	}

	for _, code := range []string{"", "NR", "N1T", "NRTX"} {
		if got := c.Resolve(context.Background(), code); got != nil {
			t.Errorf("Resolve(%q) = %v, want nil", code, got)
		}
	}
}

func TestCoordinateCache_WriteThrough(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	shared := coordstore.NewRemoteStore(remote.NewMemoryStore(), clock)

	geoA := testutil.NewStubGeocoder(map[string]model.Coordinate{"OKJ": okj})
	first := newCache(shared, geoA, nil)
	if got := first.Resolve(ctx, "OKJ"); got == nil || *got != okj {
		t.Fatalf("Resolve() = %v, want %v", got, okj)
	}
	if geoA.Calls("OKJ") != 1 {
		t.Fatalf("geocoder calls = %d, want 1", geoA.Calls("OKJ"))
	}

	// A different account on another device shares only the coordinate store.
	geoB := testutil.NewStubGeocoder(map[string]model.Coordinate{"OKJ": okj})
	metrics := testutil.NewCountingMetrics()
	second := newCache(shared, geoB, metrics)
	if got := second.Resolve(ctx, "OKJ"); got == nil || *got != okj {
		t.Fatalf("Resolve() on second account = %v, want %v", got, okj)
	}
	if geoB.Calls("OKJ") != 0 {
		t.Errorf("second account called the geocoder %d times, want 0", geoB.Calls("OKJ"))
	}
	if metrics.Count("lookup/shared") != 1 {
		t.Error("shared hit not counted")
	}
}

func TestCoordinateCache_SingleFlight(t *testing.T) {
	geo := testutil.NewStubGeocoder(map[string]model.Coordinate{"OKJ": okj})
	geo.SetDelay(50 * time.Millisecond)
	c := newCache(nil, geo, nil)

	var wg sync.WaitGroup
	results := make([]*model.Coordinate, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Resolve(context.Background(), "OKJ")
		}()
	}
	wg.Wait()

	if n := geo.Calls("OKJ"); n != 1 {
		t.Errorf("geocoder calls = %d, want 1", n)
	}
	for i, r := range results {
		if r == nil || *r != okj {
			t.Errorf("caller %d got %v", i, r)
		}
	}
}

func TestCoordinateCache_FailuresAreNotCached(t *testing.T) {
	ctx := context.Background()
	shared := coordstore.NewRemoteStore(remote.NewMemoryStore(), testutil.FixedClock())

	t.Run("provider error", func(t *testing.T) {
		geo := testutil.NewStubGeocoder(map[string]model.Coordinate{"OKJ": okj})
		c := newCache(shared, geo, nil)

		geo.FailWith("OKJ", errors.New("provider down"))
		if got := c.Resolve(ctx, "OKJ"); got != nil {
			t.Fatalf("Resolve() = %v during outage, want nil", got)
		}
		geo.FailWith("OKJ", nil)
		if got := c.Resolve(ctx, "OKJ"); got == nil {
			t.Fatal("Resolve() = nil after recovery; failure was remembered")
		}
		if geo.Calls("OKJ") != 2 {
			t.Errorf("geocoder calls = %d, want 2", geo.Calls("OKJ"))
		}
	})

	t.Run("invalid result is never published", func(t *testing.T) {
		geo := testutil.NewStubGeocoder(map[string]model.Coordinate{"XXX": {Latitude: 123, Longitude: 0}})
		c := newCache(shared, geo, nil)

		if got := c.Resolve(ctx, "XXX"); got != nil {
			t.Fatalf("Resolve() = %v, want nil for out-of-range result", got)
		}
		rec, err := shared.Lookup(ctx, "XXX")
		if err != nil || rec != nil {
			t.Errorf("shared Lookup() = %v, %v; want nothing published", rec, err)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		c := newCache(shared, testutil.NewStubGeocoder(nil), nil)
		if got := c.Resolve(ctx, "ZZZ"); got != nil {
			t.Errorf("Resolve() = %v, want nil", got)
		}
	})
}

func TestCoordinateCache_AbandonedFillCompletes(t *testing.T) {
	shared := coordstore.NewRemoteStore(remote.NewMemoryStore(), testutil.FixedClock())
	geo := testutil.NewStubGeocoder(map[string]model.Coordinate{"OKJ": okj})
	geo.SetDelay(50 * time.Millisecond)
	c := newCache(shared, geo, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if got := c.Resolve(ctx, "OKJ"); got != nil {
		t.Fatalf("Resolve() = %v, want nil when the caller gives up", got)
	}

	waitFor(t, "write-through", func() bool {
		rec, _ := shared.Lookup(context.Background(), "OKJ")
		return rec != nil
	})
}
