package tripsync

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"tripsync/internal/model"
)

// CoordinateStore is the shared coordinate set visible to every account.
type CoordinateStore interface {
	// Lookup returns the published coordinate for code, or nil if none.
	Lookup(ctx context.Context, code string) (*model.CoordinateRecord, error)

	// Publish records a resolved coordinate. Publishing a code that already
	// has a coordinate replaces it.
	Publish(ctx context.Context, rec model.CoordinateRecord) error
}

// Geocoder is an external provider resolving airport codes. It returns
// ErrCoordinateNotFound when the provider has no result for code.
type Geocoder interface {
	Geocode(ctx context.Context, code string) (*model.CoordinateRecord, error)
}

// CoordinateCacheDeps are the tiers of a CoordinateCache. Shared and
// Geocoder may be nil, which makes the tier always miss.
type CoordinateCacheDeps struct {
	Static   map[string]model.Coordinate
	Shared   CoordinateStore
	Geocoder Geocoder
	Logger   Logger
	Metrics  Metrics
}

// CoordinateCache resolves airport codes through three tiers: a built-in
// table, the shared coordinate store, and the external geocoder. A geocoder
// result is written through to the shared store so no other account pays
// for the same lookup again.
//
// Concurrent resolutions of one code share a single fill. Failures are
// not remembered; the next call tries again.
type CoordinateCache struct {
	static   map[string]model.Coordinate
	shared   CoordinateStore
	geocoder Geocoder
	logger   Logger
	metrics  Metrics
	timeout  time.Duration

	group singleflight.Group
}

// NewCoordinateCache creates a cache whose remote calls are bounded by timeout.
func NewCoordinateCache(deps CoordinateCacheDeps, timeout time.Duration) *CoordinateCache {
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	return &CoordinateCache{
		static:   deps.Static,
		shared:   deps.Shared,
		geocoder: deps.Geocoder,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		timeout:  timeout,
	}
}

// Resolve returns the coordinate of an airport code, or nil if it cannot be
// resolved right now. Invalid codes resolve to nil.
func (c *CoordinateCache) Resolve(ctx context.Context, code string) *model.Coordinate {
	code, ok := model.NormalizeAirportCode(code)
	if !ok {
		return nil
	}
	if coord, ok := c.static[code]; ok {
		c.metrics.CoordinateLookup("static")
		return &coord
	}

	// The fill outlives a caller that gives up so that the callers sharing
	// it still get a result.
	fillCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(code, func() (any, error) {
		return c.fill(fillCtx, code)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil
		}
		coord := res.Val.(model.Coordinate)
		return &coord
	case <-ctx.Done():
		return nil
	}
}

func (c *CoordinateCache) fill(ctx context.Context, code string) (model.Coordinate, error) {
	if rec := c.lookupShared(ctx, code); rec != nil {
		c.metrics.CoordinateLookup("shared")
		return rec.Coordinate(), nil
	}
	if c.geocoder == nil {
		c.metrics.CoordinateLookup("miss")
		return model.Coordinate{}, ErrCoordinateNotFound
	}

	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	rec, err := c.geocoder.Geocode(gctx, code)
	cancel()
	if err == nil && rec == nil {
		err = ErrCoordinateNotFound
	}
	if err == nil {
		rec.Code = code
		err = rec.Validate()
	}
	if err != nil {
		c.metrics.CoordinateLookup("miss")
		if errors.Is(err, ErrCoordinateNotFound) {
			c.metrics.GeocoderCall("not-found")
		} else {
			c.metrics.GeocoderCall("error")
			c.logger.Warn("geocoder failed", "code", code, "error", err)
		}
		return model.Coordinate{}, err
	}
	c.metrics.GeocoderCall("ok")
	c.metrics.CoordinateLookup("geocoder")

	if c.shared != nil {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := c.shared.Publish(pctx, *rec); err != nil {
			c.logger.Warn("publishing shared coordinate", "code", code, "error", err)
		} else {
			c.logger.Debug("shared coordinate published", "code", code, "provenance", rec.Provenance)
		}
		cancel()
	}
	return rec.Coordinate(), nil
}

func (c *CoordinateCache) lookupShared(ctx context.Context, code string) *model.CoordinateRecord {
	if c.shared == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rec, err := c.shared.Lookup(ctx, code)
	if err != nil {
		c.logger.Warn("shared coordinate lookup failed", "code", code, "error", err)
		return nil
	}
	if rec == nil {
		return nil
	}
	if err := rec.Validate(); err != nil {
		c.logger.Warn("ignoring invalid shared coordinate", "code", code, "error", err)
		return nil
	}
	return rec
}
