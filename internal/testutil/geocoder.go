package testutil

import (
	"context"
	"sync"
	"time"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

// StubGeocoder resolves codes from a fixed table and counts its calls.
type StubGeocoder struct {
	mu      sync.Mutex
	results map[string]model.Coordinate
	errs    map[string]error
	calls   map[string]int
	delay   time.Duration
}

// NewStubGeocoder creates a StubGeocoder answering from results.
func NewStubGeocoder(results map[string]model.Coordinate) *StubGeocoder {
	if results == nil {
		results = make(map[string]model.Coordinate)
	}
	return &StubGeocoder{
		results: results,
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// SetDelay makes every call take d, or until the context is done.
func (g *StubGeocoder) SetDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
}

// FailWith makes lookups of code fail with err until cleared with nil.
func (g *StubGeocoder) FailWith(code string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.errs, code)
		return
	}
	g.errs[code] = err
}

// Calls returns how many times code was geocoded.
func (g *StubGeocoder) Calls(code string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[code]
}

func (g *StubGeocoder) Geocode(ctx context.Context, code string) (*model.CoordinateRecord, error) {
	g.mu.Lock()
	g.calls[code]++
	delay := g.delay
	err := g.errs[code]
	coord, ok := g.results[code]
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tripsync.ErrCoordinateNotFound
	}
	return &model.CoordinateRecord{
		Code:       code,
		Latitude:   coord.Latitude,
		Longitude:  coord.Longitude,
		Provenance: "stub",
	}, nil
}

var _ tripsync.Geocoder = (*StubGeocoder)(nil)
