package testutil

import (
	"sync"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

// CountingMetrics tallies every measurement by name and label.
type CountingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	depth  int
}

func NewCountingMetrics() *CountingMetrics {
	return &CountingMetrics{counts: make(map[string]int)}
}

func (m *CountingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

// Count returns the tally for key, e.g. "lookup/static" or "push/flight/ok".
func (m *CountingMetrics) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// Depth returns the last reported outbox depth.
func (m *CountingMetrics) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}

func (m *CountingMetrics) PushCompleted(kind model.Kind, result string) {
	m.inc("push/" + kind.String() + "/" + result)
}

func (m *CountingMetrics) PullCompleted(kind model.Kind, result string, changes int) {
	m.inc("pull/" + kind.String() + "/" + result)
}

func (m *CountingMetrics) RecordMerged(kind model.Kind, outcome string) {
	m.inc("merge/" + outcome)
}

func (m *CountingMetrics) CoordinateLookup(tier string) { m.inc("lookup/" + tier) }
func (m *CountingMetrics) GeocoderCall(result string)   { m.inc("geocoder/" + result) }

func (m *CountingMetrics) LocalFlush(kind model.Kind, records int) {
	m.inc("flush/" + kind.String())
}

func (m *CountingMetrics) OutboxDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = n
}

var _ tripsync.Metrics = (*CountingMetrics)(nil)
