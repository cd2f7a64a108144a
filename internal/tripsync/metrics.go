package tripsync

import "tripsync/internal/model"

// Metrics receives counters from the sync core.
type Metrics interface {
	PushCompleted(kind model.Kind, result string)
	PullCompleted(kind model.Kind, result string, changes int)
	RecordMerged(kind model.Kind, outcome string)
	CoordinateLookup(tier string)
	GeocoderCall(result string)
	LocalFlush(kind model.Kind, records int)
	OutboxDepth(n int)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) PushCompleted(model.Kind, string)      {}
func (NopMetrics) PullCompleted(model.Kind, string, int) {}
func (NopMetrics) RecordMerged(model.Kind, string)       {}
func (NopMetrics) CoordinateLookup(string)               {}
func (NopMetrics) GeocoderCall(string)                   {}
func (NopMetrics) LocalFlush(model.Kind, int)            {}
func (NopMetrics) OutboxDepth(int)                       {}
