// Package metrics exports the sync core's measurements to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

// Prometheus implements tripsync.Metrics on its own registry, so several
// accounts in one process never collide on registration.
type Prometheus struct {
	registry *prometheus.Registry

	pushes      *prometheus.CounterVec
	pulls       *prometheus.CounterVec
	pulled      *prometheus.CounterVec
	merges      *prometheus.CounterVec
	lookups     *prometheus.CounterVec
	geocoder    *prometheus.CounterVec
	flushes     *prometheus.CounterVec
	outboxDepth prometheus.Gauge
}

// NewPrometheus creates the tripsync metrics under namespace.
func NewPrometheus(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Prometheus{
		registry: reg,
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Record pushes to the remote store by kind and result",
		}, []string{"kind", "result"}),
		pulls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulls_total",
			Help:      "Change feed pulls by kind and result",
		}, []string{"kind", "result"}),
		pulled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulled_records_total",
			Help:      "Remote records accepted by pulls",
		}, []string{"kind"}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Conflict resolutions by outcome",
		}, []string{"kind", "outcome"}),
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinate_lookups_total",
			Help:      "Coordinate resolutions by the tier that answered",
		}, []string{"tier"}),
		geocoder: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocoder_calls_total",
			Help:      "External geocoder calls by result",
		}, []string{"result"}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_flushes_total",
			Help:      "Local snapshot flushes by kind",
		}, []string{"kind"}),
		outboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_depth",
			Help:      "Pushes waiting in the outbox",
		}),
	}
}

// Registry returns the registry holding the tripsync metrics.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) PushCompleted(kind model.Kind, result string) {
	p.pushes.WithLabelValues(kind.String(), result).Inc()
}

func (p *Prometheus) PullCompleted(kind model.Kind, result string, changes int) {
	p.pulls.WithLabelValues(kind.String(), result).Inc()
	if changes > 0 {
		p.pulled.WithLabelValues(kind.String()).Add(float64(changes))
	}
}

func (p *Prometheus) RecordMerged(kind model.Kind, outcome string) {
	p.merges.WithLabelValues(kind.String(), outcome).Inc()
}

func (p *Prometheus) CoordinateLookup(tier string) {
	p.lookups.WithLabelValues(tier).Inc()
}

func (p *Prometheus) GeocoderCall(result string) {
	p.geocoder.WithLabelValues(result).Inc()
}

func (p *Prometheus) LocalFlush(kind model.Kind, records int) {
	p.flushes.WithLabelValues(kind.String()).Inc()
}

func (p *Prometheus) OutboxDepth(n int) {
	p.outboxDepth.Set(float64(n))
}

var _ tripsync.Metrics = (*Prometheus)(nil)
