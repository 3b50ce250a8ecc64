// Package metrics exposes Prometheus collectors for the scheduler and the
// TCP control blocks it drives. The scheduler package does not import it;
// engine and tcpip/transport/tcp import it for the SchedulerRecorder and
// ControlBlockRecorder interfaces and accept a nil recorder.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulerRecorder receives scheduler population and poll-latency samples.
type SchedulerRecorder interface {
	SetPopulation(n int)
	ObservePollLatency(seconds float64)
}

// ControlBlockRecorder receives per-connection retransmit/ack counts and
// RTO samples.
type ControlBlockRecorder interface {
	IncRetransmit(fourTuple string)
	IncSegmentsAcked(fourTuple string)
	ObserveRTO(fourTuple string, seconds float64)
}

// Registry bundles the collectors this module registers with Prometheus.
// An embedder registers Registry.Collectors() with its own
// prometheus.Registerer; this package never touches the default registry
// itself so tests can construct isolated instances.
type Registry struct {
	population   prometheus.Gauge
	pollLatency  prometheus.Histogram
	retransmits  *prometheus.CounterVec
	segsAcked    *prometheus.CounterVec
	rtoEstimate  *prometheus.HistogramVec
}

// NewRegistry builds a fresh, unregistered Registry.
func NewRegistry() *Registry {
	return &Registry{
		population: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "usertcp",
			Subsystem: "scheduler",
			Name:      "population",
			Help:      "Number of tasks currently live in the scheduler.",
		}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "usertcp",
			Subsystem: "scheduler",
			Name:      "poll_latency_seconds",
			Help:      "Wall-clock time spent in one Scheduler.Poll call.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usertcp",
			Subsystem: "tcp",
			Name:      "retransmits_total",
			Help:      "Segment retransmissions per connection.",
		}, []string{"four_tuple"}),
		segsAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usertcp",
			Subsystem: "tcp",
			Name:      "segments_acked_total",
			Help:      "Segments acknowledged per connection.",
		}, []string{"four_tuple"}),
		rtoEstimate: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "usertcp",
			Subsystem: "tcp",
			Name:      "rto_seconds",
			Help:      "Current RTO estimate observed per connection.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"four_tuple"}),
	}
}

// Collectors returns every metric this registry owns, for bulk registration.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.population, r.pollLatency, r.retransmits, r.segsAcked, r.rtoEstimate}
}

func (r *Registry) SetPopulation(n int) { r.population.Set(float64(n)) }

func (r *Registry) ObservePollLatency(seconds float64) { r.pollLatency.Observe(seconds) }

func (r *Registry) IncRetransmit(fourTuple string) { r.retransmits.WithLabelValues(fourTuple).Inc() }

func (r *Registry) IncSegmentsAcked(fourTuple string) { r.segsAcked.WithLabelValues(fourTuple).Inc() }

func (r *Registry) ObserveRTO(fourTuple string, seconds float64) {
	r.rtoEstimate.WithLabelValues(fourTuple).Observe(seconds)
}
