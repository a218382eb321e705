package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exporter aggregates stream snapshots into Prometheus metrics.
// Methods are nil-receiver safe so exporting can be disabled by config.
type Exporter struct {
	Streams        *prometheus.CounterVec
	StreamDuration *prometheus.HistogramVec
	Bytes          *prometheus.CounterVec
	Fragments      *prometheus.CounterVec
	Diagnostics    *prometheus.CounterVec
	Events         *prometheus.CounterVec
	Pauses         *prometheus.CounterVec
	Records        *prometheus.CounterVec
	AdapterPublish *prometheus.CounterVec
}

// NewExporter creates and registers the stream metrics on reg.
// A nil reg uses the default Prometheus registry.
func NewExporter(reg prometheus.Registerer) *Exporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Exporter{
		Streams: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_streams_total",
				Help: "Total number of upstream streams by outcome, policy and transport",
			},
			[]string{"outcome", "policy", "transport"},
		),
		StreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sluice_stream_duration_seconds",
				Help:    "Duration of upstream streams in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		Bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_upstream_bytes_total",
				Help: "Total bytes received from upstream by kind (payload or noise)",
			},
			[]string{"kind"},
		),
		Fragments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_fragments_total",
				Help: "Total number of classified fragments by kind",
			},
			[]string{"kind"},
		),
		Diagnostics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_fragment_diagnostics_total",
				Help: "Total number of malformed or residual fragments discarded",
			},
			[]string{"kind"},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_events_total",
				Help: "Total number of downstream events by disposition",
			},
			[]string{"disposition"},
		),
		Pauses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_backpressure_pauses_total",
				Help: "Total number of producer pauses by policy",
			},
			[]string{"policy"},
		),
		Records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_records_recovered_total",
				Help: "Total number of structured records recovered by strategy",
			},
			[]string{"strategy"},
		),
		AdapterPublish: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_adapter_publish_total",
				Help: "Total number of completion notifications by status",
			},
			[]string{"status"},
		),
	}
}

// Observe folds a finished stream's snapshot into the exported metrics.
func (e *Exporter) Observe(s Snapshot) {
	if e == nil {
		return
	}
	outcome := s.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	e.Streams.WithLabelValues(outcome, s.Policy, s.Transport).Inc()
	e.StreamDuration.WithLabelValues(outcome).Observe(s.Duration.Seconds())

	e.Bytes.WithLabelValues("payload").Add(float64(s.BytesReceived - s.NoiseBytes))
	e.Bytes.WithLabelValues("noise").Add(float64(s.NoiseBytes))
	for kind, n := range s.FragmentsByKind {
		e.Fragments.WithLabelValues(kind).Add(float64(n))
	}
	e.Diagnostics.WithLabelValues("malformed").Add(float64(s.MalformedFragments))
	e.Diagnostics.WithLabelValues("residual").Add(float64(s.ResidualDiscards))

	e.Events.WithLabelValues("written").Add(float64(s.EventsWritten))
	e.Events.WithLabelValues("dropped").Add(float64(s.EventsDropped))
	e.Events.WithLabelValues("coalesced").Add(float64(s.EventsCoalesced))
	e.Pauses.WithLabelValues(s.Policy).Add(float64(s.Pauses))

	for strategy, n := range s.RecoveryByStrategy {
		e.Records.WithLabelValues(strategy).Add(float64(n))
	}
	e.AdapterPublish.WithLabelValues("success").Add(float64(s.AdapterPublishSuccess))
	e.AdapterPublish.WithLabelValues("failure").Add(float64(s.AdapterPublishFailure))
}
