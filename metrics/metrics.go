// Package metrics counts what happens during a run and writes the counts in
// the Prometheus text format, for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/pausesim/telemetry"
)

const namespace = "pausesim"

// CustomMetrics are the metrics of a run.
type CustomMetrics struct {
	Samples          prometheus.Counter
	Toggles          prometheus.Counter
	StateErrors      prometheus.Counter
	PanelUnavailable prometheus.Counter
	FieldErrors      *prometheus.CounterVec
	LatencyErrors    prometheus.Counter
	Latency          prometheus.Histogram
	PlayerState      prometheus.Gauge
	RunDuration      prometheus.Gauge
	RunSuccess       prometheus.Gauge

	gatherer prometheus.Gatherer
}

// RegisterCustomMetrics creates the run metrics in a new registry and
// returns them.
func RegisterCustomMetrics() *CustomMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &CustomMetrics{
		Samples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples taken of the player and the network.",
		}),
		Toggles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_total",
			Help:      "Play/pause toggles.",
		}),
		StateErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_state_errors_total",
			Help:      "Samples where the player state couldn't be read.",
		}),
		PanelUnavailable: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_unavailable_total",
			Help:      "Samples where the diagnostics panel couldn't be opened.",
		}),
		FieldErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_field_errors_total",
			Help:      "Diagnostics fields that couldn't be read, by field.",
		}, []string{"field"}),
		LatencyErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latency_errors_total",
			Help:      "Samples where the latency probe failed.",
		}),
		Latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_milliseconds",
			Help:      "Round trip time to the streaming host.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~2s
		}),
		PlayerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "player_state",
			Help:      "Last player state code read.",
		}),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Time from playback start to the end of the run.",
		}),
		RunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 if the run completed, 0 if it failed.",
		}),
		gatherer: reg,
	}
}

// ObserveRecord counts a sample and every marker in it.
func (m *CustomMetrics) ObserveRecord(rec telemetry.LogRecord) {
	m.Samples.Inc()

	if rec.State.Valid() {
		m.PlayerState.Set(float64(rec.State.Code))
	} else {
		m.StateErrors.Inc()
	}

	if rec.Metrics.Marker != "" {
		m.PanelUnavailable.Inc()
	}
	for _, f := range rec.Metrics.Fields {
		if f.Value == telemetry.FieldErrorMarker {
			m.FieldErrors.WithLabelValues(f.Key).Inc()
		}
	}

	if ms, ok := rec.LatencyMillis(); ok {
		m.Latency.Observe(ms)
	} else {
		m.LatencyErrors.Inc()
	}
}

// ObserveToggle counts a play/pause toggle.
func (m *CustomMetrics) ObserveToggle() {
	m.Toggles.Inc()
}

// ObserveRun records the outcome of the run.
func (m *CustomMetrics) ObserveRun(success bool, elapsed time.Duration) {
	m.RunDuration.Set(elapsed.Seconds())
	if success {
		m.RunSuccess.Set(1)
	} else {
		m.RunSuccess.Set(0)
	}
}

// WriteTextfile writes the metrics to path, replacing it atomically.
func (m *CustomMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("writing metrics to %q: %w", path, err)
	}
	return nil
}
