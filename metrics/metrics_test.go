package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/pausesim/telemetry"
)

func TestObserveRecord(t *testing.T) {
	t.Parallel()

	m := RegisterCustomMetrics()

	m.ObserveRecord(telemetry.LogRecord{
		State: telemetry.PlayerState{Code: telemetry.PlayerPlaying},
		Metrics: telemetry.Diagnostics{Fields: []telemetry.Field{
			{Key: "Codecs", Value: telemetry.FieldErrorMarker},
			{Key: "Buffer Health", Value: "10.00 s"},
		}},
		Latency: "23.4",
	})
	m.ObserveRecord(telemetry.LogRecord{
		State:   telemetry.StateError(errors.New("boom")),
		Metrics: telemetry.Diagnostics{Marker: telemetry.PanelUnavailableMarker},
		Latency: telemetry.LatencyError(errors.New("exit status 1")),
	})
	m.ObserveToggle()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Samples))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Toggles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PanelUnavailable))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FieldErrors.WithLabelValues("Codecs")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FieldErrors.WithLabelValues("Buffer Health")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LatencyErrors))
	assert.Equal(t, float64(telemetry.PlayerPlaying), testutil.ToFloat64(m.PlayerState))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Latency))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	m := RegisterCustomMetrics()
	m.ObserveToggle()
	m.ObserveRun(true, 90*time.Second)

	path := filepath.Join(t.TempDir(), "pausesim.prom")
	require.NoError(t, m.WriteTextfile(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "pausesim_toggles_total 1")
	assert.Contains(t, string(buf), "pausesim_run_success 1")
	assert.Contains(t, string(buf), "pausesim_run_duration_seconds 90")

	assert.Error(t, m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "pausesim.prom")))
}
