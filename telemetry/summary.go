package telemetry

import (
	"math"
	"sort"
	"time"
)

// Summary aggregates a trace.
type Summary struct {
	Samples int
	Start   time.Time
	End     time.Time

	// States counts samples per player state, by State.String.
	States      map[string]int
	StateErrors int

	PanelUnavailable int
	// FieldErrors counts failed reads per diagnostics field.
	FieldErrors map[string]int

	LatencySamples int
	LatencyErrors  int
	LatencyMin     float64
	LatencyMax     float64
	LatencyMean    float64
}

// Summarize aggregates trace.
func Summarize(trace []LogRecord) Summary {
	s := Summary{
		Samples:     len(trace),
		States:      make(map[string]int),
		FieldErrors: make(map[string]int),
		LatencyMin:  math.Inf(1),
	}

	var sum float64
	for i, rec := range trace {
		if i == 0 || rec.Time.Before(s.Start) {
			s.Start = rec.Time
		}
		if rec.Time.After(s.End) {
			s.End = rec.Time
		}

		if rec.State.Valid() {
			s.States[rec.State.String()]++
		} else {
			s.StateErrors++
		}

		if rec.Metrics.Marker != "" {
			s.PanelUnavailable++
		}
		for _, f := range rec.Metrics.Fields {
			if f.Value == FieldErrorMarker {
				s.FieldErrors[f.Key]++
			}
		}

		ms, ok := rec.LatencyMillis()
		if !ok {
			s.LatencyErrors++
			continue
		}
		s.LatencySamples++
		sum += ms
		s.LatencyMin = math.Min(s.LatencyMin, ms)
		s.LatencyMax = math.Max(s.LatencyMax, ms)
	}

	if s.LatencySamples > 0 {
		s.LatencyMean = sum / float64(s.LatencySamples)
	} else {
		s.LatencyMin = 0
	}

	return s
}

// Span is the time between the first and the last sample.
func (s Summary) Span() time.Duration {
	return s.End.Sub(s.Start)
}

// StateNames returns the names in States, sorted.
func (s Summary) StateNames() []string {
	return sortedKeys(s.States)
}

// FieldErrorKeys returns the keys in FieldErrors, sorted.
func (s Summary) FieldErrorKeys() []string {
	return sortedKeys(s.FieldErrors)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
