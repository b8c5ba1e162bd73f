// Package telemetry collects one sample of player and network state at a
// time, turning every failed read into an in-band marker.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// In-band markers recorded in place of values that couldn't be read.
const (
	FieldErrorMarker       = "Error"
	PanelUnavailableMarker = "Unable to open Stats for nerds"

	stateErrorPrefix   = "Error: "
	latencyErrorPrefix = "Error measuring latency: "
)

// Player state codes reported by the page's video player.
const (
	PlayerUnstarted = -1
	PlayerEnded     = 0
	PlayerPlaying   = 1
	PlayerPaused    = 2
	PlayerBuffering = 3
	PlayerCued      = 5
)

// LogRecord is a single sample of the run's trace.
type LogRecord struct {
	Time    time.Time
	State   PlayerState
	Metrics Diagnostics
	Latency string
}

type logRecordJSON struct {
	Time    float64     `json:"time"`
	State   PlayerState `json:"curr_state"`
	Metrics Diagnostics `json:"yt_metrics"`
	Latency string      `json:"latency"`
}

// MarshalJSON encodes the record time as fractional unix seconds.
func (r LogRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(logRecordJSON{
		Time:    float64(r.Time.Unix()) + float64(r.Time.Nanosecond())/float64(time.Second),
		State:   r.State,
		Metrics: r.Metrics,
		Latency: r.Latency,
	})
}

func (r *LogRecord) UnmarshalJSON(b []byte) error {
	var v logRecordJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	sec, frac := math.Modf(v.Time)
	*r = LogRecord{
		Time:    time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3),
		State:   v.State,
		Metrics: v.Metrics,
		Latency: v.Latency,
	}

	return nil
}

// LatencyMillis returns the measured latency, or false if the record holds
// an error marker instead.
func (r LogRecord) LatencyMillis() (float64, bool) {
	ms, err := strconv.ParseFloat(r.Latency, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// LatencyError returns the latency error marker for err.
func LatencyError(err error) string {
	return latencyErrorPrefix + err.Error()
}

// PlayerState is the player's state code, or a marker if it couldn't be read.
type PlayerState struct {
	Code   int
	Marker string
}

// StateError returns the state marker for err.
func StateError(err error) PlayerState {
	return PlayerState{Marker: stateErrorPrefix + err.Error()}
}

// Valid reports whether s holds a state code.
func (s PlayerState) Valid() bool {
	return s.Marker == ""
}

func (s PlayerState) String() string {
	if !s.Valid() {
		return s.Marker
	}
	switch s.Code {
	case PlayerUnstarted:
		return "unstarted"
	case PlayerEnded:
		return "ended"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerBuffering:
		return "buffering"
	case PlayerCued:
		return "cued"
	default:
		return fmt.Sprintf("state(%d)", s.Code)
	}
}

func (s PlayerState) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return json.Marshal(s.Marker)
	}
	return json.Marshal(s.Code)
}

func (s *PlayerState) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		*s = PlayerState{}
		return json.Unmarshal(b, &s.Marker)
	}
	*s = PlayerState{}
	return json.Unmarshal(b, &s.Code)
}

// Field is a single labelled reading of the diagnostics panel.
type Field struct {
	Key   string
	Value string
}

// Diagnostics are the readings of the diagnostics panel in panel order, or
// a marker if the panel couldn't be opened.
type Diagnostics struct {
	Fields []Field
	Marker string
}

// Get returns the value of the field labelled key.
func (d Diagnostics) Get(key string) (string, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Errors returns how many fields hold the error marker.
func (d Diagnostics) Errors() int {
	n := 0
	for _, f := range d.Fields {
		if f.Value == FieldErrorMarker {
			n++
		}
	}
	return n
}

// MarshalJSON encodes the fields as an object keeping panel order.
func (d Diagnostics) MarshalJSON() ([]byte, error) {
	if d.Marker != "" {
		return json.Marshal(d.Marker)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func (d *Diagnostics) UnmarshalJSON(b []byte) error {
	*d = Diagnostics{}
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &d.Marker)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("diagnostics: want an object or a string, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("diagnostics: non-string key")
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("diagnostics: field %q: %w", key, err)
		}
		d.Fields = append(d.Fields, Field{Key: key, Value: value})
	}
	_, err = dec.Token()

	return err
}
