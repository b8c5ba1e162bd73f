package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/config"
	"github.com/grafana/pausesim/log"
	"github.com/grafana/pausesim/metrics"
	"github.com/grafana/pausesim/session"
	"github.com/grafana/pausesim/storage"
	"github.com/grafana/pausesim/telemetry"
	"github.com/grafana/pausesim/testutils/pagetest"
)

// fakeClock only moves when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2021, 10, 13, 10, 35, 21, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

// seqRand returns its values in turn.
type seqRand struct {
	vals []int
	i    int
}

func (r *seqRand) Intn(n int) int {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	if v >= n {
		panic(fmt.Sprintf("seqRand: %d out of [0, %d)", v, n))
	}
	return v
}

// countingCollector returns a playing sample stamped with the clock.
type countingCollector struct {
	clock    Clock
	n        int
	onSample func(n int)
}

func (c *countingCollector) CollectSample(context.Context, api.Page, *telemetry.PanelState) telemetry.LogRecord {
	c.n++
	if c.onSample != nil {
		c.onSample(c.n)
	}
	return telemetry.LogRecord{
		Time:    c.clock.Now(),
		State:   telemetry.PlayerState{Code: telemetry.PlayerPlaying},
		Latency: "12.5",
	}
}

var (
	timeCurrentSelector = api.ClassName("ytp-time-current")
	playButtonSelector  = api.ClassName("ytp-play-button")
)

type fixture struct {
	page    *pagetest.Page
	bt      *pagetest.BrowserType
	button  *pagetest.Element
	clock   *fakeClock
	cfg     config.RunConfig
	metrics *metrics.CustomMetrics
}

// newFixture returns a page where playback has started and the play button
// is present.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	page := pagetest.NewPage()
	page.SetPlayerState(telemetry.PlayerPlaying)
	page.Add(timeCurrentSelector, pagetest.NewElement("0:01"))
	button := pagetest.NewElement("")
	page.Add(playButtonSelector, button)

	cfg := config.Default()
	cfg.TargetURL = "https://www.youtube.com/watch?v=aqz-KE-bpKQ"
	cfg.Duration = 12 * time.Second
	cfg.OutputPath = filepath.Join(t.TempDir(), "trace.json")
	cfg.StartPollInterval = time.Millisecond
	cfg.LocateTimeout = 20 * time.Millisecond

	return &fixture{
		page:    page,
		bt:      pagetest.NewBrowserType(page),
		button:  button,
		clock:   newFakeClock(),
		cfg:     cfg,
		metrics: metrics.RegisterCustomMetrics(),
	}
}

func (f *fixture) simulator(t *testing.T, collector SampleCollector, opts ...Option) *Simulator {
	t.Helper()

	logger := log.NewNullLogger()
	ctrl := session.NewController(f.bt, f.cfg, f.clock.Now, logger)
	opts = append([]Option{WithClock(f.clock), WithMetrics(f.metrics)}, opts...)

	return New(f.cfg, ctrl, collector, logger, opts...)
}

func readTrace(t *testing.T, path string) []telemetry.LogRecord {
	t.Helper()

	tr, err := storage.ReadTrace(path)
	require.NoError(t, err)
	return tr
}

func TestRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := &countingCollector{clock: f.clock}
	sim := f.simulator(t, c, WithRand(&seqRand{vals: []int{2, 3}}))

	res := sim.Run(context.Background())

	require.Equal(t, Success, res.Status, res.Reason)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 15, res.Samples)
	assert.Equal(t, 2, res.Toggles)
	assert.Equal(t, 15*time.Second, res.Elapsed)
	assert.Equal(t, 2, f.button.Clicks())
	assert.Equal(t, 1, f.bt.Browser.Closed())

	tr := readTrace(t, f.cfg.OutputPath)
	require.Len(t, tr, 15)
	for i := 1; i < len(tr); i++ {
		assert.Equal(t, time.Second, tr[i].Time.Sub(tr[i-1].Time))
	}

	assert.Equal(t, 15.0, testutil.ToFloat64(f.metrics.Samples))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Toggles))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunSuccess))
}

func TestRunWithCollector(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Duration = 3 * time.Second
	f.cfg.DwellMin, f.cfg.DwellMax = 3, 3
	collector := telemetry.NewCollector(nil, f.clock.Now, log.NewNullLogger())

	res := f.simulator(t, collector).Run(context.Background())
	require.Equal(t, Success, res.Status, res.Reason)

	tr := readTrace(t, f.cfg.OutputPath)
	require.Len(t, tr, 3)
	for _, rec := range tr {
		assert.Equal(t, telemetry.PlayerState{Code: telemetry.PlayerPlaying}, rec.State)
		// No player element to open the panel with, and no prober.
		assert.Equal(t, telemetry.PanelUnavailableMarker, rec.Metrics.Marker)
		_, ok := rec.LatencyMillis()
		assert.False(t, ok)
	}
}

func TestRunDwellRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Duration = 10 * time.Minute
	c := &countingCollector{clock: f.clock}

	var (
		dwells []int
		last   int
	)
	f.button.OnClick = func() error {
		dwells = append(dwells, c.n-last)
		last = c.n
		return nil
	}

	res := f.simulator(t, c, WithRand(NewRand(42))).Run(context.Background())
	require.Equal(t, Success, res.Status, res.Reason)
	require.Equal(t, res.Toggles, len(dwells))

	seen := make(map[int]bool)
	for _, d := range dwells {
		assert.GreaterOrEqual(t, d, 5)
		assert.LessOrEqual(t, d, 10)
		seen[d] = true
	}
	assert.Len(t, seen, 6, "every dwell length in [5, 10] should be drawn over %d toggles", len(dwells))
	assert.Equal(t, res.Samples, c.n)
}

func TestRunZeroDuration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Duration = 0
	c := &countingCollector{clock: f.clock}

	res := f.simulator(t, c).Run(context.Background())
	require.Equal(t, Success, res.Status, res.Reason)
	assert.Zero(t, res.Samples)
	assert.Zero(t, res.Toggles)
	assert.Empty(t, readTrace(t, f.cfg.OutputPath))
}

type failingPersister struct{}

func (failingPersister) Persist(context.Context, string, io.Reader) error {
	return errors.New("disk full")
}

func TestRunFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setup       func(*fixture)
		opts        []Option
		wantReason  string
		wantSamples int
		wantClosed  int
		wantTrace   bool
	}{
		{
			name:       "launch",
			setup:      func(f *fixture) { f.bt.LaunchErr = errors.New("no such file") },
			wantReason: "starting session",
			wantTrace:  true,
		},
		{
			name: "playback_never_starts",
			setup: func(f *fixture) {
				f.page.Remove(timeCurrentSelector)
				f.page.Add(timeCurrentSelector, pagetest.NewElement("0:00 / 3:12"))
				f.cfg.StartAttempts = 3
			},
			wantReason: "waiting for playback",
			wantClosed: 1,
			wantTrace:  true,
		},
		{
			name:        "toggle",
			setup:       func(f *fixture) { f.page.Remove(playButtonSelector) },
			opts:        []Option{WithRand(&seqRand{vals: []int{2}})},
			wantReason:  "toggling playback",
			wantSamples: 7,
			wantClosed:  1,
			wantTrace:   true,
		},
		{
			name:        "persist",
			opts:        []Option{WithPersister(failingPersister{}), WithRand(&seqRand{vals: []int{2, 3}})},
			wantReason:  "disk full",
			wantSamples: 15,
			wantClosed:  1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			c := &countingCollector{clock: f.clock}

			res := f.simulator(t, c, tt.opts...).Run(context.Background())

			assert.Equal(t, Failure, res.Status)
			assert.Contains(t, res.Reason, tt.wantReason)
			assert.Equal(t, tt.wantSamples, res.Samples)
			assert.Equal(t, tt.wantClosed, f.bt.Browser.Closed())
			assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.RunSuccess))

			if tt.wantTrace {
				assert.Len(t, readTrace(t, f.cfg.OutputPath), tt.wantSamples)
			} else {
				_, err := os.Stat(f.cfg.OutputPath)
				assert.True(t, os.IsNotExist(err))
			}
		})
	}
}

func TestRunScreenshotOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.page.Remove(playButtonSelector)
	shot := filepath.Join(t.TempDir(), "failure.png")
	f.cfg.ScreenshotOnFailure = null.StringFrom(shot)
	c := &countingCollector{clock: f.clock}

	res := f.simulator(t, c).Run(context.Background())
	require.Equal(t, Failure, res.Status)

	buf, err := os.ReadFile(shot)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), buf)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &countingCollector{clock: f.clock, onSample: func(n int) {
		if n == 3 {
			cancel()
		}
	}}

	res := f.simulator(t, c).Run(ctx)

	assert.Equal(t, Failure, res.Status)
	assert.Contains(t, res.Reason, "interrupted")
	assert.Equal(t, 3, res.Samples)
	assert.Len(t, readTrace(t, f.cfg.OutputPath), 3)
	assert.Equal(t, 1, f.bt.Browser.Closed())
}
