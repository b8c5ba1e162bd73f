// Package simulator runs the pausing scenario: it plays a video, samples
// player and network telemetry at a fixed interval, and toggles playback
// after a random number of samples, until the run duration is over.
package simulator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/config"
	"github.com/grafana/pausesim/log"
	"github.com/grafana/pausesim/metrics"
	"github.com/grafana/pausesim/otel"
	"github.com/grafana/pausesim/session"
	"github.com/grafana/pausesim/storage"
	"github.com/grafana/pausesim/telemetry"
	"github.com/grafana/pausesim/trace"
)

// persistTimeout bounds the final trace write, which also happens after the
// run was cancelled.
const persistTimeout = 30 * time.Second

// Status is the outcome of a run.
type Status int

// Run outcomes.
const (
	Success Status = iota
	Failure
)

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return "failure"
}

// Result describes a finished run.
type Result struct {
	Status Status
	// Reason says why the run failed. It's empty on success.
	Reason  string
	Samples int
	Toggles int
	// Started is when playback was seen starting. Zero if it never did.
	Started time.Time
	Elapsed time.Duration
	Trace   []telemetry.LogRecord
}

// SessionController starts, drives and stops browser sessions.
type SessionController interface {
	Start(ctx context.Context) (*session.Session, error)
	AwaitPlaybackStart(ctx context.Context, s *session.Session) (time.Time, error)
	TogglePlayback(ctx context.Context, s *session.Session) error
	Screenshot(ctx context.Context, s *session.Session, path string) error
	Stop(s *session.Session)
}

// SampleCollector takes telemetry samples of a page.
type SampleCollector interface {
	CollectSample(ctx context.Context, page api.Page, panel *telemetry.PanelState) telemetry.LogRecord
}

var (
	_ SessionController = &session.Controller{}
	_ SampleCollector   = &telemetry.Collector{}
)

// Simulator runs the scenario once per Run.
type Simulator struct {
	cfg       config.RunConfig
	sessions  SessionController
	collector SampleCollector
	persister storage.FilePersister
	clock     Clock
	rand      Rand
	metrics   *metrics.CustomMetrics
	tracer    *trace.Tracer
	logger    *log.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(s *Simulator) { s.clock = c } }

// WithRand replaces the random source of dwell lengths.
func WithRand(r Rand) Option { return func(s *Simulator) { s.rand = r } }

// WithPersister replaces the local file persister of the trace.
func WithPersister(p storage.FilePersister) Option { return func(s *Simulator) { s.persister = p } }

// WithMetrics records the run in m.
func WithMetrics(m *metrics.CustomMetrics) Option { return func(s *Simulator) { s.metrics = m } }

// WithTracer records spans of the run with t.
func WithTracer(t *trace.Tracer) Option { return func(s *Simulator) { s.tracer = t } }

// New returns a Simulator for cfg. Without options it uses the wall clock, a
// random source seeded from cfg.Seed or the clock, and writes the trace to
// the local disk.
func New(
	cfg config.RunConfig, sessions SessionController, collector SampleCollector, logger *log.Logger, opts ...Option,
) *Simulator {
	s := &Simulator{
		cfg:       cfg,
		sessions:  sessions,
		collector: collector,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.clock == nil {
		s.clock = RealClock()
	}
	if s.rand == nil {
		seed := s.clock.Now().UnixNano()
		if cfg.Seed.Valid {
			seed = cfg.Seed.Int64
		}
		s.rand = NewRand(seed)
	}
	if s.persister == nil {
		s.persister = &storage.LocalFilePersister{}
	}
	if s.metrics == nil {
		s.metrics = metrics.RegisterCustomMetrics()
	}
	if s.tracer == nil {
		s.tracer = trace.NewTracer(otel.NewNoopTraceProvider(), nil, logger)
	}

	return s
}

// run is the state of a single Run.
type run struct {
	sess    *session.Session
	trace   []telemetry.LogRecord
	toggles int
	t0      time.Time
	err     error
}

// Run executes the scenario. It never panics on a controlled failure:
// whatever goes wrong ends up in the Result. The trace collected so far is
// persisted exactly once and the session stopped on every path.
func (s *Simulator) Run(ctx context.Context) Result {
	ctx, span := s.tracer.TraceRun(ctx, s.cfg.TargetURL)
	defer span.End()

	r := &run{}
	r.err = s.execute(ctx, r)

	if r.err != nil {
		s.logger.Errorf("simulator:run", "%v", r.err)
		s.screenshot(ctx, r)
	}
	if err := s.persist(ctx, r.trace); err != nil {
		s.logger.Errorf("simulator:run", "%v", err)
		if r.err == nil {
			r.err = err
		} else {
			r.err = fmt.Errorf("%v; %w", r.err, err)
		}
	}
	s.sessions.Stop(r.sess)

	res := Result{
		Status:  Success,
		Samples: len(r.trace),
		Toggles: r.toggles,
		Started: r.t0,
		Trace:   r.trace,
	}
	if !r.t0.IsZero() {
		res.Elapsed = s.clock.Now().Sub(r.t0)
	}
	if r.err != nil {
		res.Status = Failure
		res.Reason = r.err.Error()
		span.RecordError(r.err)
		span.SetStatus(codes.Error, res.Reason)
	}
	s.metrics.ObserveRun(res.Status == Success, res.Elapsed)

	s.logger.Infof("simulator:run", "%s: %d samples, %d toggles in %s",
		res.Status, res.Samples, res.Toggles, res.Elapsed)

	return res
}

func (s *Simulator) execute(ctx context.Context, r *run) error {
	var err error
	if r.sess, err = s.sessions.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	if r.t0, err = s.sessions.AwaitPlaybackStart(ctx, r.sess); err != nil {
		return fmt.Errorf("waiting for playback: %w", err)
	}

	for s.clock.Now().Sub(r.t0) < s.cfg.Duration {
		dwell := s.dwell()
		s.logger.Debugf("simulator:run", "dwelling for %d samples", dwell)

		for i := 0; i < dwell; i++ {
			s.sample(ctx, r)
			if err := s.clock.Sleep(ctx, s.cfg.SampleInterval); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
		}

		if err := s.toggle(ctx, r, dwell); err != nil {
			return err
		}
	}

	return nil
}

// dwell draws the number of samples before the next toggle, uniformly from
// [dwell_min, dwell_max].
func (s *Simulator) dwell() int {
	return s.cfg.DwellMin + s.rand.Intn(s.cfg.DwellMax-s.cfg.DwellMin+1)
}

func (s *Simulator) sample(ctx context.Context, r *run) {
	ctx, span := s.tracer.TraceSample(ctx, len(r.trace)+1)
	defer span.End()

	rec := s.collector.CollectSample(ctx, r.sess.Page, r.sess.Panel)
	r.trace = append(r.trace, rec)
	s.metrics.ObserveRecord(rec)

	s.logger.Debugf("simulator:sample", "#%d state %s latency %s", len(r.trace), rec.State, rec.Latency)
}

func (s *Simulator) toggle(ctx context.Context, r *run, dwell int) error {
	ctx, span := s.tracer.TraceToggle(ctx, r.toggles+1, dwell)
	defer span.End()

	if err := s.sessions.TogglePlayback(ctx, r.sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.toggles++
	s.metrics.ObserveToggle()

	return nil
}

func (s *Simulator) persist(ctx context.Context, tr []telemetry.LogRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := storage.PersistTrace(ctx, s.persister, tr, s.cfg.OutputPath); err != nil {
		return err
	}
	s.logger.Infof("simulator:persist", "wrote %d records to %s", len(tr), s.cfg.OutputPath)

	return nil
}

func (s *Simulator) screenshot(ctx context.Context, r *run) {
	if !s.cfg.ScreenshotOnFailure.Valid || r.sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.sessions.Screenshot(ctx, r.sess, s.cfg.ScreenshotOnFailure.String); err != nil {
		s.logger.Warnf("simulator:screenshot", "%v", err)
	}
}
