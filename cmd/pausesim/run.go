package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grafana/pausesim/browserprocess"
	"github.com/grafana/pausesim/chromium"
	"github.com/grafana/pausesim/config"
	"github.com/grafana/pausesim/log"
	"github.com/grafana/pausesim/metrics"
	"github.com/grafana/pausesim/otel"
	"github.com/grafana/pausesim/session"
	"github.com/grafana/pausesim/simulator"
	"github.com/grafana/pausesim/telemetry"
	"github.com/grafana/pausesim/trace"
)

const shutdownTimeout = 10 * time.Second

var errRunFailed = errors.New("run failed")

// runSimulation runs the scenario against a local Chromium.
func runSimulation(ctx context.Context, cfg config.RunConfig, stdout, stderr io.Writer) error {
	logger, err := log.NewFromOptions(log.Options{
		Level:          cfg.LogLevel,
		CategoryFilter: cfg.LogCategoryFilter,
		File:           cfg.LogFile.String,
		Output:         stderr,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	ctx = browserprocess.WithRunID(ctx, runID)
	logger = logger.With(logrus.Fields{"run_id": runID})

	defer func() {
		if r := recover(); r != nil {
			browserprocess.ForceProcessShutdown(ctx)
			panic(r)
		}
	}()

	tp, err := newTraceProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warnf("main:shutdown", "flushing spans: %v", err)
		}
	}()

	m := metrics.RegisterCustomMetrics()
	bt := chromium.NewBrowserType(cfg.BrowserBinaryPath, os.Environ(), logger)
	sim := simulator.New(
		cfg,
		session.NewController(bt, cfg, nil, logger),
		telemetry.NewCollector(newProber(cfg), nil, logger),
		logger,
		simulator.WithMetrics(m),
		simulator.WithTracer(trace.NewTracer(tp, map[string]string{"run_id": runID}, logger)),
	)

	res := sim.Run(ctx)
	if ctx.Err() != nil {
		// Interrupted; make sure nothing of this run outlives us.
		browserprocess.ForceProcessShutdown(ctx)
	}

	if cfg.MetricsTextfile.Valid {
		if err := m.WriteTextfile(cfg.MetricsTextfile.String); err != nil {
			logger.Warnf("main:metrics", "%v", err)
		}
	}

	printResult(stdout, runID, cfg, res)

	if res.Status != simulator.Success {
		return errRunFailed
	}
	return nil
}

func newTraceProvider(ctx context.Context, cfg config.RunConfig) (otel.TraceProvider, error) {
	if !cfg.OTelEndpoint.Valid {
		return otel.NewNoopTraceProvider(), nil
	}
	tp, err := otel.NewTraceProviderFromURL(ctx, cfg.OTelEndpoint.String)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	return tp, nil
}

func newProber(cfg config.RunConfig) telemetry.Prober {
	if cfg.Probe == config.ProbeHTTP {
		return telemetry.NewHTTPProbe(cfg.ProbeURL, nil, cfg.ProbeTimeout)
	}
	return telemetry.NewPingProbe(cfg.ProbeCommand, cfg.ProbeHost, telemetry.ExecRunner)
}
