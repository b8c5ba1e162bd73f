package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/common/js"
	"github.com/grafana/pausesim/log"
)

var errNoPlayerState = fmt.Errorf("%w: player returned no state", api.ErrScriptExecution)

// Collector takes samples of the page's player and the network.
type Collector struct {
	prober Prober
	logger *log.Logger
	now    func() time.Time
}

// NewCollector returns a Collector probing latency with prober and stamping
// records with now. A nil now uses time.Now.
func NewCollector(prober Prober, now func() time.Time, logger *log.Logger) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{
		prober: prober,
		logger: logger,
		now:    now,
	}
}

// CollectSample reads the player state, the diagnostics panel and the
// latency. It never fails: whatever can't be read is recorded as a marker.
func (c *Collector) CollectSample(ctx context.Context, page api.Page, panel *PanelState) LogRecord {
	rec := LogRecord{
		Time:  c.now(),
		State: c.playerState(ctx, page),
	}
	rec.Metrics = readDiagnostics(ctx, page, panel, c.logger)
	rec.Latency = c.latency(ctx)

	return rec
}

func (c *Collector) playerState(ctx context.Context, page api.Page) PlayerState {
	var code *int
	if err := page.Evaluate(ctx, js.PlayerStateScript, &code); err != nil {
		c.logger.Warnf("telemetry:playerState", "%v", err)
		return StateError(err)
	}
	if code == nil {
		c.logger.Warnf("telemetry:playerState", "%v", errNoPlayerState)
		return StateError(errNoPlayerState)
	}
	return PlayerState{Code: *code}
}

func (c *Collector) latency(ctx context.Context) string {
	if c.prober == nil {
		return LatencyError(errNoProber)
	}
	ms, err := c.prober.Probe(ctx)
	if err != nil {
		c.logger.Warnf("telemetry:latency", "%v", err)
		return LatencyError(err)
	}
	return ms
}
