package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/log"
)

const statsMenuLabel = "Stats for nerds"

//nolint:gochecknoglobals
var (
	playerSelector    = api.ID("movie_player")
	menuItemSelector  = api.ClassName("ytp-menuitem")
	menuLabelSelector = api.ClassName("ytp-menuitem-label")
)

// DiagnosticFields lists the panel rows that are sampled, keyed by their
// label. Pos is the row's 1-based position in the panel.
var DiagnosticFields = []struct { //nolint:gochecknoglobals
	Key string
	Pos int
}{
	{"Video ID", 1},
	{"Viewport / Frame Size", 2},
	{"Current Res / Optimal Res", 3},
	{"Volume / Normalized", 4},
	{"Codecs", 5},
	{"Color", 7},
	{"Connection Speed", 9},
	{"Network Activity", 10},
	{"Buffer Health", 11},
}

// FieldSelector returns the selector of the value cell of the panel row at
// pos.
func FieldSelector(pos int) api.Selector {
	return api.CSS(fmt.Sprintf(
		".html5-video-info-panel-content > div:nth-child(%d) > span:nth-child(2)", pos))
}

// PanelState tracks whether the diagnostics panel was opened in a session.
// Once open, it's never reopened.
type PanelState struct {
	mu   sync.Mutex
	open bool
}

// IsOpen reports whether the panel has been opened.
func (p *PanelState) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.open
}

func (p *PanelState) markOpen() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.open = true
}

// openPanel right-clicks the player and picks the panel from its context
// menu.
func openPanel(ctx context.Context, page api.Page, logger *log.Logger) error {
	player, err := page.Query(ctx, playerSelector)
	if err != nil {
		return err
	}
	defer dispose(ctx, player, logger)

	if err := player.ContextClick(ctx); err != nil {
		return err
	}

	items, err := page.QueryAll(ctx, menuItemSelector)
	if err != nil {
		return err
	}
	defer func() {
		for _, item := range items {
			dispose(ctx, item, logger)
		}
	}()

	for _, item := range items {
		label, err := item.Query(ctx, menuLabelSelector)
		if err != nil {
			continue
		}
		text, err := label.Text(ctx)
		dispose(ctx, label, logger)
		if err != nil {
			logger.Debugf("telemetry:openPanel", "reading menu label: %v", err)
			continue
		}
		if strings.TrimSpace(text) == statsMenuLabel {
			return item.Click(ctx)
		}
	}

	return fmt.Errorf("%w: no %q item in the player menu", api.ErrElementNotFound, statsMenuLabel)
}

// readDiagnostics opens the panel unless it's already open, then reads
// every sampled row. A row that can't be read holds FieldErrorMarker.
func readDiagnostics(ctx context.Context, page api.Page, panel *PanelState, logger *log.Logger) Diagnostics {
	if !panel.IsOpen() {
		if err := openPanel(ctx, page, logger); err != nil {
			logger.Warnf("telemetry:diagnostics", "opening the diagnostics panel: %v", err)
			return Diagnostics{Marker: PanelUnavailableMarker}
		}
		panel.markOpen()
	}

	d := Diagnostics{Fields: make([]Field, 0, len(DiagnosticFields))}
	for _, f := range DiagnosticFields {
		value, err := readField(ctx, page, f.Pos, logger)
		if err != nil {
			logger.Debugf("telemetry:diagnostics", "reading %q: %v", f.Key, err)
			value = FieldErrorMarker
		}
		d.Fields = append(d.Fields, Field{Key: f.Key, Value: value})
	}

	return d
}

func readField(ctx context.Context, page api.Page, pos int, logger *log.Logger) (string, error) {
	el, err := page.Query(ctx, FieldSelector(pos))
	if err != nil {
		return "", err
	}
	defer dispose(ctx, el, logger)

	return el.Text(ctx)
}

func dispose(ctx context.Context, h api.ElementHandle, logger *log.Logger) {
	if err := h.Dispose(ctx); err != nil {
		logger.Tracef("telemetry:dispose", "%v", err)
	}
}
