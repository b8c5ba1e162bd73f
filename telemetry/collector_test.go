package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/pausesim/log"
	"github.com/grafana/pausesim/testutils/pagetest"
)

type proberFunc func(context.Context) (string, error)

func (f proberFunc) Probe(ctx context.Context) (string, error) { return f(ctx) }

func fixedLatency(ms string) Prober {
	return proberFunc(func(context.Context) (string, error) { return ms, nil })
}

type videoPage struct {
	*pagetest.Page
	player *pagetest.Element
	stats  *pagetest.Element
}

// newVideoPage returns a page with a playing player whose context menu
// opens the diagnostics panel.
func newVideoPage() *videoPage {
	p := pagetest.NewPage()
	p.SetPlayerState(PlayerPlaying)

	vp := &videoPage{
		Page:   p,
		player: pagetest.NewElement(""),
		stats:  pagetest.NewElement(""),
	}
	p.Add(playerSelector, vp.player)

	loop := pagetest.NewElement("").Add(menuLabelSelector, pagetest.NewElement("Loop"))
	vp.stats.Add(menuLabelSelector, pagetest.NewElement(" Stats for nerds "))
	vp.player.OnContextClick = func() error {
		p.Remove(menuItemSelector)
		p.Add(menuItemSelector, loop, vp.stats)
		return nil
	}
	vp.stats.OnClick = func() error {
		for _, f := range DiagnosticFields {
			p.Add(FieldSelector(f.Pos), pagetest.NewElement(fmt.Sprintf("%s value", f.Key)))
		}
		return nil
	}

	return vp
}

func TestCollectSample(t *testing.T) {
	t.Parallel()

	now := time.Unix(1634121321, 0)
	c := NewCollector(fixedLatency("23.4"), func() time.Time { return now }, log.NewNullLogger())
	page := newVideoPage()
	var panel PanelState

	rec := c.CollectSample(context.Background(), page, &panel)

	assert.Equal(t, now, rec.Time)
	assert.Equal(t, PlayerState{Code: PlayerPlaying}, rec.State)
	assert.Equal(t, "23.4", rec.Latency)
	assert.Empty(t, rec.Metrics.Marker)
	require.Len(t, rec.Metrics.Fields, len(DiagnosticFields))
	for i, f := range DiagnosticFields {
		assert.Equal(t, f.Key, rec.Metrics.Fields[i].Key)
		assert.Equal(t, f.Key+" value", rec.Metrics.Fields[i].Value)
	}
	assert.True(t, panel.IsOpen())
	assert.Equal(t, 1, page.player.ContextClicks())
	assert.Equal(t, 1, page.stats.Clicks())
}

func TestCollectSampleOpensPanelOnce(t *testing.T) {
	t.Parallel()

	c := NewCollector(fixedLatency("1"), nil, log.NewNullLogger())
	page := newVideoPage()
	var panel PanelState

	for i := 0; i < 5; i++ {
		rec := c.CollectSample(context.Background(), page, &panel)
		assert.Zero(t, rec.Metrics.Errors())
	}
	assert.Equal(t, 1, page.player.ContextClicks())
	assert.Equal(t, 1, page.stats.Clicks())
	assert.Equal(t, 1, page.Queries(playerSelector))
}

func TestCollectSamplePanelUnavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*videoPage)
	}{
		{
			name:  "no_player",
			setup: func(p *videoPage) { p.Remove(playerSelector) },
		},
		{
			name: "context_click_fails",
			setup: func(p *videoPage) {
				p.player.OnContextClick = func() error { return errors.New("node is detached") }
			},
		},
		{
			name: "no_menu_item",
			setup: func(p *videoPage) {
				p.player.OnContextClick = func() error {
					p.Add(menuItemSelector, pagetest.NewElement("").
						Add(menuLabelSelector, pagetest.NewElement("Loop")))
					return nil
				}
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewCollector(fixedLatency("1"), nil, log.NewNullLogger())
			page := newVideoPage()
			tt.setup(page)
			var panel PanelState

			rec := c.CollectSample(context.Background(), page, &panel)
			assert.Equal(t, PanelUnavailableMarker, rec.Metrics.Marker)
			assert.Empty(t, rec.Metrics.Fields)
			assert.False(t, panel.IsOpen())
			assert.True(t, rec.State.Valid(), "other readings are still taken")
			assert.Equal(t, "1", rec.Latency)
		})
	}
}

func TestCollectSampleFieldErrors(t *testing.T) {
	t.Parallel()

	c := NewCollector(fixedLatency("1"), nil, log.NewNullLogger())
	page := newVideoPage()
	var panel PanelState
	rec := c.CollectSample(context.Background(), page, &panel)
	require.Zero(t, rec.Metrics.Errors())

	page.Remove(FieldSelector(5))
	broken := pagetest.NewElement("")
	broken.FailText(errors.New("stale element"))
	page.Remove(FieldSelector(11))
	page.Add(FieldSelector(11), broken)

	rec = c.CollectSample(context.Background(), page, &panel)
	assert.Equal(t, 2, rec.Metrics.Errors())
	v, _ := rec.Metrics.Get("Codecs")
	assert.Equal(t, FieldErrorMarker, v)
	v, _ = rec.Metrics.Get("Buffer Health")
	assert.Equal(t, FieldErrorMarker, v)
	v, _ = rec.Metrics.Get("Video ID")
	assert.Equal(t, "Video ID value", v)
}

func TestCollectSampleStateError(t *testing.T) {
	t.Parallel()

	c := NewCollector(fixedLatency("1"), nil, log.NewNullLogger())

	t.Run("throws", func(t *testing.T) {
		t.Parallel()

		page := newVideoPage()
		page.FailPlayerState("player not ready")
		var panel PanelState

		rec := c.CollectSample(context.Background(), page, &panel)
		assert.False(t, rec.State.Valid())
		assert.True(t, strings.HasPrefix(rec.State.Marker, "Error: "), rec.State.Marker)
		assert.Contains(t, rec.State.Marker, "player not ready")
	})

	t.Run("no_player", func(t *testing.T) {
		t.Parallel()

		page := newVideoPage()
		page.RemovePlayer()
		var panel PanelState

		rec := c.CollectSample(context.Background(), page, &panel)
		assert.False(t, rec.State.Valid())
	})

	t.Run("null_state", func(t *testing.T) {
		t.Parallel()

		page := newVideoPage()
		page.ClearPlayerState()
		var panel PanelState

		rec := c.CollectSample(context.Background(), page, &panel)
		assert.False(t, rec.State.Valid())
		assert.Contains(t, rec.State.Marker, "player returned no state")
	})
}

func TestCollectSampleLatencyError(t *testing.T) {
	t.Parallel()

	failing := proberFunc(func(context.Context) (string, error) {
		return "", errors.New("exit status 2")
	})
	c := NewCollector(failing, nil, log.NewNullLogger())
	var panel PanelState

	rec := c.CollectSample(context.Background(), newVideoPage(), &panel)
	assert.Equal(t, "Error measuring latency: exit status 2", rec.Latency)

	c = NewCollector(nil, nil, log.NewNullLogger())
	rec = c.CollectSample(context.Background(), newVideoPage(), &panel)
	assert.True(t, strings.HasPrefix(rec.Latency, "Error measuring latency: "))
}

func TestCollectSampleNeverFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	failing := proberFunc(func(ctx context.Context) (string, error) { return "", ctx.Err() })
	c := NewCollector(failing, nil, log.NewNullLogger())
	var panel PanelState

	rec := c.CollectSample(ctx, newVideoPage(), &panel)
	assert.False(t, rec.State.Valid())
	assert.Equal(t, PanelUnavailableMarker, rec.Metrics.Marker)
	assert.True(t, strings.HasPrefix(rec.Latency, "Error measuring latency: "))
}
