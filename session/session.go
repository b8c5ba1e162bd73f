// Package session owns the browser session of a run: launching it, waiting
// for the video to play, finding and clicking player controls, and tearing
// everything down.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/common"
	"github.com/grafana/pausesim/config"
	"github.com/grafana/pausesim/log"
	"github.com/grafana/pausesim/storage"
	"github.com/grafana/pausesim/telemetry"
)

// closeTimeout bounds how long Stop waits for the browser to exit.
const closeTimeout = 10 * time.Second

//nolint:gochecknoglobals
var (
	timeCurrentSelector = api.ClassName("ytp-time-current")
	playButtonSelector  = api.ClassName("ytp-play-button")
)

// Session is a live browser session with the target page open in it.
type Session struct {
	Browser api.Browser
	Page    api.Page
	// Panel tracks the diagnostics panel of Page.
	Panel *telemetry.PanelState

	stopOnce sync.Once
}

// Controller starts and drives sessions.
type Controller struct {
	browserType api.BrowserType
	cfg         config.RunConfig
	now         func() time.Time
	shots       *common.Screenshotter
	logger      *log.Logger
}

// NewController returns a Controller launching browsers of browserType. A
// nil now uses time.Now.
func NewController(
	browserType api.BrowserType, cfg config.RunConfig, now func() time.Time, logger *log.Logger,
) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		browserType: browserType,
		cfg:         cfg,
		now:         now,
		shots:       common.NewScreenshotter(&storage.LocalFilePersister{}),
		logger:      logger,
	}
}

// Start launches a browser, opens a page and navigates it to the target.
// Every error wraps api.ErrSessionStart.
func (c *Controller) Start(ctx context.Context) (*Session, error) {
	c.logger.Infof("session:start", "launching %s with args %q", c.browserType.Name(), c.cfg.LaunchArguments)

	b, err := c.browserType.Launch(ctx, c.cfg.LaunchArguments)
	if err != nil {
		return nil, startError(err)
	}
	s := &Session{Browser: b, Panel: &telemetry.PanelState{}}

	if v, err := b.Version(ctx); err == nil {
		c.logger.Debugf("session:start", "browser version %s pid %d", v, b.Pid())
	}

	if s.Page, err = b.NewPage(ctx); err != nil {
		c.Stop(s)
		return nil, startError(err)
	}
	if err := s.Page.Navigate(ctx, c.cfg.TargetURL); err != nil {
		c.Stop(s)
		return nil, startError(fmt.Errorf("navigating to %q: %w", c.cfg.TargetURL, err))
	}

	return s, nil
}

func startError(err error) error {
	if errors.Is(err, api.ErrSessionStart) {
		return err
	}
	return fmt.Errorf("%w: %v", api.ErrSessionStart, err)
}

// AwaitPlaybackStart polls the elapsed time indicator until playback looks
// started, and returns when that was seen. Started means the indicator text
// is not empty and its first four characters equal its last four.
//
// Polls are start_poll_interval apart and there are at most start_attempts
// of them, unless that's zero. Reads of a missing or stale indicator count
// as a failed poll.
func (c *Controller) AwaitPlaybackStart(ctx context.Context, s *Session) (time.Time, error) {
	var (
		attempts int
		last     string
	)
	poll := func() error {
		attempts++
		text, err := c.readTimeCurrent(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Debugf("session:awaitPlaybackStart", "attempt %d: %v", attempts, err)
			return err
		}
		last = text
		if !PlaybackStarted(text) {
			return fmt.Errorf("playback not started, time indicator %q", text)
		}
		return nil
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(c.cfg.StartPollInterval)
	if c.cfg.StartAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.cfg.StartAttempts-1))
	}
	if err := backoff.Retry(poll, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		return time.Time{}, fmt.Errorf("waiting for playback to start after %d attempts (last time indicator %q): %w",
			attempts, last, err)
	}

	t0 := c.now()
	c.logger.Infof("session:awaitPlaybackStart", "playback started after %d attempts", attempts)

	return t0, nil
}

func (c *Controller) readTimeCurrent(ctx context.Context, s *Session) (string, error) {
	el, err := s.Page.Query(ctx, timeCurrentSelector)
	if err != nil {
		return "", err
	}
	defer func() { _ = el.Dispose(ctx) }()

	return el.Text(ctx)
}

// PlaybackStarted reports whether the elapsed time indicator text shows
// that playback has started.
func PlaybackStarted(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	return head(text, 4) == tail(text, 4)
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) < n {
		return s
	}
	return string(r[:n])
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) < n {
		return s
	}
	return string(r[len(r)-n:])
}

// Locate waits up to locate_timeout for an element matching sel to be
// present. It fails with api.ErrElementNotFound when it isn't.
func (c *Controller) Locate(ctx context.Context, s *Session, sel api.Selector) (api.ElementHandle, error) {
	lctx, cancel := context.WithTimeout(ctx, c.cfg.LocateTimeout)
	defer cancel()

	var (
		el      api.ElementHandle
		lastErr error
	)
	find := func() error {
		var err error
		if el, err = s.Page.Query(lctx, sel); err != nil {
			lastErr = err
			if !errors.Is(err, api.ErrElementNotFound) && lctx.Err() == nil {
				// Script errors won't go away by waiting.
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	b := backoff.NewConstantBackOff(locatePollInterval(c.cfg.LocateTimeout))
	if err := backoff.Retry(find, backoff.WithContext(b, lctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, api.ErrElementNotFound) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s within %s", api.ErrElementNotFound, sel, c.cfg.LocateTimeout)
		}
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}

	return el, nil
}

// locatePollInterval polls ten times per timeout, but at most every 500ms.
func locatePollInterval(timeout time.Duration) time.Duration {
	d := timeout / 10
	if d > 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// TogglePlayback clicks the player's play/pause button.
func (c *Controller) TogglePlayback(ctx context.Context, s *Session) error {
	btn, err := c.Locate(ctx, s, playButtonSelector)
	if err != nil {
		return fmt.Errorf("toggling playback: %w", err)
	}
	defer func() { _ = btn.Dispose(ctx) }()

	if err := btn.Click(ctx); err != nil {
		return fmt.Errorf("toggling playback: %w", err)
	}
	c.logger.Debugf("session:togglePlayback", "clicked %s", playButtonSelector)

	return nil
}

// Screenshot saves a PNG image of the session's page at path.
func (c *Controller) Screenshot(ctx context.Context, s *Session, path string) error {
	if s == nil || s.Page == nil {
		return errors.New("no page to capture")
	}
	if err := c.shots.Screenshot(ctx, s.Page, path); err != nil {
		return err
	}
	c.logger.Infof("session:screenshot", "saved %s", path)

	return nil
}

// Stop closes the browser. It's safe to call on a nil or failed session,
// and more than once.
func (c *Controller) Stop(s *Session) {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		if s.Browser == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		// A browser that already dropped the connection still needs its
		// process reaped, but failing to close it is expected.
		connected := s.Browser.IsConnected()
		if err := s.Browser.Close(ctx); err != nil {
			if !connected {
				c.logger.Debugf("session:stop", "closing the disconnected browser: %v", err)
				return
			}
			c.logger.Warnf("session:stop", "closing the browser: %v", err)
			return
		}
		c.logger.Debugf("session:stop", "browser closed")
	})
}
