/*
 *
 * pausesim - playback interruption experiments driven through a browser
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/cdp"
	"github.com/grafana/pausesim/log"
)

// Ensure Browser implements the api.Browser interface.
var _ api.Browser = &Browser{}

const (
	BrowserStateOpen int64 = iota
	BrowserStateClosing
	BrowserStateClosed
)

// Browser is a locally launched browser that's driven over CDP.
type Browser struct {
	ctx context.Context

	state int64

	browserProc *BrowserProcess
	cdpClient   *cdp.Client

	logger *log.Logger
}

// NewBrowser creates a new browser, connects to it, then returns it.
func NewBrowser(
	ctx context.Context,
	browserProc *BrowserProcess,
	logger *log.Logger,
) (*Browser, error) {
	b := &Browser{
		ctx:         ctx,
		state:       BrowserStateOpen,
		browserProc: browserProc,
		cdpClient:   cdp.NewClient(ctx, logger),
		logger:      logger,
	}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Browser) connect() error {
	b.logger.Debugf("Browser:connect", "wsURL:%q", b.browserProc.WsURL())
	if err := b.cdpClient.Connect(b.browserProc.WsURL()); err != nil {
		return fmt.Errorf("connecting to browser DevTools URL: %w", err)
	}

	go func() {
		select {
		case <-b.cdpClient.Done():
			if atomic.LoadInt64(&b.state) == BrowserStateOpen {
				b.logger.Warnf("Browser:connect", "lost browser connection: %v", b.cdpClient.Err())
			}
			b.browserProc.didLoseConnection()
		case <-b.ctx.Done():
		}
	}()

	return nil
}

// NewPage opens a new tab and attaches a CDP session to it.
func (b *Browser) NewPage(ctx context.Context) (api.Page, error) {
	targetID, err := b.cdpClient.Target.CreateTarget(ctx, "about:blank")
	if err != nil {
		return nil, fmt.Errorf("creating a new blank page: %w", err)
	}
	sessionID, err := b.cdpClient.Target.AttachToTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	b.logger.Debugf("Browser:NewPage", "sid:%v tid:%v", sessionID, targetID)

	p := NewPage(b.cdpClient, sessionID, targetID, b.logger)
	if err := p.enable(ctx); err != nil {
		return nil, err
	}

	return p, nil
}

// Close shuts down the browser. It's safe to call more than once, and on a
// browser whose connection is already gone.
func (b *Browser) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&b.state, BrowserStateOpen, BrowserStateClosing) {
		// If we're already in a closing state then no need to continue.
		b.logger.Debugf("Browser:Close", "already in a closing state")
		return nil
	}
	defer atomic.StoreInt64(&b.state, BrowserStateClosed)

	b.logger.Debugf("Browser:Close", "")
	b.browserProc.GracefulClose()

	var closeErr error
	if err := b.cdpClient.Browser.Close(ctx); err != nil && !errors.Is(err, cdp.ErrDisconnected) {
		closeErr = fmt.Errorf("closing the browser: %w", err)
	}
	b.cdpClient.Disconnect()
	b.browserProc.Terminate()

	select {
	case <-b.browserProc.Done():
	case <-ctx.Done():
		if closeErr == nil {
			closeErr = fmt.Errorf("waiting for the browser process to exit: %w", ctx.Err())
		}
	}

	return closeErr
}

// IsConnected returns whether the WebSocket connection to the browser process
// is active or not.
func (b *Browser) IsConnected() bool {
	return b.browserProc.isConnected()
}

// Pid returns the browser process ID.
func (b *Browser) Pid() int {
	return b.browserProc.Pid()
}

// Version returns the controlled browser's version.
func (b *Browser) Version(ctx context.Context) (string, error) {
	_, product, _, _, _, err := b.cdpClient.Browser.GetVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("getting browser version: %w", err)
	}

	i := strings.Index(product, "/")
	if i == -1 {
		return product, nil
	}
	return product[i+1:], nil
}
