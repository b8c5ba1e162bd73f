package pagetest

import (
	"context"
	"sync"

	"github.com/grafana/pausesim/api"
)

// Ensure the fakes implement the browser interfaces.
var (
	_ api.Browser     = &Browser{}
	_ api.BrowserType = &BrowserType{}
)

// BrowserType is a fake api.BrowserType that hands out Browser.
type BrowserType struct {
	mu sync.Mutex

	// Browser is returned by Launch.
	Browser *Browser
	// LaunchErr is returned by Launch when set.
	LaunchErr error

	launchArgs [][]string
}

// NewBrowserType returns a BrowserType launching a browser that opens page.
func NewBrowserType(page *Page) *BrowserType {
	return &BrowserType{Browser: &Browser{Page: page}}
}

func (bt *BrowserType) ExecutablePath() string { return "/fake/chromium" }

func (bt *BrowserType) Name() string { return "fake" }

func (bt *BrowserType) Launch(ctx context.Context, args []string) (api.Browser, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.launchArgs = append(bt.launchArgs, args)
	if bt.LaunchErr != nil {
		return nil, bt.LaunchErr
	}

	return bt.Browser, nil
}

// Launches returns the arguments of every Launch call.
func (bt *BrowserType) Launches() [][]string {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	return append([][]string(nil), bt.launchArgs...)
}

// Browser is a fake api.Browser with a single page.
type Browser struct {
	mu sync.Mutex

	Page       *Page
	NewPageErr error
	CloseErr   error

	closed       int
	disconnected bool
}

func (b *Browser) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed++
	return b.CloseErr
}

// Closed returns how many times Close was called.
func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}

func (b *Browser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed == 0 && !b.disconnected
}

// Disconnect makes the browser report a lost connection.
func (b *Browser) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.disconnected = true
}

func (b *Browser) NewPage(context.Context) (api.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	return b.Page, nil
}

func (b *Browser) Pid() int { return 0 }

func (b *Browser) Version(context.Context) (string, error) { return "0.0.0-fake", nil }
