// Package chromium is responsible for launching a Chrome browser process and managing its lifetime.
package chromium

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/browserprocess"
	"github.com/grafana/pausesim/common"
	"github.com/grafana/pausesim/log"
	"github.com/grafana/pausesim/storage"
)

// Ensure BrowserType implements the api.BrowserType interface.
var _ api.BrowserType = &BrowserType{}

// executables are looked up in PATH, in order, when no browser binary is
// configured.
var executables = []string{ //nolint:gochecknoglobals
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"headless-shell",
}

// BrowserType launches local Chromium browsers.
type BrowserType struct {
	execPath string
	env      []string
	logger   *log.Logger
}

// NewBrowserType returns a BrowserType launching the binary at execPath, or
// the first Chromium found in PATH when execPath is empty.
func NewBrowserType(execPath string, env []string, logger *log.Logger) *BrowserType {
	return &BrowserType{
		execPath: execPath,
		env:      env,
		logger:   logger,
	}
}

// ExecutablePath returns the path of the browser binary that Launch runs.
func (b *BrowserType) ExecutablePath() string {
	if b.execPath != "" {
		return b.execPath
	}
	for _, name := range executables {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// Launch starts a browser with the given extra arguments and connects to
// it. The browser lives until it's closed or ctx is done.
func (b *BrowserType) Launch(ctx context.Context, args []string) (api.Browser, error) {
	path := b.ExecutablePath()
	if path == "" {
		return nil, fmt.Errorf("%w: no browser binary configured and none of %s found in PATH",
			api.ErrSessionStart, strings.Join(executables, ", "))
	}

	dataDir := &storage.Dir{}
	if err := dataDir.Make(os.TempDir(), userDataDir(args)); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSessionStart, err)
	}

	browserCtx, cancel := context.WithCancel(ctx)
	flags := common.BrowserArgs(args, dataDir.Dir)
	b.logger.Debugf("BrowserType:Launch", "path:%q args:%q", path, flags)

	proc, err := common.NewBrowserProcess(browserCtx, path, flags, b.env, dataDir, cancel, b.logger)
	if err != nil {
		cancel()
		if cerr := dataDir.Cleanup(); cerr != nil {
			b.logger.Warnf("BrowserType:Launch", "cleaning up the user data directory: %v", cerr)
		}
		return nil, fmt.Errorf("%w: launching %s: %v", api.ErrSessionStart, path, err)
	}

	pid := proc.Pid()
	browserprocess.Register(ctx, b.logger, pid)
	go func() {
		<-proc.Done()
		browserprocess.Unregister(ctx, pid)
	}()

	browser, err := common.NewBrowser(browserCtx, proc, b.logger)
	if err != nil {
		proc.Terminate()
		return nil, fmt.Errorf("%w: %v", api.ErrSessionStart, err)
	}

	return browser, nil
}

// Name returns the browser type's name.
func (b *BrowserType) Name() string {
	return "chromium"
}

func userDataDir(args []string) string {
	for _, a := range args {
		a = strings.TrimLeft(a, "-")
		if strings.HasPrefix(a, "user-data-dir=") {
			return strings.TrimPrefix(a, "user-data-dir=")
		}
	}
	return ""
}
