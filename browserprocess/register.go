package browserprocess

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grafana/pausesim/log"
)

type processState struct {
	pid int
}

var (
	browserProcessRegister   = map[string]*processState{} //nolint:gochecknoglobals
	browserProcessRegisterMu = sync.Mutex{}               //nolint:gochecknoglobals
)

func key(ctx context.Context, pid int) string {
	return strconv.FormatInt(int64(pid), 10) + GetRunID(ctx)
}

// Register records a launched browser pid under the run ID in ctx, so that
// it can be killed by ForceProcessShutdown.
func Register(ctx context.Context, logger *log.Logger, pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	logger.Debugf("BrowserProcess:register", "registered BrowserProcess pid %d", pid)

	browserProcessRegister[key(ctx, pid)] = &processState{pid: pid}
}

// Unregister forgets a browser pid once it has exited cleanly.
func Unregister(ctx context.Context, pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	delete(browserProcessRegister, key(ctx, pid))
}

// Registered returns the pids registered under the run ID in ctx, or every
// registered pid when ctx carries no run ID.
func Registered(ctx context.Context) []int {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	rID := GetRunID(ctx)
	pids := make([]int, 0, len(browserProcessRegister))
	for k, v := range browserProcessRegister {
		if rID != "" && !strings.HasSuffix(k, rID) {
			continue
		}
		pids = append(pids, v.pid)
	}

	return pids
}

// ForceProcessShutdown should be called when pausesim is having to shut
// down due to an internal error (and therefore a panic) or an interrupt
// that didn't let the session close the browser.
func ForceProcessShutdown(ctx context.Context) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	rID := GetRunID(ctx)

	for k, v := range browserProcessRegister {
		if rID != "" && !strings.HasSuffix(k, rID) {
			continue
		}

		p, err := os.FindProcess(v.pid)
		if err != nil {
			// optimistically continue and don't kill the process
			continue
		}
		// no need to check the error for waiting the process to release
		// its resources or whether we could kill it as we're already
		// dying.
		_ = p.Kill()
		_ = p.Release()
		delete(browserProcessRegister, k)
	}
}
