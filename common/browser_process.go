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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/grafana/pausesim/log"
	"github.com/grafana/pausesim/storage"
)

type BrowserProcess struct {
	ctx    context.Context
	cancel context.CancelFunc

	// The process of the browser, running locally.
	process *os.Process

	// Channels for managing termination.
	lostConnection             chan struct{}
	processIsGracefullyClosing chan struct{}
	processDone                chan struct{}

	// Browser's WebSocket URL to speak CDP
	wsURL string

	// The directory where user data for the browser is stored.
	userDataDir *storage.Dir

	logger *log.Logger
}

// NewBrowserProcess starts the browser executable at path and waits until
// it reports its DevTools WebSocket URL.
func NewBrowserProcess(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	ctxCancel context.CancelFunc, logger *log.Logger,
) (*BrowserProcess, error) {
	cmd, err := execute(ctx, path, args, env, dataDir, logger)
	if err != nil {
		return nil, err
	}

	wsURL, err := parseDevToolsURL(ctx, cmd)
	if err != nil {
		ctxCancel()
		return nil, fmt.Errorf("getting DevTools URL: %w", err)
	}

	p := BrowserProcess{
		ctx:                        ctx,
		cancel:                     ctxCancel,
		process:                    cmd.Process,
		lostConnection:             make(chan struct{}),
		processIsGracefullyClosing: make(chan struct{}),
		processDone:                cmd.done,
		wsURL:                      wsURL,
		userDataDir:                dataDir,
		logger:                     logger,
	}

	go func() {
		// If we lose connection to the browser and we're not in-progress with clean
		// browser-initiated termination then cancel the context to clean up.
		select {
		case <-p.lostConnection:
		case <-ctx.Done():
		}

		select {
		case <-p.processIsGracefullyClosing:
		default:
			p.cancel()
		}
	}()

	return &p, nil
}

func (p *BrowserProcess) didLoseConnection() {
	select {
	case <-p.lostConnection:
	default:
		close(p.lostConnection)
	}
}

func (p *BrowserProcess) isConnected() bool {
	var ok bool
	select {
	case _, ok = <-p.lostConnection:
	default:
		ok = true
	}
	return ok
}

// GracefulClose triggers a graceful closing of the browser process.
func (p *BrowserProcess) GracefulClose() {
	p.logger.Debugf("Browser:GracefulClose", "")
	select {
	case <-p.processIsGracefullyClosing:
	default:
		close(p.processIsGracefullyClosing)
	}
}

// Terminate triggers the termination of the browser process.
func (p *BrowserProcess) Terminate() {
	p.logger.Debugf("Browser:Close", "browserProc terminate")
	p.cancel()
}

// Done returns a channel that's closed when the process has exited and its
// data directory has been cleaned up.
func (p *BrowserProcess) Done() <-chan struct{} {
	return p.processDone
}

// WsURL returns the Websocket URL that the browser is listening on for CDP clients.
func (p *BrowserProcess) WsURL() string {
	return p.wsURL
}

// Pid returns the browser process ID.
func (p *BrowserProcess) Pid() int {
	return p.process.Pid
}

type command struct {
	*exec.Cmd
	done     chan struct{}
	devTools <-chan devToolsResult
}

type devToolsResult struct {
	url string
	err error
}

func execute(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	logger *log.Logger,
) (command, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	killAfterParent(cmd)

	// Set up environment variable for process
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return command{}, fmt.Errorf("%w", err)
	}

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	err = cmd.Start()
	if errors.Is(err, os.ErrNotExist) {
		return command{}, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return command{}, fmt.Errorf("%w", err)
	}
	if ctx.Err() != nil {
		return command{}, fmt.Errorf("%w", ctx.Err())
	}

	devTools, drained := readStderr(stderr, logger)

	done := make(chan struct{})
	go func() {
		defer func() {
			if err := dataDir.Cleanup(); err != nil {
				logger.Errorf("browser", "cleaning up the user data directory: %v", err)
			}
			close(done)
		}()

		// Wait closes the pipe, so it must not run before every read
		// from it has returned.
		<-drained

		// The process is killed through ctx on Terminate, so an error here
		// only matters if nobody asked for it.
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logger.Errorf("browser",
				"process with PID %d unexpectedly ended: %v",
				cmd.Process.Pid, err)
		}
	}()

	return command{cmd, done, devTools}, nil
}

// readStderr scans the browser's stderr for the DevTools WebSocket URL and
// sends it, or the first ERROR/FATAL message if stderr ends before the URL
// shows up. Either way it keeps reading until EOF, logging what the browser
// writes, and closes drained when done.
func readStderr(stderr io.Reader, logger *log.Logger) (<-chan devToolsResult, <-chan struct{}) {
	var (
		c       = make(chan devToolsResult, 1)
		drained = make(chan struct{})
	)
	go func() {
		defer close(drained)

		const prefix = "DevTools listening on "

		var (
			scanner = bufio.NewScanner(stderr)
			verbose = logger.DebugMode()
			fatal   string
			found   bool
		)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if found {
				if verbose {
					logger.Debugf("browser:stderr", "%s", line)
				}
				continue
			}
			if strings.HasPrefix(line, prefix) {
				c <- devToolsResult{url: strings.TrimPrefix(line, prefix)}
				found = true
				continue
			}
			if msg, ok := stderrError(line); ok && fatal == "" {
				fatal = msg
			}
		}
		if found {
			return
		}

		err := scanner.Err()
		switch {
		case fatal != "":
			err = errors.New(fatal)
		case err == nil:
			err = errors.New("browser process ended unexpectedly")
		}
		c <- devToolsResult{err: err}
	}()

	return c, drained
}

// parseDevToolsURL waits for the WebSocket address the browser reports on
// stderr. If the process ends abruptly, it returns the first error from
// stderr.
func parseDevToolsURL(ctx context.Context, cmd command) (string, error) {
	select {
	case r := <-cmd.devTools:
		return r.url, r.err
	case <-cmd.done:
		// stderr is fully read before done is closed.
		select {
		case r := <-cmd.devTools:
			return r.url, r.err
		default:
			return "", errors.New("browser process ended unexpectedly")
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// stderrError extracts the message of a Chromium ERROR or FATAL log line,
// e.g. "[6497:6497:1013/103521.932979:ERROR:file.cc(247)] message".
func stderrError(line string) (string, bool) {
	if !strings.Contains(line, ":ERROR:") && !strings.Contains(line, ":FATAL:") {
		return "", false
	}
	i := strings.Index(line, "] ")
	if i == -1 {
		return "", false
	}
	return strings.TrimSpace(line[i+2:]), true
}
