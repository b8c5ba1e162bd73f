package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/pausesim/log"
	"github.com/grafana/pausesim/storage"
)

type mockReader struct {
	lines []string
	err   error
	// block makes reads after the lines hang, like the stderr of a live
	// browser.
	block bool
	read  bool
}

func (r *mockReader) Read(p []byte) (n int, err error) {
	if r.read {
		if r.block {
			select {}
		}
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	r.read = true
	for _, l := range r.lines {
		n += copy(p[n:], l+"\n")
	}
	return n, r.err
}

func TestParseDevToolsURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name               string
		stderr             []string
		readErr            error
		prematureCtxCancel bool
		prematureCmdDone   bool
		block              bool
		assert             func(t *testing.T, wsURL string, err error)
	}{
		{
			name: "ok/no_error",
			stderr: []string{
				`DevTools listening on ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7`,
			},
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, "ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7", wsURL)
			},
		},
		{
			name: "ok/non-fatal_error",
			stderr: []string{
				`[23400:23418:1028/115455.877614:ERROR:bus.cc(399)] Failed to ` +
					`connect to the bus: Could not parse server address: ` +
					`Unknown address type (examples of valid types are "tcp" ` +
					`and on UNIX "unix")`,
				"",
				`DevTools listening on ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7`,
			},
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, "ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7", wsURL)
			},
		},
		{
			name: "err/fatal-eof",
			stderr: []string{
				`[6497:6497:1013/103521.932979:ERROR:ozone_platform_x11` +
					`.cc(247)] Missing X server or $DISPLAY` + "\n",
			},
			readErr: io.ErrUnexpectedEOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "Missing X server or $DISPLAY")
			},
		},
		{
			name:    "err/fatal-eof-no_stderr",
			readErr: io.ErrUnexpectedEOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "unexpected EOF")
			},
		},
		{
			name: "err/fatal-clean_eof",
			stderr: []string{
				`[6497:6497:1013/103521.932979:ERROR:ozone_platform_x11` +
					`.cc(247)] Missing X server or $DISPLAY`,
			},
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "Missing X server or $DISPLAY")
			},
		},
		{
			name:             "err/fatal-premature_cmd_done",
			stderr:           []string{""},
			prematureCmdDone: true,
			block:            true,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "browser process ended unexpectedly")
			},
		},
		{
			name:               "err/fatal-premature_ctx_cancel",
			stderr:             []string{""},
			prematureCtxCancel: true,
			block:              true,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "context canceled")
			},
		},
		{
			name: "err/fatal-first_error_wins",
			stderr: []string{
				`[1:1:0101/000000.000000:FATAL:zygote_host_impl_linux.cc(117)] No usable sandbox!` + "\n",
			},
			readErr: io.ErrUnexpectedEOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "No usable sandbox!")
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mr := &mockReader{lines: tc.stderr, err: tc.readErr, block: tc.block}
			cmdDone := make(chan struct{})
			devTools, _ := readStderr(mr, log.NewNullLogger())
			cmd := command{done: cmdDone, devTools: devTools}

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)

			timeout := time.Second
			timer := time.NewTimer(timeout)
			t.Cleanup(func() { _ = timer.Stop() })

			var (
				done  = make(chan struct{})
				wsURL string
				err   error
			)

			go func() {
				wsURL, err = parseDevToolsURL(ctx, cmd)
				close(done)
			}()

			if tc.prematureCmdDone {
				time.Sleep(200 * time.Millisecond)
				close(cmdDone)
			}

			if tc.prematureCtxCancel {
				time.Sleep(200 * time.Millisecond)
				cancel()
			}

			select {
			case <-done:
				tc.assert(t, wsURL, err)
			case <-timer.C:
				t.Errorf("test timed out after %s", timeout)
			}
		})
	}
}

func TestStderrError(t *testing.T) {
	t.Parallel()

	msg, ok := stderrError(`[6497:6497:1013/103521.932979:ERROR:ozone_platform_x11.cc(247)] Missing X server or $DISPLAY`)
	assert.True(t, ok)
	assert.Equal(t, "Missing X server or $DISPLAY", msg)

	_, ok = stderrError(`[0101/000000.000000:WARNING:dns_config_service_linux.cc(429)] Failed to read DnsConfig.`)
	assert.False(t, ok)

	_, ok = stderrError("DevTools listening on ws://127.0.0.1:1/devtools/browser/x")
	assert.False(t, ok)
}

func TestReadStderrLogsAfterDevToolsURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level logrus.Level
		want  []string
	}{
		{name: "debug", level: logrus.DebugLevel, want: []string{"late warning"}},
		{name: "info", level: logrus.InfoLevel},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base, hook := test.NewNullLogger()
			base.SetLevel(tt.level)
			mr := &mockReader{lines: []string{
				"early noise",
				"DevTools listening on ws://127.0.0.1:9222/devtools/browser/x",
				"late warning",
			}}

			devTools, drained := readStderr(mr, log.New(base, nil))
			res := <-devTools
			require.NoError(t, res.err)
			assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", res.url)
			<-drained

			var got []string
			for _, e := range hook.AllEntries() {
				got = append(got, e.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// fakeBrowser writes script to an executable shell script and returns its
// path.
func fakeBrowser(t *testing.T, script string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "chromium")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o700)) //nolint:gosec

	return path
}

func startFakeBrowser(t *testing.T, path string, args ...string) (*BrowserProcess, context.CancelFunc, error) {
	t.Helper()

	dataDir := &storage.Dir{}
	require.NoError(t, dataDir.Make(t.TempDir(), ""))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p, err := NewBrowserProcess(ctx, path, args, nil, dataDir, cancel, log.NewNullLogger())
	return p, cancel, err
}

func TestBrowserProcessReportsStderrError(t *testing.T) {
	t.Parallel()

	path := fakeBrowser(t, `echo '[6497:6497:1013/103521.932979:ERROR:ozone_platform_x11.cc(247)] Missing X server or $DISPLAY' >&2
exit 1
`)

	for i := 0; i < 10; i++ {
		_, _, err := startFakeBrowser(t, path)
		require.Error(t, err)
		assert.EqualError(t, err, "getting DevTools URL: Missing X server or $DISPLAY")
	}
}

func TestBrowserProcessEndsWithoutOutput(t *testing.T) {
	t.Parallel()

	path := fakeBrowser(t, "exit 1\n")

	_, _, err := startFakeBrowser(t, path)
	assert.EqualError(t, err, "getting DevTools URL: browser process ended unexpectedly")
}

func TestBrowserProcessKeepsReadingStderr(t *testing.T) {
	t.Parallel()

	filler := strings.Repeat("x", 100)
	path := fakeBrowser(t, fmt.Sprintf(`echo 'DevTools listening on ws://127.0.0.1:1/devtools/browser/x' >&2
i=0
while [ $i -lt 3000 ]; do
	echo "[1:1:0101/000000.000000:WARNING:gpu_init.cc(1)] $i %s" >&2
	i=$((i+1))
done
touch "$1"
exec sleep 30
`, filler))
	marker := filepath.Join(t.TempDir(), "written")

	p, cancel, err := startFakeBrowser(t, path, marker)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:1/devtools/browser/x", p.WsURL())

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 10*time.Second, 20*time.Millisecond, "the browser blocked writing to stderr")

	cancel()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("browser process didn't end after cancel")
	}
}
