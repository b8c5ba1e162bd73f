package telemetry

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/oxtoacart/bpool"

	"github.com/grafana/pausesim/api"
)

// CommandRunner runs name with args, writing its standard output and error
// to the given writers.
type CommandRunner func(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error

// ExecRunner runs commands as local processes.
func ExecRunner(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// PingProbe measures latency with a single ICMP echo sent by the system's
// ping command.
type PingProbe struct {
	command []string
	host    string
	run     CommandRunner
	bufs    *bpool.BufferPool
}

// NewPingProbe returns a probe running command with host appended, e.g.
// "ping -c 1 www.youtube.com". A nil run uses ExecRunner.
func NewPingProbe(command []string, host string, run CommandRunner) *PingProbe {
	if run == nil {
		run = ExecRunner
	}
	return &PingProbe{
		command: command,
		host:    host,
		run:     run,
		bufs:    bpool.NewBufferPool(4),
	}
}

func (p *PingProbe) Probe(ctx context.Context) (string, error) {
	if len(p.command) == 0 {
		return "", fmt.Errorf("%w: empty probe command", api.ErrProbe)
	}

	stdout, stderr := p.bufs.Get(), p.bufs.Get()
	defer p.bufs.Put(stdout)
	defer p.bufs.Put(stderr)

	args := append(append([]string{}, p.command[1:]...), p.host)
	if err := p.run(ctx, p.command[0], args, stdout, stderr); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %v: %s", api.ErrProbe, err, msg)
		}
		return "", fmt.Errorf("%w: %v", api.ErrProbe, err)
	}

	return ParsePingOutput(stdout.String())
}
