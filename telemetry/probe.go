package telemetry

import (
	"context"
	"fmt"
	"regexp"

	"github.com/grafana/pausesim/api"
)

// Prober measures the network round trip to the streaming host.
type Prober interface {
	// Probe returns the round trip time in milliseconds, as text.
	Probe(ctx context.Context) (string, error)
}

var errNoProber = fmt.Errorf("%w: no latency probe configured", api.ErrProbe)

var pingTimeRe = regexp.MustCompile(`time[=<]([0-9]+(?:\.[0-9]+)?) ?ms`)

// ParsePingOutput extracts the round trip time of the first echo reply in
// the output of ping.
func ParsePingOutput(out string) (string, error) {
	m := pingTimeRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("%w: no round trip time in ping output %q", api.ErrProbe, firstLine(out))
	}
	return m[1], nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
