package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/context/ctxhttp"

	"github.com/grafana/pausesim/api"
)

// HTTPProbe measures latency as the time to complete a HEAD request, for
// networks where ICMP isn't allowed.
type HTTPProbe struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewHTTPProbe returns a probe of url. A nil client uses one that doesn't
// follow redirects and times out after timeout.
func NewHTTPProbe(url string, client *http.Client, timeout time.Duration) *HTTPProbe {
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &HTTPProbe{url: url, client: client, now: time.Now}
}

func (p *HTTPProbe) Probe(ctx context.Context) (string, error) {
	start := p.now()
	resp, err := ctxhttp.Head(ctx, p.client, p.url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", api.ErrProbe, err)
	}
	elapsed := p.now().Sub(start)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: HEAD %s: %s", api.ErrProbe, p.url, resp.Status)
	}

	ms := float64(elapsed) / float64(time.Millisecond)
	return strconv.FormatFloat(ms, 'f', 3, 64), nil
}
