package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopTraceProvider(t *testing.T) {
	t.Parallel()

	tp := NewNoopTraceProvider()
	_, span := tp.Tracer("test").Start(context.Background(), "span")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTraceProviderErrors(t *testing.T) {
	t.Parallel()

	_, err := NewTraceProvider(context.Background(), "grpc", "localhost:4317", true)
	assert.ErrorIs(t, err, ErrUnsupportedProto)

	tests := []struct {
		name     string
		endpoint string
		proto    bool
	}{
		{name: "grpc_scheme", endpoint: "grpc://localhost:4317", proto: true},
		{name: "no_host", endpoint: "localhost"},
		{name: "bad_url", endpoint: "http://[::1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewTraceProviderFromURL(context.Background(), tt.endpoint)
			require.Error(t, err)
			if tt.proto {
				assert.ErrorIs(t, err, ErrUnsupportedProto)
			}
		})
	}
}

func TestNewTraceProviderFromURL(t *testing.T) {
	t.Parallel()

	// The exporter connects lazily, so nothing needs to listen.
	tp, err := NewTraceProviderFromURL(context.Background(), "http://127.0.0.1:4318")
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "span")
	assert.True(t, span.IsRecording())
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tp.Shutdown(ctx)
}

func TestNewTraceProviderFromURLPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		wantPath string
	}{
		{name: "default", path: "", wantPath: "/v1/traces"},
		{name: "root", path: "/", wantPath: "/v1/traces"},
		{name: "custom", path: "/otlp/v1/traces", wantPath: "/otlp/v1/traces"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			paths := make(chan string, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case paths <- r.URL.Path:
				default:
				}
				w.WriteHeader(http.StatusOK)
			}))
			t.Cleanup(srv.Close)

			tp, err := NewTraceProviderFromURL(context.Background(), srv.URL+tt.path)
			require.NoError(t, err)

			_, span := tp.Tracer("test").Start(context.Background(), "span")
			span.End()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			require.NoError(t, tp.Shutdown(ctx))

			select {
			case got := <-paths:
				assert.Equal(t, tt.wantPath, got)
			default:
				t.Fatal("no spans were exported")
			}
		})
	}
}
