package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, OutcomeSuccess, OutcomeLabel(true))
	assert.Equal(t, OutcomeFailure, OutcomeLabel(false))
}

func TestHandler(t *testing.T) {
	t.Parallel()

	ToolCallsTotal.WithLabelValues("metrics_handler_test", OutcomeSuccess).Inc()

	server := NewServer(":0", slog.New(slog.DiscardHandler))
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	testCases := []struct {
		path     string
		contains string
	}{
		{path: "/healthz", contains: "ok"},
		{path: "/readyz", contains: "ready"},
		{path: "/metrics", contains: `revit_mcp_tool_calls_total{outcome="success",tool="metrics_handler_test"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(body), tc.contains)
		})
	}
}

func TestCollectorsRegistered(t *testing.T) {
	t.Parallel()

	before := testutil.ToFloat64(RouteHostRequestsTotal.WithLabelValues("collector_test", http.MethodGet, OutcomeFailure))
	RouteHostRequestsTotal.WithLabelValues("collector_test", http.MethodGet, OutcomeFailure).Inc()
	after := testutil.ToFloat64(RouteHostRequestsTotal.WithLabelValues("collector_test", http.MethodGet, OutcomeFailure))

	assert.InDelta(t, before+1, after, 0.0001)

	problems, err := testutil.CollectAndLint(ToolCallsTotal)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	server := NewServer(address, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		resp, getErr := http.Get("http://" + address + "/healthz")
		if getErr != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestStartFailsOnBusyAddress(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	server := NewServer(listener.Addr().String(), slog.New(slog.DiscardHandler))

	err = server.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "metrics server:"))
}
