package metrics_test

import (
	"testing"

	"github.com/coder/mcpbridge/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	m.ToolCallCount.WithLabelValues("reddit", "reddit_search_posts", metrics.ToolCallStatusOK).Inc()
	m.UpstreamRequestCount.WithLabelValues("reddit", "search", "GET", "200").Inc()
	m.HTTPRequestsInflight.Inc()

	require.Equal(t, 1.0, promtest.ToFloat64(m.ToolCallCount.WithLabelValues("reddit", "reddit_search_posts", metrics.ToolCallStatusOK)))
	require.Equal(t, 1.0, promtest.ToFloat64(m.HTTPRequestsInflight))

	count, err := promtest.GatherAndCount(reg, "tool_calls_total", "upstream_requests_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Registering twice against the same registry panics.
	require.Panics(t, func() { metrics.NewMetrics(reg) })
}
