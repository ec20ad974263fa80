package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label constants.
const (
	Tool     = "tool"
	Endpoint = "endpoint"
	Method   = "method"
	Outcome  = "outcome"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	//nolint:gochecknoglobals // This is how the prometheus magic works.
	// ToolCallsTotal Total number of MCP tool calls handled by the relay.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revit_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls handled by the relay",
		},
		[]string{Tool, Outcome},
	)

	//nolint:gochecknoglobals // This is how the prometheus magic works.
	// RouteHostRequestsTotal Total number of HTTP requests issued to the Route Host.
	RouteHostRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revit_mcp_routehost_requests_total",
			Help: "Total number of HTTP requests issued to the Route Host",
		},
		[]string{Endpoint, Method, Outcome},
	)

	//nolint:gochecknoglobals // This is how the prometheus magic works.
	// RouteHostRequestDuration Round-trip latency of Route Host requests.
	RouteHostRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revit_mcp_routehost_request_duration_seconds",
			Help:    "Round-trip latency of Route Host requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{Endpoint},
	)

	//nolint:gochecknoglobals // This is how the prometheus magic works.
	// SessionsActive Current number of connected MCP sessions.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "revit_mcp_sessions_active",
			Help: "Current number of connected MCP sessions",
		},
	)
)

//nolint:gochecknoinits // This is how the prometheus magic works.
func init() {
	_ = prometheus.Register(ToolCallsTotal)
	_ = prometheus.Register(RouteHostRequestsTotal)
	_ = prometheus.Register(RouteHostRequestDuration)
	_ = prometheus.Register(SessionsActive)
}

// OutcomeLabel maps a success flag onto the outcome label value.
func OutcomeLabel(ok bool) (label string) {
	label = OutcomeFailure
	if ok {
		label = OutcomeSuccess
	}

	return label
}
