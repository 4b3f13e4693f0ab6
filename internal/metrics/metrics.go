package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitl_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hitl_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// Conversation metrics
	ConversationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hitl_conversations_started_total",
			Help: "Total conversation threads started",
		},
	)

	HumanMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hitl_human_messages_total",
			Help: "Total human messages handled",
		},
	)

	Approvals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hitl_approvals_total",
			Help: "Total tool calls approved",
		},
	)

	AgentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitl_agent_failures_total",
			Help: "Total agent steps that failed",
		},
		[]string{"operation"}, // "send_message", "approve" or "conversation_state"
	)
)
