// Package metrics provides Prometheus instrumentation for colabd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colabd_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colabd_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Session metrics.
var (
	WorkspacesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colabd_workspaces_active",
		Help: "Number of live workspaces (including empty ones awaiting cleanup).",
	})

	MembersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colabd_members_active",
		Help: "Number of currently connected workspace members.",
	})

	LocksHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colabd_locks_held",
		Help: "Number of element locks currently held.",
	})

	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colabd_admissions_total",
		Help: "Total number of admission attempts by result.",
	}, []string{"result"})

	ConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colabd_etag_conflicts_total",
		Help: "Total number of mutations rejected by the If-Match gate.",
	})
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colabd_ws_connections_active",
		Help: "Number of active WebSocket connections.",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colabd_ws_messages_total",
		Help: "Total number of WebSocket messages sent.",
	})

	WSFramesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colabd_ws_frames_received_total",
		Help: "Total number of WebSocket frames received from clients.",
	})

	OutboundDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colabd_outbound_dropped_total",
		Help: "Total number of outbound messages dropped due to full member queues.",
	})
)
