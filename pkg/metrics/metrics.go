package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resource tree / accounter metrics
	ResourceTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtrm_resource_total",
			Help: "Registered total capacity per resource path",
		},
		[]string{"path"},
	)

	ResourceReservedCommitted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtrm_resource_reserved_committed",
			Help: "Reserved capacity in the committed view per resource path",
		},
		[]string{"path"},
	)

	AccounterAcquireDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rtrm_accounter_acquire_duration_seconds",
			Help: "Duration of Acquire calls against the resource accounter",
		},
	)

	AccounterCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rtrm_accounter_commit_duration_seconds",
			Help: "Duration of Commit calls against the resource accounter",
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rtrm_scheduling_latency_seconds",
			Help: "Duration of a full scheduling round",
		},
	)

	SchedulingRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtrm_scheduling_rounds_total",
			Help: "Total scheduling rounds by outcome",
		},
		[]string{"outcome"}, // committed, discarded, no_op
	)

	EXCsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rtrm_excs_scheduled_total",
			Help: "Total EXCs assigned a new AWM by the scheduler",
		},
	)

	EXCsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rtrm_excs_scheduling_failed_total",
			Help: "Total EXCs the scheduler could not place",
		},
	)

	EXCsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtrm_excs_by_state",
			Help: "Number of EXCs currently in each lifecycle state",
		},
		[]string{"state"},
	)

	// Synchronization manager metrics
	SyncPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "rtrm_sync_phase_duration_seconds",
			Help: "Duration of one SASB handshake phase",
		},
		[]string{"phase"},
	)

	SyncTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtrm_sync_timeouts_total",
			Help: "Total synchronization phase timeouts by phase",
		},
		[]string{"phase"},
	)

	// Platform proxy metrics
	PlatformSetupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rtrm_platform_setup_duration_seconds",
			Help: "Duration of Platform Proxy Setup calls",
		},
	)

	PlatformMapResourcesDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rtrm_platform_map_resources_duration_seconds",
			Help: "Duration of Platform Proxy MapResources calls",
		},
	)

	PlatformRefreshErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rtrm_platform_refresh_errors_total",
			Help: "Total errors encountered refreshing platform data",
		},
	)

	// Peer directory metrics
	PeerRTTMillis = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtrm_peer_rtt_ms",
			Help: "Last measured round-trip time to a peer, in milliseconds",
		},
		[]string{"peer_id"},
	)

	PeerAvailability = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtrm_peer_availability_percent",
			Help: "Percentage of recent ping samples that succeeded",
		},
		[]string{"peer_id"},
	)

	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtrm_peers_total",
			Help: "Total known peers by status",
		},
		[]string{"status"},
	)

	DiscoverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rtrm_discover_duration_seconds",
			Help: "Duration of one Discover broadcast round",
		},
	)

	// Agent RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtrm_rpc_requests_total",
			Help: "Total Agent RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "rtrm_rpc_request_duration_seconds",
			Help: "Duration of Agent RPC requests by method",
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		ResourceTotal,
		ResourceReservedCommitted,
		AccounterAcquireDuration,
		AccounterCommitDuration,
		SchedulingLatency,
		SchedulingRoundsTotal,
		EXCsScheduled,
		EXCsFailed,
		EXCsByState,
		SyncPhaseDuration,
		SyncTimeoutsTotal,
		PlatformSetupDuration,
		PlatformMapResourcesDuration,
		PlatformRefreshErrors,
		PeerRTTMillis,
		PeerAvailability,
		PeersTotal,
		DiscoverDuration,
		RPCRequestsTotal,
		RPCRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
