// Package telemetry exposes engine counters and gauges to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/nmslite/netmon/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	PollCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netmon_poll_cycles_total",
			Help: "Total number of scheduler ticks that dispatched due devices",
		},
	)

	ActivePolls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_active_polls",
			Help: "Number of device polls currently in flight",
		},
	)

	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_polls_total",
			Help: "Total number of protocol probes by protocol and result code",
		},
		[]string{"protocol", "result"},
	)

	PollDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmon_poll_duration_seconds",
			Help:    "Wall time of one device poll including every enabled protocol",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"trigger"},
	)

	PollsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_polls_skipped_total",
			Help: "Total number of due devices skipped by reason",
		},
		[]string{"reason"}, // in_progress, credential_error, internal
	)

	// Alert metrics
	AlertsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netmon_alerts_active",
			Help: "Number of open alerts by severity",
		},
		[]string{"severity"},
	)

	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_alerts_fired_total",
			Help: "Total number of alerts fired by severity",
		},
		[]string{"severity"},
	)

	AlertsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_alerts_resolved_total",
			Help: "Total number of alerts resolved by severity",
		},
		[]string{"severity"},
	)

	// Discovery metrics
	DiscoveryHostsScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_discovery_hosts_scanned_total",
			Help: "Total number of hosts probed by discovery jobs",
		},
		[]string{"result"}, // responsive, silent
	)

	DiscoveryJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_discovery_jobs_total",
			Help: "Total number of discovery jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	// Storage metrics
	MetricFlushFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netmon_metric_flush_failures_total",
			Help: "Total number of failed metric sample batch writes",
		},
	)

	MetricSamplesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netmon_metric_samples_dropped_total",
			Help: "Total number of metric samples dropped after repeated flush failures",
		},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_events_dropped_total",
			Help: "Total number of events dropped because a sink buffer was full",
		},
		[]string{"sink"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPollCycle records one scheduler tick.
func RecordPollCycle() {
	PollCyclesTotal.Inc()
}

// RecordProbe records a single protocol probe outcome.
func RecordProbe(protocol model.Protocol, code string) {
	PollsTotal.WithLabelValues(string(protocol), code).Inc()
}

// RecordPollDuration records the duration of one device poll.
func RecordPollDuration(trigger string, d time.Duration) {
	PollDurationSeconds.WithLabelValues(trigger).Observe(d.Seconds())
}

// RecordPollSkipped records a device skipped for the current cycle.
func RecordPollSkipped(reason string) {
	PollsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordAlertFired records a newly opened alert.
func RecordAlertFired(severity model.Severity) {
	AlertsFiredTotal.WithLabelValues(string(severity)).Inc()
	AlertsActive.WithLabelValues(string(severity)).Inc()
}

// RecordAlertResolved records a resolved alert.
func RecordAlertResolved(severity model.Severity) {
	AlertsResolvedTotal.WithLabelValues(string(severity)).Inc()
	AlertsActive.WithLabelValues(string(severity)).Dec()
}

// SetActiveAlerts resets the open alert gauge, used after a restart.
func SetActiveAlerts(counts map[model.Severity]int) {
	for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityWarning, model.SeverityInfo} {
		AlertsActive.WithLabelValues(string(sev)).Set(float64(counts[sev]))
	}
}

// RecordHostScanned records one discovery host probe.
func RecordHostScanned(responsive bool) {
	result := "silent"
	if responsive {
		result = "responsive"
	}
	DiscoveryHostsScannedTotal.WithLabelValues(result).Inc()
}

// RecordJobFinished records a discovery job reaching a terminal state.
func RecordJobFinished(status model.JobStatus) {
	DiscoveryJobsTotal.WithLabelValues(string(status)).Inc()
}

// RecordFlushFailure records a failed sample batch write.
func RecordFlushFailure() {
	MetricFlushFailuresTotal.Inc()
}

// RecordSamplesDropped records samples abandoned by the batch writer.
func RecordSamplesDropped(n int) {
	MetricSamplesDroppedTotal.Add(float64(n))
}

// RecordEventDropped records an event a sink could not accept.
func RecordEventDropped(sink string) {
	EventsDroppedTotal.WithLabelValues(sink).Inc()
}
