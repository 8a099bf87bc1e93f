package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. Each instance owns its registry so
// tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested     *prometheus.CounterVec
	EventsRejected     *prometheus.CounterVec
	IngestQueueFull    prometheus.Counter
	QuorumPromotions   prometheus.Counter
	AlertsResolved     *prometheus.CounterVec
	NotificationsSent  prometheus.Counter
	RecipientsThrottle prometheus.Counter
	MailQueueFull      prometheus.Counter
	MailFailures       prometheus.Counter
	LockContention     *prometheus.CounterVec
	StaleLockNotices   *prometheus.CounterVec
	JobRuns            *prometheus.CounterVec
}

// New registers all counters on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_events_ingested_total",
			Help: "Raw events accepted by the state machine, by alert type.",
		}, []string{"type"}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_events_rejected_total",
			Help: "Raw events rejected during classification, by reason.",
		}, []string{"reason"}),
		IngestQueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_ingest_queue_full_total",
			Help: "Receiver batches refused because the ingest queue was full.",
		}),
		QuorumPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_quorum_promotions_total",
			Help: "Website pre-alert groups promoted to firing alerts.",
		}),
		AlertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_alerts_resolved_total",
			Help: "Alerts moved out of the firing set, by reason.",
		}, []string{"reason"}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_notifications_sent_total",
			Help: "Aggregated notification mails handed to the mail transport.",
		}),
		RecipientsThrottle: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_recipients_throttled_total",
			Help: "Recipients skipped because a throttle cap was reached.",
		}),
		MailQueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_mail_queue_full_total",
			Help: "Recipients deferred because the mail queue was full.",
		}),
		MailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_mail_failures_total",
			Help: "Mail transport failures reported by the dispatch workers.",
		}),
		LockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_task_lock_contention_total",
			Help: "Acquire attempts that found the task lock already held.",
		}, []string{"task"}),
		StaleLockNotices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_stale_lock_notices_total",
			Help: "Stale task lock notifications sent.",
		}, []string{"task"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_job_runs_total",
			Help: "Scheduled job cycles, by job and outcome.",
		}, []string{"job", "outcome"}),
	}

	m.registry.MustRegister(
		m.EventsIngested,
		m.EventsRejected,
		m.IngestQueueFull,
		m.QuorumPromotions,
		m.AlertsResolved,
		m.NotificationsSent,
		m.RecipientsThrottle,
		m.MailQueueFull,
		m.MailFailures,
		m.LockContention,
		m.StaleLockNotices,
		m.JobRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
