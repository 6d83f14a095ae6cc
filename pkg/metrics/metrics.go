package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	MailEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplan_mail_enqueued_total",
		Help: "Total number of emails accepted into the outbound queue",
	}, []string{"lane"})
	MailQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lessonplan_mail_queue_depth",
		Help: "Number of emails waiting in each queue lane",
	}, []string{"lane"})

	// Delivery metrics, labelled by transport name (smtp, ses)
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplan_mail_sent_total",
		Help: "Total number of emails handed to the transport successfully",
	}, []string{"transport"})
	MailSendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplan_mail_send_failures_total",
		Help: "Total number of failed send attempts",
	}, []string{"transport"})
	MailConnectionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplan_mail_connection_failures_total",
		Help: "Total number of drain cycles aborted because the transport could not be opened",
	}, []string{"transport"})
	MailRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lessonplan_mail_requeued_total",
		Help: "Total number of emails requeued after a failed attempt",
	})
	MailQuarantined = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lessonplan_mail_quarantined_total",
		Help: "Total number of emails moved to quarantine after exhausting retries",
	})
	MailRestored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lessonplan_mail_restored_total",
		Help: "Total number of quarantined emails restored by an operator",
	})

	// Sender metrics
	MailSenderActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lessonplan_mail_sender_active",
		Help: "1 while a drain cycle is running, 0 otherwise",
	})
	MailDrainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lessonplan_mail_drain_duration_seconds",
		Help:    "Duration of drain cycles",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	MailDrainsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplan_mail_drains_skipped_total",
		Help: "Drain cycles skipped by the dispatcher",
	}, []string{"reason"})

	// Audit metrics
	AuditEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplan_audit_events_written_total",
		Help: "Total number of delivery audit events written per sink",
	}, []string{"sink"})
	AuditEventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplan_audit_events_failed_total",
		Help: "Total number of delivery audit events a sink failed to write",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lessonplan_audit_events_dropped_total",
		Help: "Total number of delivery audit events dropped because the audit queue was full",
	})

	// API metrics
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplan_mail_api_requests_total",
		Help: "Total number of mail API requests",
	}, []string{"endpoint", "code"})
	APIRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lessonplan_mail_api_rate_limited_total",
		Help: "Total number of mail API requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(MailEnqueued)
	prometheus.MustRegister(MailQueueDepth)
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailSendFailures)
	prometheus.MustRegister(MailConnectionFailures)
	prometheus.MustRegister(MailRequeued)
	prometheus.MustRegister(MailQuarantined)
	prometheus.MustRegister(MailRestored)
	prometheus.MustRegister(MailSenderActive)
	prometheus.MustRegister(MailDrainDuration)
	prometheus.MustRegister(MailDrainsSkipped)
	prometheus.MustRegister(AuditEventsWritten)
	prometheus.MustRegister(AuditEventsFailed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(APIRequests)
	prometheus.MustRegister(APIRateLimited)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
