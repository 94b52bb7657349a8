package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of jobs currently being processed",
		},
		[]string{"task_type"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Notification deliveries by overall status and priority",
		},
		[]string{"status", "priority"},
	)

	ChannelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_channel_attempts_total",
			Help: "Channel delivery attempts by outcome",
		},
		[]string{"channel", "outcome"},
	)

	ChannelAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_channel_attempt_duration_seconds",
			Help:    "Duration of a single channel delivery attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	ChannelAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_channel_available",
			Help: "1 when the channel circuit is closed, 0 when open",
		},
		[]string{"channel"},
	)

	ChannelFailureCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_channel_failure_count",
			Help: "Current failure counter of the channel health tracker",
		},
		[]string{"channel"},
	)

	DeliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_retries_total",
			Help: "Scheduled delivery retries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	TrackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_tracking_events_total",
			Help: "Provider tracking webhook events",
		},
		[]string{"provider", "event"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_events_dropped_total",
			Help: "Delivery events dropped because a subscriber buffer was full",
		},
	)
)
