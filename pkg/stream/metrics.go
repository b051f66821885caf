package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the streaming engine
type Metrics struct {
	BackfillPagesTotal      *prometheus.CounterVec
	BackfillRecordsTotal    *prometheus.CounterVec
	BackfillRejectionsTotal *prometheus.CounterVec
	BackfillErrorsTotal     *prometheus.CounterVec
	BackfillDuration        *prometheus.HistogramVec
	RegistrationsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all streaming engine metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "streamgate"
	}

	return &Metrics{
		BackfillPagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "pages_total",
			Help:      "Total number of cursor pages fetched",
		}, []string{"kind"}),
		BackfillRecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "records_total",
			Help:      "Total number of historical records delivered",
		}, []string{"kind"}),
		BackfillRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "rejections_total",
			Help:      "Total number of oversized historical queries rejected",
		}, []string{"kind"}),
		BackfillErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "errors_total",
			Help:      "Total number of backfills stopped by backend errors",
		}, []string{"kind"}),
		BackfillDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Time to complete a historical backfill",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		RegistrationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "registrations_total",
			Help:      "Total number of live-forwarding registrations by outcome",
		}, []string{"kind", "outcome"}),
	}
}
