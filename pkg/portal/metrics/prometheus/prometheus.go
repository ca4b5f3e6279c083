// Package prommetrics provides a Prometheus implementation of portal.Metrics.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements portal.Metrics using Prometheus.
type Metrics struct {
	storageOpsDuration       *prometheus.HistogramVec
	storageOpsErrors         *prometheus.CounterVec
	subscriptionChangesTotal *prometheus.CounterVec
	eventsStoredTotal        *prometheus.CounterVec
	duplicateEventsTotal     *prometheus.CounterVec
}

// DefaultMetrics creates a Metrics registered on the default Prometheus
// registerer, for use with promhttp.Handler().
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		subscriptionChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_status_changes_total",
			Help:      "Total number of subscription status transitions.",
		}, []string{"from", "to"}),

		eventsStoredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_stored_total",
			Help:      "Total number of billing events appended to the audit trail.",
		}, []string{"event_type", "live_mode"}),

		duplicateEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_duplicate_total",
			Help:      "Total number of redelivered billing events skipped as duplicates.",
		}, []string{"event_type"}),
	}
}

// RecordStorageOperation implements portal.Metrics.
func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// RecordSubscriptionChange implements portal.Metrics.
func (m *Metrics) RecordSubscriptionChange(fromStatus, toStatus string) {
	m.subscriptionChangesTotal.WithLabelValues(label(fromStatus), label(toStatus)).Inc()
}

// RecordEventStored implements portal.Metrics.
func (m *Metrics) RecordEventStored(eventType string, liveMode bool) {
	m.eventsStoredTotal.WithLabelValues(eventType, strconv.FormatBool(liveMode)).Inc()
}

// RecordDuplicateEvent implements portal.Metrics.
func (m *Metrics) RecordDuplicateEvent(eventType string) {
	m.duplicateEventsTotal.WithLabelValues(eventType).Inc()
}

// label maps the empty status to a stable label value.
func label(status string) string {
	if status == "" {
		return "none"
	}
	return status
}
