package portal

import "time"

// Metrics defines the interface for tracking core billing-state operations.
type Metrics interface {
	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordSubscriptionChange records a user's subscription status transition.
	// Empty strings denote "no subscription".
	RecordSubscriptionChange(fromStatus, toStatus string)

	// RecordEventStored records a billing event appended to the audit trail.
	RecordEventStored(eventType string, liveMode bool)

	// RecordDuplicateEvent records a redelivered event that was skipped.
	RecordDuplicateEvent(eventType string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordSubscriptionChange(fromStatus, toStatus string)                       {}
func (n *NoopMetrics) RecordEventStored(eventType string, liveMode bool)                          {}
func (n *NoopMetrics) RecordDuplicateEvent(eventType string)                                      {}
