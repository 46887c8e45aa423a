package models

import "fmt"

// MessageStatus tracks an inbound raw message through the parse pipeline.
type MessageStatus string

const (
	MessageStatusNew        MessageStatus = "NEW"
	MessageStatusProcessing MessageStatus = "PROCESSING"
	MessageStatusParsed     MessageStatus = "PARSED"
	MessageStatusApplied    MessageStatus = "APPLIED"
	MessageStatusFailed     MessageStatus = "FAILED"
)

// PaymentStatus is the lifecycle state of a canonical payment record.
type PaymentStatus string

const (
	// PaymentStatusPending means no reference was supplied; the payment is
	// awaiting manual reference entry.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusUnallocated means a reference was supplied but did not
	// resolve to a full group/member match.
	PaymentStatusUnallocated PaymentStatus = "UNALLOCATED"
	// PaymentStatusPosted means the payment is matched and posted to the ledger.
	PaymentStatusPosted PaymentStatus = "POSTED"
	// PaymentStatusSettled means the clearing entry has been settled against
	// a verified statement.
	PaymentStatusSettled PaymentStatus = "SETTLED"
	PaymentStatusRejected PaymentStatus = "REJECTED"
)

// paymentTransitions is the closed transition table for PaymentStatus.
// Payments are never hard-deleted; REJECTED and SETTLED are terminal.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:     {PaymentStatusPosted, PaymentStatusUnallocated, PaymentStatusRejected},
	PaymentStatusUnallocated: {PaymentStatusPosted, PaymentStatusPending, PaymentStatusRejected},
	PaymentStatusPosted:      {PaymentStatusSettled},
	PaymentStatusSettled:     {},
	PaymentStatusRejected:    {},
}

// CanTransition reports whether a payment may move from its current status
// to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates the move and returns the next status, or an error for
// anything not in the transition table.
func (s PaymentStatus) Transition(next PaymentStatus) (PaymentStatus, error) {
	if s == next {
		return s, nil
	}
	if !s.CanTransition(next) {
		return s, fmt.Errorf("payment status %s cannot transition to %s", s, next)
	}
	return next, nil
}

// NotificationStatus is the dispatcher state machine for a queued notification.
type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "PENDING"
	NotificationStatusProcessing NotificationStatus = "PROCESSING"
	NotificationStatusDelivered  NotificationStatus = "DELIVERED"
	NotificationStatusFailed     NotificationStatus = "FAILED"
)

var notificationTransitions = map[NotificationStatus][]NotificationStatus{
	NotificationStatusPending:    {NotificationStatusProcessing},
	NotificationStatusProcessing: {NotificationStatusDelivered, NotificationStatusFailed, NotificationStatusPending},
	NotificationStatusDelivered:  {},
	NotificationStatusFailed:     {},
}

// CanTransition reports whether a notification job may move to next.
func (s NotificationStatus) CanTransition(next NotificationStatus) bool {
	for _, allowed := range notificationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ExceptionStatus is the state of a reconciliation exception.
type ExceptionStatus string

const (
	ExceptionStatusOpen     ExceptionStatus = "OPEN"
	ExceptionStatusResolved ExceptionStatus = "RESOLVED"
)

// ExceptionReason explains why a payment landed in the exception queue.
// The two codes route to the same review queue today but are operationally
// distinct: UNKNOWN_REF means the group code itself did not match, while
// NAME_MISMATCH means the group matched and the member segment did not.
type ExceptionReason string

const (
	ExceptionReasonUnknownRef   ExceptionReason = "UNKNOWN_REF"
	ExceptionReasonNameMismatch ExceptionReason = "NAME_MISMATCH"
)

// StagingStatus is the state of one externally-sourced statement line.
type StagingStatus string

const (
	StagingStatusNew    StagingStatus = "NEW"
	StagingStatusQueued StagingStatus = "QUEUED"
)

// ReconJobStatus is the state of a queued reconciliation job.
type ReconJobStatus string

const (
	ReconJobStatusPending   ReconJobStatus = "PENDING"
	ReconJobStatusRunning   ReconJobStatus = "RUNNING"
	ReconJobStatusCompleted ReconJobStatus = "COMPLETED"
	ReconJobStatusFailed    ReconJobStatus = "FAILED"
)

// PollerStatus enables or disables a configured statement source.
type PollerStatus string

const (
	PollerStatusActive   PollerStatus = "ACTIVE"
	PollerStatusDisabled PollerStatus = "DISABLED"
)
