// Package storage defines the store interfaces the pipeline depends on and
// the sentinel errors implementations must return. The four uniqueness
// constraints named here (payment txn id, ledger (external_id, memo),
// staging (poller_id, external_id), one OPEN exception per payment) are the
// system's correctness contract and must be enforced by the backing store,
// not just by callers.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibimina/saccopay/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint. Callers treat it as success-with-no-op, not a failure.
	ErrDuplicate = errors.New("storage: duplicate")
)

// MessageStore persists inbound raw messages and their derived parse state.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.RawMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.RawMessage, error)
	// UpdateMessageParse writes the derived parse fields and status; the
	// original body is never touched.
	UpdateMessageParse(ctx context.Context, msg *models.RawMessage) error
	MarkMessageStatus(ctx context.Context, id uuid.UUID, status models.MessageStatus, parseErr string) error
	// ClaimStaleMessages atomically moves messages that have sat in one of
	// the given statuses since before cutoff into PROCESSING and returns
	// them. A message already claimed by a concurrent sweep is skipped.
	ClaimStaleMessages(ctx context.Context, statuses []models.MessageStatus, cutoff time.Time, limit int) ([]*models.RawMessage, error)
}

// DirectoryStore looks up the group/member hierarchy referenced by payment
// codes. Only active records participate in matching.
type DirectoryStore interface {
	FindActiveGroupByCode(ctx context.Context, code string) (*models.Group, error)
	FindActiveMember(ctx context.Context, groupID uuid.UUID, code string) (*models.Member, error)
}

// PaymentStore persists canonical payment records, deduplicated by external
// transaction id.
type PaymentStore interface {
	// InsertPayment returns ErrDuplicate when a payment with the same
	// TxnID already exists.
	InsertPayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPaymentByTxnID(ctx context.Context, txnID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error
	// ListStalePayments returns payments still in one of the given
	// statuses whose occurred-at is before cutoff.
	ListStalePayments(ctx context.Context, statuses []models.PaymentStatus, cutoff time.Time, limit int) ([]*models.Payment, error)
}

// LedgerStore persists accounts and append-only entries.
type LedgerStore interface {
	FindAccount(ctx context.Context, ownerType models.AccountOwnerType, ownerID uuid.UUID, currency string) (*models.LedgerAccount, error)
	// InsertAccount returns ErrDuplicate when (owner type, owner id,
	// currency) already exists.
	InsertAccount(ctx context.Context, a *models.LedgerAccount) error
	FindEntry(ctx context.Context, externalID uuid.UUID, memo models.EntryMemo) (*models.LedgerEntry, error)
	// InsertEntry returns ErrDuplicate when (external id, memo) already
	// exists. This constraint is the sole idempotency gate for posting.
	InsertEntry(ctx context.Context, e *models.LedgerEntry) error
	// AccountBalance aggregates credits minus debits across all entries
	// touching the account.
	AccountBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

// ExceptionStore manages the reconciliation exception queue.
type ExceptionStore interface {
	FindOpenException(ctx context.Context, paymentID uuid.UUID) (*models.ReconException, error)
	// InsertException returns ErrDuplicate when an OPEN exception already
	// exists for the payment.
	InsertException(ctx context.Context, e *models.ReconException) error
	ResolveException(ctx context.Context, paymentID uuid.UUID, note string, at time.Time) error
	ListExceptions(ctx context.Context, saccoID *uuid.UUID, status models.ExceptionStatus, limit int) ([]*models.ReconException, error)
}

// NotificationStore backs the at-least-once notification dispatcher.
type NotificationStore interface {
	EnqueueNotification(ctx context.Context, job *models.NotificationJob) error
	// DueNotifications lists PENDING jobs for the channel whose
	// scheduled-for is at or before now, oldest first.
	DueNotifications(ctx context.Context, channel models.NotificationChannel, now time.Time, limit int) ([]*models.NotificationJob, error)
	// ClaimNotification performs the conditional PENDING to PROCESSING
	// transition, incrementing attempts. ok is false when the job was
	// already claimed by another worker.
	ClaimNotification(ctx context.Context, id uuid.UUID, at time.Time) (job *models.NotificationJob, ok bool, err error)
	MarkNotificationDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	// RescheduleNotification moves a PROCESSING job back to PENDING with a
	// future scheduled-for.
	RescheduleNotification(ctx context.Context, id uuid.UUID, retryAt time.Time, reason string) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.MessageTemplate, error)
}

// PollerStore persists statement poller state, staged rows and the
// reconciliation jobs they spawn.
type PollerStore interface {
	ListActivePollers(ctx context.Context) ([]*models.PollerConfig, error)
	UpdatePollerResult(ctx context.Context, pollerID uuid.UUID, cursor string, avgLatencyMs *int64, count int, at time.Time) error
	RecordPollerError(ctx context.Context, pollerID uuid.UUID, message string, at time.Time) error
	// InsertStagingRow returns ErrDuplicate for a repeated
	// (poller id, external id) pair.
	InsertStagingRow(ctx context.Context, row *models.StagingRow) error
	MarkStagingQueued(ctx context.Context, stagingID, jobID uuid.UUID) error
	GetStagingRow(ctx context.Context, id uuid.UUID) (*models.StagingRow, error)
	InsertReconJob(ctx context.Context, job *models.ReconciliationJob) error
	PendingReconJobs(ctx context.Context, limit int) ([]*models.ReconciliationJob, error)
	UpdateReconJobStatus(ctx context.Context, id uuid.UUID, status models.ReconJobStatus) error
}

// AuditStore appends audit entries.
type AuditStore interface {
	InsertAudit(ctx context.Context, entry *models.AuditEntry) error
}

// MetricStore records pipeline counters.
type MetricStore interface {
	RecordMetric(ctx context.Context, m *models.Metric) error
}

// RateLimitStore counts hits per bucket within a fixed window.
type RateLimitStore interface {
	// IncrementBucket adds one hit to the bucket's current window and
	// returns the total hits in that window including this one.
	IncrementBucket(ctx context.Context, bucket string, windowStart time.Time) (int, error)
}

// Store is the full persistence surface of the pipeline. The postgres
// implementation backs production; the memory implementation backs tests.
type Store interface {
	MessageStore
	DirectoryStore
	PaymentStore
	LedgerStore
	ExceptionStore
	NotificationStore
	PollerStore
	AuditStore
	MetricStore
	RateLimitStore
}
