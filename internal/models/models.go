package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParseSource tags which parser tier produced a transaction candidate.
type ParseSource string

const (
	// ParseSourceRegex is the deterministic pattern-matching tier.
	ParseSourceRegex ParseSource = "REGEX"
	// ParseSourceGemini is the first model-based tier.
	ParseSourceGemini ParseSource = "GEMINI"
	// ParseSourceOpenAI is the second, independent model-based tier.
	ParseSourceOpenAI ParseSource = "OPENAI"
	// ParseSourceStatement marks rows that arrived pre-structured from a
	// statement poller and never went through a parser tier.
	ParseSourceStatement ParseSource = "STATEMENT"
)

// NotificationChannel selects the outbound delivery mechanism for a job.
type NotificationChannel string

const (
	ChannelWhatsApp NotificationChannel = "WHATSAPP"
	ChannelEmail    NotificationChannel = "EMAIL"
)

// RawMessage is one inbound payment notification (SMS text or bridged
// provider message). The body is immutable once stored; only the derived
// parse fields are updated as the pipeline progresses.
type RawMessage struct {
	ID           uuid.UUID     `json:"id"`
	Channel      string        `json:"channel"`
	Sender       string        `json:"sender,omitempty"`
	Body         string        `json:"body"`
	ReceivedAt   time.Time     `json:"received_at"`
	SourceDevice string        `json:"source_device,omitempty"`
	SaccoID      *uuid.UUID    `json:"sacco_id,omitempty"`
	Status       MessageStatus `json:"status"`
	ParseSource  ParseSource   `json:"parse_source,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
	ParseError   string        `json:"parse_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ParsedTransaction is the structured candidate produced by one parse
// attempt. Amounts are integer minor units. A fresh value is produced per
// attempt and never mutated.
type ParsedTransaction struct {
	Msisdn     string      `json:"msisdn"`
	Amount     int64       `json:"amount"`
	TxnID      string      `json:"txn_id"`
	OccurredAt time.Time   `json:"timestamp"`
	Reference  string      `json:"reference,omitempty"`
	PayerName  string      `json:"payer_name,omitempty"`
	Confidence float64     `json:"confidence"`
	Source     ParseSource `json:"source"`
	Model      string      `json:"model,omitempty"`
}

// Payment is the canonical, deduplicated transaction record. TxnID is the
// dedupe key: at most one payment exists per external transaction id. The
// payer identifier is stored only in its derived protected forms.
type Payment struct {
	ID              uuid.UUID     `json:"id"`
	Channel         string        `json:"channel"`
	SaccoID         uuid.UUID     `json:"sacco_id"`
	GroupID         *uuid.UUID    `json:"group_id,omitempty"`
	MemberID        *uuid.UUID    `json:"member_id,omitempty"`
	MsisdnMasked    string        `json:"msisdn_masked"`
	MsisdnEncrypted string        `json:"-"`
	MsisdnHash      string        `json:"-"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	TxnID           string        `json:"txn_id"`
	Reference       string        `json:"reference,omitempty"`
	OccurredAt      time.Time     `json:"occurred_at"`
	Status          PaymentStatus `json:"status"`
	Confidence      float64       `json:"confidence"`
	ParseSource     ParseSource   `json:"parse_source,omitempty"`
	ModelVersion    string        `json:"model_version,omitempty"`
	SourceID        *uuid.UUID    `json:"source_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// AccountOwnerType classifies who a ledger account belongs to.
type AccountOwnerType string

const (
	// OwnerClearing is the per-sacco holding account for unverified
	// mobile-money receipts.
	OwnerClearing AccountOwnerType = "CLEARING"
	// OwnerSettlement is the per-sacco account for bank/telco-confirmed funds.
	OwnerSettlement AccountOwnerType = "SETTLEMENT"
	OwnerGroup      AccountOwnerType = "GROUP"
	OwnerMember     AccountOwnerType = "MEMBER"
)

// LedgerAccount is unique per (owner type, owner id, currency) and created
// lazily on first reference.
type LedgerAccount struct {
	ID        uuid.UUID        `json:"id"`
	OwnerType AccountOwnerType `json:"owner_type"`
	OwnerID   uuid.UUID        `json:"owner_id"`
	SaccoID   uuid.UUID        `json:"sacco_id"`
	Currency  string           `json:"currency"`
	CreatedAt time.Time        `json:"created_at"`
}

// EntryMemo identifies which posting phase a ledger entry belongs to.
type EntryMemo string

const (
	MemoPosted  EntryMemo = "POSTED"
	MemoSettled EntryMemo = "SETTLED"
)

// LedgerEntry is one append-only debit/credit pair. For a given
// (ExternalID, Memo) at most one entry exists; that uniqueness is the
// idempotency guarantee for posting.
type LedgerEntry struct {
	ID         uuid.UUID       `json:"id"`
	SaccoID    uuid.UUID       `json:"sacco_id"`
	DebitID    uuid.UUID       `json:"debit_id"`
	CreditID   uuid.UUID       `json:"credit_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ValueDate  time.Time       `json:"value_date"`
	ExternalID uuid.UUID       `json:"external_id"`
	Memo       EntryMemo       `json:"memo"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ReconException holds a payment that could not be fully matched. At most
// one OPEN exception exists per payment.
type ReconException struct {
	ID         uuid.UUID       `json:"id"`
	PaymentID  uuid.UUID       `json:"payment_id"`
	Reason     ExceptionReason `json:"reason"`
	Status     ExceptionStatus `json:"status"`
	Note       string          `json:"note,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NotificationJob is one queued outbound message. Terminal states
// (DELIVERED, FAILED) are final.
type NotificationJob struct {
	ID            uuid.UUID           `json:"id"`
	Event         string              `json:"event"`
	Channel       NotificationChannel `json:"channel"`
	SaccoID       *uuid.UUID          `json:"sacco_id,omitempty"`
	TemplateID    *uuid.UUID          `json:"template_id,omitempty"`
	PaymentID     *uuid.UUID          `json:"payment_id,omitempty"`
	Payload       map[string]any      `json:"payload"`
	Status        NotificationStatus  `json:"status"`
	Attempts      int                 `json:"attempts"`
	LastError     string              `json:"last_error,omitempty"`
	RetryAfter    *time.Time          `json:"retry_after,omitempty"`
	ScheduledFor  time.Time           `json:"scheduled_for"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
	ProcessedAt   *time.Time          `json:"processed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// MessageTemplate is a reusable notification body with {token} placeholders.
type MessageTemplate struct {
	ID       uuid.UUID  `json:"id"`
	SaccoID  *uuid.UUID `json:"sacco_id,omitempty"`
	Body     string     `json:"body"`
	Tokens   []string   `json:"tokens,omitempty"`
	IsActive bool       `json:"is_active"`
}

// PollerConfig is one configured external statement source.
type PollerConfig struct {
	ID              uuid.UUID    `json:"id"`
	SaccoID         *uuid.UUID   `json:"sacco_id,omitempty"`
	Provider        string       `json:"provider"`
	DisplayName     string       `json:"display_name,omitempty"`
	EndpointURL     string       `json:"endpoint_url"`
	AuthHeader      string       `json:"-"`
	Cursor          string       `json:"cursor,omitempty"`
	Status          PollerStatus `json:"status"`
	LastPolledAt    *time.Time   `json:"last_polled_at,omitempty"`
	LastLatencyMs   *int64       `json:"last_latency_ms,omitempty"`
	LastPolledCount int          `json:"last_polled_count"`
	LastError       string       `json:"last_error,omitempty"`
}

// StagingRow is the dedupe record for one externally-sourced statement line.
// (PollerID, ExternalID) is unique; a second insert for the same pair is an
// expected duplicate, not an error.
type StagingRow struct {
	ID          uuid.UUID       `json:"id"`
	PollerID    uuid.UUID       `json:"poller_id"`
	SaccoID     *uuid.UUID      `json:"sacco_id,omitempty"`
	ExternalID  string          `json:"external_id"`
	Payload     json.RawMessage `json:"payload"`
	LatencyMs   *int64          `json:"latency_ms,omitempty"`
	PolledAt    time.Time       `json:"polled_at"`
	Status      StagingStatus   `json:"status"`
	QueuedJobID *uuid.UUID      `json:"queued_job_id,omitempty"`
}

// ReconciliationJob pairs one staged statement row with exactly one unit of
// reconciliation work.
type ReconciliationJob struct {
	ID        uuid.UUID         `json:"id"`
	StagingID uuid.UUID         `json:"staging_id"`
	SaccoID   *uuid.UUID        `json:"sacco_id,omitempty"`
	JobType   string            `json:"job_type"`
	Status    ReconJobStatus    `json:"status"`
	QueuedAt  time.Time         `json:"queued_at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Group is a savings sub-group (ikimina) within a sacco, matched by the
// third segment of a reference code.
type Group struct {
	ID      uuid.UUID `json:"id"`
	SaccoID uuid.UUID `json:"sacco_id"`
	Code    string    `json:"code"`
	Name    string    `json:"name,omitempty"`
	Active  bool      `json:"active"`
}

// Member belongs to a group and is matched by the fourth reference segment.
type Member struct {
	ID      uuid.UUID `json:"id"`
	GroupID uuid.UUID `json:"group_id"`
	Code    string    `json:"code"`
	Name    string    `json:"name,omitempty"`
	Msisdn  string    `json:"msisdn,omitempty"`
	Active  bool      `json:"active"`
}

// Role scopes what a staff actor may reconcile.
type Role string

const (
	RoleSystemAdmin  Role = "SYSTEM_ADMIN"
	RoleSaccoManager Role = "SACCO_MANAGER"
	RoleSaccoStaff   Role = "SACCO_STAFF"
)

// Actor identifies who is performing a reconciliation action. A
// SYSTEM_ADMIN is unrestricted; everyone else is scoped to their sacco.
type Actor struct {
	ID      string     `json:"id"`
	Role    Role       `json:"role"`
	SaccoID *uuid.UUID `json:"sacco_id,omitempty"`
}

// IsAdmin reports whether the actor holds the unrestricted role.
func (a Actor) IsAdmin() bool { return a.Role == RoleSystemAdmin }

// CanActOn reports whether the actor may act on records of the given sacco.
func (a Actor) CanActOn(saccoID uuid.UUID) bool {
	if a.IsAdmin() {
		return true
	}
	return a.SaccoID != nil && *a.SaccoID == saccoID
}
