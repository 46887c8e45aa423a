package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/parser"
	"github.com/ibimina/saccopay/internal/storage"
)

// IngestInput is one inbound raw message.
type IngestInput struct {
	Channel      string
	Sender       string
	Body         string
	ReceivedAt   time.Time
	SourceDevice string
	SaccoID      uuid.UUID
}

// IngestResult reports what happened to an inbound message.
type IngestResult struct {
	MessageID uuid.UUID
	PaymentID uuid.UUID
	Status    models.MessageStatus
	Duplicate bool
	ParseErr  string
}

// IngestMessage stores the raw message, runs the parser chain and applies
// the parsed transaction. A parse failure marks the message FAILED and is
// reported, not returned as an error; the maintenance sweep retries it
// later.
func (s *Service) IngestMessage(ctx context.Context, in IngestInput) (*IngestResult, error) {
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	msg := &models.RawMessage{
		ID:           uuid.New(),
		Channel:      in.Channel,
		Sender:       in.Sender,
		Body:         in.Body,
		ReceivedAt:   receivedAt,
		SourceDevice: in.SourceDevice,
		Status:       models.MessageStatusNew,
		CreatedAt:    s.now(),
	}
	if in.SaccoID != uuid.Nil {
		saccoID := in.SaccoID
		msg.SaccoID = &saccoID
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("payments: store message: %w", err)
	}
	s.metrics.Record(ctx, metrics.SmsIngested, 1, map[string]any{"channel": in.Channel})

	return s.processMessage(ctx, msg, in.SaccoID)
}

// processMessage parses one stored message and applies the result. It is
// shared by live ingestion and the maintenance sweep.
func (s *Service) processMessage(ctx context.Context, msg *models.RawMessage, fallbackSacco uuid.UUID) (*IngestResult, error) {
	result := &IngestResult{MessageID: msg.ID}

	parsed, err := s.chain.Parse(ctx, msg.Body, msg.ReceivedAt)
	if err != nil {
		var failure *parser.ParseFailure
		if !errors.As(err, &failure) {
			return nil, fmt.Errorf("payments: parse: %w", err)
		}
		result.Status = models.MessageStatusFailed
		result.ParseErr = failure.Error()
		if markErr := s.store.MarkMessageStatus(ctx, msg.ID, models.MessageStatusFailed, failure.Error()); markErr != nil {
			return nil, fmt.Errorf("payments: mark message failed: %w", markErr)
		}
		s.log.Warn().
			Str("message_id", msg.ID.String()).
			Str("reason", failure.Error()).
			Msg("Message failed all parse tiers")
		return result, nil
	}

	msg.Status = models.MessageStatusParsed
	msg.ParseSource = parsed.Source
	msg.Confidence = parsed.Confidence
	msg.ParseError = ""
	if err := s.store.UpdateMessageParse(ctx, msg); err != nil {
		return nil, fmt.Errorf("payments: update message parse: %w", err)
	}

	applied, err := s.Apply(ctx, ApplyInput{
		Parsed:   parsed,
		Channel:  msg.Channel,
		SaccoID:  fallbackSacco,
		SourceID: &msg.ID,
		ActorID:  "pipeline",
	})
	if err != nil {
		if markErr := s.store.MarkMessageStatus(ctx, msg.ID, models.MessageStatusFailed, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Str("message_id", msg.ID.String()).Msg("Mark message failed after apply error")
		}
		return nil, err
	}

	note := ""
	if applied.Duplicate {
		note = "Duplicate transaction"
	}
	if err := s.store.MarkMessageStatus(ctx, msg.ID, models.MessageStatusApplied, note); err != nil {
		return nil, fmt.Errorf("payments: mark message applied: %w", err)
	}

	result.Status = models.MessageStatusApplied
	result.PaymentID = applied.Payment.ID
	result.Duplicate = applied.Duplicate
	return result, nil
}

// ApplyInput is one parsed transaction ready for dedupe and resolution.
type ApplyInput struct {
	Parsed   *models.ParsedTransaction
	Channel  string
	SaccoID  uuid.UUID
	SourceID *uuid.UUID
	ActorID  string
}

// ApplyResult is the deduplicated outcome.
type ApplyResult struct {
	Payment   *models.Payment
	Duplicate bool
}

// Apply turns a parsed transaction into a payment record. The external
// transaction id is the dedupe key: a repeat returns the existing payment
// with no new ledger activity. Matched payments are posted to the ledger
// synchronously; everything else opens a reconciliation exception.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	parsed := in.Parsed

	existing, err := s.store.FindPaymentByTxnID(ctx, parsed.TxnID)
	if err == nil {
		s.metrics.Record(ctx, metrics.SmsDuplicates, 1, map[string]any{"sacco_id": existing.SaccoID.String()})
		return &ApplyResult{Payment: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("payments: find by txn id: %w", err)
	}

	resolution, err := s.resolver.Resolve(ctx, parsed.Reference, in.SaccoID)
	if err != nil {
		return nil, err
	}

	protected, err := s.protector.Protect(parsed.Msisdn)
	if err != nil {
		return nil, fmt.Errorf("payments: protect msisdn: %w", err)
	}

	payment := &models.Payment{
		ID:              uuid.New(),
		Channel:         in.Channel,
		SaccoID:         resolution.SaccoID,
		GroupID:         resolution.GroupID,
		MemberID:        resolution.MemberID,
		MsisdnMasked:    protected.Masked,
		MsisdnEncrypted: protected.Encrypted,
		MsisdnHash:      protected.Hash,
		Amount:          parsed.Amount,
		Currency:        s.currency,
		TxnID:           parsed.TxnID,
		Reference:       parsed.Reference,
		OccurredAt:      parsed.OccurredAt,
		Status:          resolution.Status,
		Confidence:      parsed.Confidence,
		ParseSource:     parsed.Source,
		ModelVersion:    parsed.Model,
		SourceID:        in.SourceID,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}

	err = s.store.InsertPayment(ctx, payment)
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost a race with a concurrent ingest of the same transaction.
		existing, findErr := s.store.FindPaymentByTxnID(ctx, parsed.TxnID)
		if findErr != nil {
			return nil, fmt.Errorf("payments: refind after duplicate: %w", findErr)
		}
		s.metrics.Record(ctx, metrics.SmsDuplicates, 1, map[string]any{"sacco_id": existing.SaccoID.String()})
		return &ApplyResult{Payment: existing, Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payments: insert payment: %w", err)
	}

	if payment.Status == models.PaymentStatusPosted {
		if _, err := s.ledger.PostReceipt(ctx, payment); err != nil {
			return nil, err
		}
		if err := s.events.PaymentPosted(ctx, payment); err != nil {
			s.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("Publish posted event failed")
		}
	} else {
		if err := s.openException(ctx, payment); err != nil {
			return nil, err
		}
	}

	s.auditor.Record(ctx, models.AuditEntry{
		Action:   "PAYMENT_APPLY",
		Entity:   "PAYMENT",
		EntityID: payment.ID.String(),
		ActorID:  in.ActorID,
		SaccoID:  &payment.SaccoID,
		Diff: map[string]any{
			"status":     payment.Status,
			"txn_id":     payment.TxnID,
			"amount":     payment.Amount,
			"confidence": payment.Confidence,
		},
	})
	s.metrics.Record(ctx, metrics.PaymentApply, 1, map[string]any{
		"sacco_id": payment.SaccoID.String(),
		"status":   string(payment.Status),
	})

	return &ApplyResult{Payment: payment}, nil
}

// openException queues an unmatched payment for review. UNKNOWN_REF means
// the group code itself did not match; NAME_MISMATCH means the group matched
// and the member segment did not. An already-open exception is left alone.
func (s *Service) openException(ctx context.Context, payment *models.Payment) error {
	reason := models.ExceptionReasonUnknownRef
	if payment.GroupID != nil {
		reason = models.ExceptionReasonNameMismatch
	}

	exc := &models.ReconException{
		ID:        uuid.New(),
		PaymentID: payment.ID,
		Reason:    reason,
		Status:    models.ExceptionStatusOpen,
		CreatedAt: s.now(),
	}
	err := s.store.InsertException(ctx, exc)
	if err != nil && !errors.Is(err, storage.ErrDuplicate) {
		return fmt.Errorf("payments: open exception: %w", err)
	}
	return nil
}
