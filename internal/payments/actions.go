package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

// AssignInput attaches a group (and optionally a member) to a payment under
// review.
type AssignInput struct {
	PaymentID uuid.UUID
	GroupID   uuid.UUID
	MemberID  *uuid.UUID
	Note      string
}

// Assign resolves an open exception by attaching directory records. When a
// member is supplied the payment is auto-posted; otherwise it stays
// UNALLOCATED awaiting a further action.
func (s *Service) Assign(ctx context.Context, actor models.Actor, in AssignInput) (*models.Payment, error) {
	if in.GroupID == uuid.Nil {
		return nil, ErrGroupRequired
	}

	payment, err := s.loadScopedPayment(ctx, actor, in.PaymentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindOpenException(ctx, payment.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoOpenException
		}
		return nil, fmt.Errorf("payments: find exception: %w", err)
	}

	prevStatus := payment.Status
	next := models.PaymentStatusUnallocated
	if in.MemberID != nil {
		next = models.PaymentStatusPosted
	}
	newStatus, err := payment.Status.Transition(next)
	if err != nil {
		return nil, err
	}

	groupID := in.GroupID
	payment.GroupID = &groupID
	payment.MemberID = in.MemberID
	payment.Status = newStatus
	payment.UpdatedAt = s.now()
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("payments: update payment: %w", err)
	}

	if payment.Status == models.PaymentStatusPosted {
		if _, err := s.ledger.PostReceipt(ctx, payment); err != nil {
			return nil, err
		}
		if err := s.events.PaymentPosted(ctx, payment); err != nil {
			s.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("Publish posted event failed")
		}
	}

	if err := s.closeException(ctx, payment.ID, in.Note); err != nil {
		return nil, err
	}
	s.recordAction(ctx, actor, "RECON_ASSIGN", payment, prevStatus, in.Note)
	return payment, nil
}

// Approve forces POSTED using whatever group/member is already attached and
// posts to the ledger. Fails when no group is attached.
func (s *Service) Approve(ctx context.Context, actor models.Actor, paymentID uuid.UUID, note string) (*models.Payment, error) {
	payment, err := s.loadScopedPayment(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.GroupID == nil {
		return nil, ErrGroupRequired
	}
	if _, err := s.store.FindOpenException(ctx, payment.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoOpenException
		}
		return nil, fmt.Errorf("payments: find exception: %w", err)
	}

	prevStatus := payment.Status
	newStatus, err := payment.Status.Transition(models.PaymentStatusPosted)
	if err != nil {
		return nil, err
	}

	payment.Status = newStatus
	payment.UpdatedAt = s.now()
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("payments: update payment: %w", err)
	}
	if _, err := s.ledger.PostReceipt(ctx, payment); err != nil {
		return nil, err
	}
	if err := s.events.PaymentPosted(ctx, payment); err != nil {
		s.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("Publish posted event failed")
	}

	if err := s.closeException(ctx, payment.ID, note); err != nil {
		return nil, err
	}
	s.recordAction(ctx, actor, "RECON_APPROVE", payment, prevStatus, note)
	return payment, nil
}

// Reject marks the payment REJECTED with no posting and closes the
// exception. Rejected payments are kept, never deleted.
func (s *Service) Reject(ctx context.Context, actor models.Actor, paymentID uuid.UUID, note string) (*models.Payment, error) {
	payment, err := s.loadScopedPayment(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindOpenException(ctx, payment.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoOpenException
		}
		return nil, fmt.Errorf("payments: find exception: %w", err)
	}

	prevStatus := payment.Status
	newStatus, err := payment.Status.Transition(models.PaymentStatusRejected)
	if err != nil {
		return nil, err
	}

	payment.Status = newStatus
	payment.UpdatedAt = s.now()
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("payments: update payment: %w", err)
	}

	if err := s.closeException(ctx, payment.ID, note); err != nil {
		return nil, err
	}
	s.recordAction(ctx, actor, "RECON_REJECT", payment, prevStatus, note)
	return payment, nil
}

// Settle records telco/bank confirmation for a posted payment: the ledger
// settlement pair plus the SETTLED status. Idempotent; settling a SETTLED
// payment is a no-op.
func (s *Service) Settle(ctx context.Context, actor models.Actor, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.loadScopedPayment(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPosted && payment.Status != models.PaymentStatusSettled {
		return nil, ErrNotSettleable
	}

	prevStatus := payment.Status
	if _, err := s.ledger.Settle(ctx, payment); err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusSettled {
		payment.Status = models.PaymentStatusSettled
		payment.UpdatedAt = s.now()
		if err := s.store.UpdatePayment(ctx, payment); err != nil {
			return nil, fmt.Errorf("payments: update payment: %w", err)
		}
		if err := s.events.PaymentSettled(ctx, payment); err != nil {
			s.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("Publish settled event failed")
		}
	}

	s.recordAction(ctx, actor, "PAYMENT_SETTLE", payment, prevStatus, "")
	return payment, nil
}

// GetPayment returns a payment within the actor's scope.
func (s *Service) GetPayment(ctx context.Context, actor models.Actor, paymentID uuid.UUID) (*models.Payment, error) {
	return s.loadScopedPayment(ctx, actor, paymentID)
}

// ListOpenExceptions lists the review queue, scoped to the actor's sacco
// unless they are an administrator.
func (s *Service) ListOpenExceptions(ctx context.Context, actor models.Actor, limit int) ([]*models.ReconException, error) {
	var saccoFilter *uuid.UUID
	if !actor.IsAdmin() {
		if actor.SaccoID == nil {
			return nil, ErrForbidden
		}
		saccoFilter = actor.SaccoID
	}
	return s.store.ListExceptions(ctx, saccoFilter, models.ExceptionStatusOpen, limit)
}

func (s *Service) loadScopedPayment(ctx context.Context, actor models.Actor, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActOn(payment.SaccoID) {
		return nil, ErrForbidden
	}
	return payment, nil
}

func (s *Service) closeException(ctx context.Context, paymentID uuid.UUID, note string) error {
	if err := s.store.ResolveException(ctx, paymentID, note, s.now()); err != nil {
		return fmt.Errorf("payments: resolve exception: %w", err)
	}
	return nil
}

func (s *Service) recordAction(ctx context.Context, actor models.Actor, action string, payment *models.Payment, prevStatus models.PaymentStatus, note string) {
	s.auditor.Record(ctx, models.AuditEntry{
		Action:   action,
		Entity:   "PAYMENT",
		EntityID: payment.ID.String(),
		ActorID:  actor.ID,
		SaccoID:  &payment.SaccoID,
		Diff: map[string]any{
			"previous_status": prevStatus,
			"next_status":     payment.Status,
			"group_id":        payment.GroupID,
			"member_id":       payment.MemberID,
			"note":            note,
		},
	})
	s.metrics.Record(ctx, metrics.PaymentAction, 1, map[string]any{
		"action":   action,
		"sacco_id": payment.SaccoID.String(),
	})
}
