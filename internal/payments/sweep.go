package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
)

// sweepStatuses are the message states the maintenance sweep retries. A
// message stuck in PARSED means the apply step died between parse and
// payment insert; reprocessing is safe because apply dedupes on txn id.
var sweepStatuses = []models.MessageStatus{
	models.MessageStatusNew,
	models.MessageStatusFailed,
	models.MessageStatusParsed,
}

// SweepResult summarizes one maintenance pass.
type SweepResult struct {
	Claimed int
	Applied int
	Failed  int
}

// SweepStaleMessages claims messages stuck past maxAge and reprocesses them
// through the same parse/resolve/post path as live ingestion. The claim is a
// status-guarded update, so two concurrent sweeps never process the same
// message.
func (s *Service) SweepStaleMessages(ctx context.Context, maxAge time.Duration, limit int) (SweepResult, error) {
	cutoff := s.now().Add(-maxAge)

	claimed, err := s.store.ClaimStaleMessages(ctx, sweepStatuses, cutoff, limit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("payments: claim stale messages: %w", err)
	}

	result := SweepResult{Claimed: len(claimed)}
	for _, msg := range claimed {
		fallback := uuid.Nil
		if msg.SaccoID != nil {
			fallback = *msg.SaccoID
		}

		processed, err := s.processMessage(ctx, msg, fallback)
		if err != nil {
			result.Failed++
			s.log.Error().Err(err).Str("message_id", msg.ID.String()).Msg("Sweep reprocess failed")
			continue
		}
		if processed.Status == models.MessageStatusApplied {
			result.Applied++
		} else {
			result.Failed++
		}
	}

	if result.Claimed > 0 {
		s.log.Info().
			Int("claimed", result.Claimed).
			Int("applied", result.Applied).
			Int("failed", result.Failed).
			Msg("Maintenance sweep finished")
	}
	return result, nil
}

// EscalateStalePayments queues a WhatsApp escalation for every payment still
// PENDING or UNALLOCATED past maxAge, nudging the payer and staff before the
// money goes stale.
func (s *Service) EscalateStalePayments(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-maxAge)

	stale, err := s.store.ListStalePayments(ctx,
		[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusUnallocated},
		cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("payments: list stale payments: %w", err)
	}

	queued := 0
	for _, payment := range stale {
		paymentID := payment.ID
		saccoID := payment.SaccoID
		job := &models.NotificationJob{
			ID:        uuid.New(),
			Event:     "RECON_ESCALATION",
			Channel:   models.ChannelWhatsApp,
			SaccoID:   &saccoID,
			PaymentID: &paymentID,
			Payload: map[string]any{
				"paymentId":  payment.ID.String(),
				"reference":  payment.Reference,
				"occurredAt": payment.OccurredAt.Format(time.RFC3339),
				"status":     string(payment.Status),
			},
			Status:       models.NotificationStatusPending,
			ScheduledFor: s.now(),
			CreatedAt:    s.now(),
		}
		if err := s.store.EnqueueNotification(ctx, job); err != nil {
			s.log.Error().Err(err).Str("payment_id", payment.ID.String()).Msg("Escalation enqueue failed")
			continue
		}
		queued++
	}

	if queued > 0 {
		s.metrics.Record(ctx, metrics.ReconEscalations, float64(queued), nil)
	}
	return queued, nil
}
