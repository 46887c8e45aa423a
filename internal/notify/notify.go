// Package notify is the at-least-once notification dispatcher. Jobs are
// claimed with a conditional status transition, delivered through a channel
// sender, and rescheduled with exponential backoff on retryable failures.
// Every attempt leaves an audit record.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibimina/saccopay/internal/audit"
	"github.com/ibimina/saccopay/internal/crypto"
	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/ratelimit"
	"github.com/ibimina/saccopay/internal/storage"
)

const (
	defaultMaxAttempts = 5
	defaultBatchSize   = 25

	baseRetrySeconds = 30
	maxRetrySeconds  = 3600
)

// RetryDelay computes the backoff before the next attempt, based on how many
// attempts have already been made. Doubles from 30s and caps at one hour.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	seconds := baseRetrySeconds
	for i := 1; i < attempts; i++ {
		seconds *= 2
		if seconds >= maxRetrySeconds {
			return maxRetrySeconds * time.Second
		}
	}
	return time.Duration(seconds) * time.Second
}

// Retryable failure details.
const (
	detailRateLimited   = "rate_limited"
	detailUpstreamError = "upstream_error"
)

// Permanent failure details.
const (
	detailMissingRecipient = "missing_recipient"
	detailMissingTemplate  = "missing_template"
	detailSendFailed       = "send_failed"
)

type outcomeKind int

const (
	outcomeDelivered outcomeKind = iota
	outcomeRetry
	outcomeFailed
)

type outcome struct {
	kind   outcomeKind
	detail string
}

// Store is the persistence surface the dispatcher needs: the notification
// queue plus payment lookup for deriving recipients.
type Store interface {
	storage.NotificationStore
	storage.PaymentStore
}

// Dispatcher drains one channel's due notifications. Run it per channel from
// an external scheduler; within one run jobs are processed sequentially.
type Dispatcher struct {
	store       Store
	whatsapp    WhatsAppSender
	email       EmailSender
	limiter     *ratelimit.Limiter
	revealer    crypto.Revealer
	auditor     audit.Recorder
	metrics     metrics.Recorder
	log         zerolog.Logger
	maxAttempts int
	batchSize   int
	now         func() time.Time
}

// Config collects the dispatcher dependencies. Limiter and Revealer are
// optional; without a limiter no throttling happens, without a revealer
// recipients must arrive in the job payload.
type Config struct {
	Store       Store
	WhatsApp    WhatsAppSender
	Email       EmailSender
	Limiter     *ratelimit.Limiter
	Revealer    crypto.Revealer
	Auditor     audit.Recorder
	Metrics     metrics.Recorder
	Logger      zerolog.Logger
	MaxAttempts int
	BatchSize   int
}

func NewDispatcher(cfg Config) *Dispatcher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Dispatcher{
		store:       cfg.Store,
		whatsapp:    cfg.WhatsApp,
		email:       cfg.Email,
		limiter:     cfg.Limiter,
		revealer:    cfg.Revealer,
		auditor:     cfg.Auditor,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		now:         time.Now,
	}
}

// RunStats summarizes one dispatcher pass.
type RunStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

// RunOnce claims and delivers every due job on the channel. A job claimed by
// a concurrent worker between the list and the claim is skipped.
func (d *Dispatcher) RunOnce(ctx context.Context, channel models.NotificationChannel) (RunStats, error) {
	due, err := d.store.DueNotifications(ctx, channel, d.now(), d.batchSize)
	if err != nil {
		return RunStats{}, fmt.Errorf("notify: list due: %w", err)
	}

	var stats RunStats
	for _, candidate := range due {
		job, ok, err := d.store.ClaimNotification(ctx, candidate.ID, d.now())
		if err != nil {
			return stats, fmt.Errorf("notify: claim: %w", err)
		}
		if !ok {
			continue
		}
		stats.Claimed++

		d.recordAudit(ctx, job, "ATTEMPT", map[string]any{"attempt": job.Attempts})

		out := d.deliver(ctx, job)
		if err := d.finish(ctx, job, out); err != nil {
			return stats, err
		}
		switch out.kind {
		case outcomeDelivered:
			stats.Delivered++
		case outcomeRetry:
			if job.Attempts >= d.maxAttempts {
				stats.Failed++
			} else {
				stats.Retried++
			}
		case outcomeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (d *Dispatcher) deliver(ctx context.Context, job *models.NotificationJob) outcome {
	switch job.Channel {
	case models.ChannelWhatsApp:
		return d.deliverWhatsApp(ctx, job)
	case models.ChannelEmail:
		return d.deliverEmail(ctx, job)
	default:
		return outcome{kind: outcomeFailed, detail: "unknown_channel"}
	}
}

// finish records the terminal store transition for one delivery attempt. A
// retryable failure on a job that has exhausted its attempts becomes a
// permanent failure.
func (d *Dispatcher) finish(ctx context.Context, job *models.NotificationJob, out outcome) error {
	switch out.kind {
	case outcomeDelivered:
		if err := d.store.MarkNotificationDelivered(ctx, job.ID, d.now()); err != nil {
			return fmt.Errorf("notify: mark delivered: %w", err)
		}
		d.recordAudit(ctx, job, "SENT", map[string]any{"attempt": job.Attempts})
		d.metrics.Record(ctx, metrics.NotificationsSent, 1, map[string]any{
			"channel": string(job.Channel),
			"event":   job.Event,
		})
		return nil

	case outcomeRetry:
		if job.Attempts >= d.maxAttempts {
			reason := fmt.Sprintf("max attempts exceeded: %s", out.detail)
			return d.fail(ctx, job, reason)
		}
		retryAt := d.now().Add(RetryDelay(job.Attempts))
		if err := d.store.RescheduleNotification(ctx, job.ID, retryAt, out.detail); err != nil {
			return fmt.Errorf("notify: reschedule: %w", err)
		}
		d.log.Info().
			Str("job_id", job.ID.String()).
			Str("detail", out.detail).
			Int("attempt", job.Attempts).
			Time("retry_at", retryAt).
			Msg("Notification rescheduled")
		return nil

	default:
		return d.fail(ctx, job, out.detail)
	}
}

func (d *Dispatcher) fail(ctx context.Context, job *models.NotificationJob, reason string) error {
	if err := d.store.MarkNotificationFailed(ctx, job.ID, reason, d.now()); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	d.recordAudit(ctx, job, "FAILED", map[string]any{
		"attempt": job.Attempts,
		"reason":  reason,
	})
	d.metrics.Record(ctx, metrics.NotificationsError, 1, map[string]any{
		"channel": string(job.Channel),
		"event":   job.Event,
		"reason":  reason,
	})
	return nil
}

// recipientFor resolves who the message goes to: an explicit payload "to"
// wins, otherwise the payer msisdn is decrypted from the linked payment.
func (d *Dispatcher) recipientFor(ctx context.Context, job *models.NotificationJob) (string, bool) {
	if to, ok := job.Payload["to"].(string); ok && to != "" {
		return to, true
	}
	if job.PaymentID == nil || d.revealer == nil {
		return "", false
	}
	payment, err := d.store.GetPayment(ctx, *job.PaymentID)
	if err != nil {
		d.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Recipient payment lookup failed")
		return "", false
	}
	msisdn, err := d.revealer.Unprotect(payment.MsisdnEncrypted)
	if err != nil || msisdn == "" {
		return "", false
	}
	return msisdn, true
}

// bodyFor renders the message body: the job's template if set, else a
// built-in body for the event, with {token} placeholders filled from the
// payload.
func (d *Dispatcher) bodyFor(ctx context.Context, job *models.NotificationJob) (string, bool) {
	if job.TemplateID != nil {
		tmpl, err := d.store.GetTemplate(ctx, *job.TemplateID)
		if err != nil || !tmpl.IsActive {
			return "", false
		}
		return RenderTemplate(tmpl.Body, job.Payload), true
	}
	if body, ok := job.Payload["body"].(string); ok && body != "" {
		return RenderTemplate(body, job.Payload), true
	}
	if body, ok := defaultBodies[job.Event]; ok {
		return RenderTemplate(body, job.Payload), true
	}
	return "", false
}

func (d *Dispatcher) recordAudit(ctx context.Context, job *models.NotificationJob, suffix string, diff map[string]any) {
	d.auditor.Record(ctx, models.AuditEntry{
		Action:   fmt.Sprintf("NOTIFICATION_%s_%s", job.Channel, suffix),
		Entity:   "NOTIFICATION",
		EntityID: job.ID.String(),
		ActorID:  "dispatcher",
		SaccoID:  job.SaccoID,
		Diff:     diff,
	})
}
