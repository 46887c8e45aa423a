package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/ibimina/saccopay/internal/models"
)

// EmailSender delivers one plain-text email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

func (d *Dispatcher) deliverEmail(ctx context.Context, job *models.NotificationJob) outcome {
	// Email recipients always arrive in the payload; payments carry phone
	// numbers, not addresses.
	to, ok := job.Payload["to"].(string)
	if !ok || to == "" {
		return outcome{kind: outcomeFailed, detail: detailMissingRecipient}
	}

	body, ok := d.bodyFor(ctx, job)
	if !ok {
		return outcome{kind: outcomeFailed, detail: detailMissingTemplate}
	}
	subject, _ := job.Payload["subject"].(string)
	if subject == "" {
		subject = job.Event
	}

	if err := d.email.Send(ctx, to, subject, body); err != nil {
		d.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Email send errored")
		return outcome{kind: outcomeRetry, detail: detailUpstreamError}
	}
	return outcome{kind: outcomeDelivered}
}

// SMTPSender sends through a plain SMTP relay.
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(addr, from string) *SMTPSender {
	return &SMTPSender{addr: addr, from: from}
}

func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("notify: smtp send: %w", err)
	}
	return nil
}
