package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ibimina/saccopay/internal/models"
)

// WhatsAppSender pushes one message to the WhatsApp gateway and reports the
// upstream HTTP status.
type WhatsAppSender interface {
	Send(ctx context.Context, to, body string) (int, error)
}

func (d *Dispatcher) deliverWhatsApp(ctx context.Context, job *models.NotificationJob) outcome {
	recipient, ok := d.recipientFor(ctx, job)
	if !ok {
		return outcome{kind: outcomeFailed, detail: detailMissingRecipient}
	}

	if d.limiter != nil {
		allowed, err := d.limiter.Allow(ctx, "whatsapp:"+recipient)
		if err != nil {
			d.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Rate limit check failed")
		}
		if !allowed {
			d.recordAudit(ctx, job, "RATE_LIMIT", map[string]any{"attempt": job.Attempts})
			return outcome{kind: outcomeRetry, detail: detailRateLimited}
		}
	}

	body, ok := d.bodyFor(ctx, job)
	if !ok {
		return outcome{kind: outcomeFailed, detail: detailMissingTemplate}
	}

	status, err := d.whatsapp.Send(ctx, recipient, body)
	if err != nil {
		d.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("WhatsApp send errored")
		return outcome{kind: outcomeRetry, detail: detailUpstreamError}
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return outcome{kind: outcomeRetry, detail: detailUpstreamError}
	}
	if status >= 300 {
		return outcome{kind: outcomeFailed, detail: fmt.Sprintf("%s: status %d", detailSendFailed, status)}
	}
	return outcome{kind: outcomeDelivered}
}

// HTTPWhatsAppSender posts to a WhatsApp business gateway with bearer auth.
type HTTPWhatsAppSender struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPWhatsAppSender(endpoint, token string) *HTTPWhatsAppSender {
	return &HTTPWhatsAppSender{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPWhatsAppSender) Send(ctx context.Context, to, body string) (int, error) {
	payload, err := json.Marshal(map[string]string{
		"to":      to,
		"message": body,
	})
	if err != nil {
		return 0, fmt.Errorf("notify: marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("notify: build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("notify: whatsapp request: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
