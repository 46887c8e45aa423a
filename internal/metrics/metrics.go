// Package metrics emits the pipeline counters the backlog monitor consumes.
// Like audit, recording is best-effort and never fails the caller.
package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

// Counter names emitted by the pipeline.
const (
	SmsIngested        = "sms_ingested"
	SmsDuplicates      = "sms_duplicates"
	PaymentApply       = "payment_apply"
	PaymentAction      = "payment_action"
	StatementsPolled   = "momo_statements_polled"
	PollLatencyMs      = "momo_poll_latency_ms"
	PollFailure        = "momo_poll_failure"
	ReconEscalations   = "recon_escalations"
	NotificationsSent  = "notifications_sent"
	NotificationsError = "notifications_failed"
)

// Recorder emits one counter sample.
type Recorder interface {
	Record(ctx context.Context, name string, value float64, dims map[string]any)
}

// StoreRecorder persists samples through the shared store.
type StoreRecorder struct {
	store storage.MetricStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewStoreRecorder(store storage.MetricStore, log zerolog.Logger) *StoreRecorder {
	return &StoreRecorder{store: store, log: log, now: time.Now}
}

func (r *StoreRecorder) Record(ctx context.Context, name string, value float64, dims map[string]any) {
	m := &models.Metric{Name: name, Value: value, Dimensions: dims, RecordedAt: r.now()}
	if err := r.store.RecordMetric(ctx, m); err != nil {
		r.log.Warn().Err(err).Str("metric", name).Msg("Metric write failed")
	}
}

// Nop discards samples; used where a caller does not care about counters.
type Nop struct{}

func (Nop) Record(context.Context, string, float64, map[string]any) {}
