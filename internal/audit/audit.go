// Package audit records staff and pipeline actions. Recording is
// fire-and-forget: a failed write is logged and never propagated to the
// operation being audited.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

// Recorder writes audit entries.
type Recorder interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

// StoreRecorder persists audit entries through the shared store.
type StoreRecorder struct {
	store storage.AuditStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewStoreRecorder(store storage.AuditStore, log zerolog.Logger) *StoreRecorder {
	return &StoreRecorder{store: store, log: log, now: time.Now}
}

func (r *StoreRecorder) Record(ctx context.Context, entry models.AuditEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if err := r.store.InsertAudit(ctx, &entry); err != nil {
		r.log.Warn().Err(err).
			Str("action", entry.Action).
			Str("entity", entry.Entity).
			Str("entity_id", entry.EntityID).
			Msg("Audit write failed")
	}
}
