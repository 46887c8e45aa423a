package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/payments"
	"github.com/ibimina/saccopay/internal/storage"
)

// JobRunner drains pending reconciliation jobs, pushing each staged
// statement row through the same apply path as live message ingestion. The
// payment dedupe key makes reruns of a completed job harmless.
type JobRunner struct {
	store    storage.PollerStore
	payments *payments.Service
	log      zerolog.Logger
	now      func() time.Time
}

func NewJobRunner(store storage.PollerStore, svc *payments.Service, log zerolog.Logger) *JobRunner {
	return &JobRunner{
		store:    store,
		payments: svc,
		log:      log,
		now:      time.Now,
	}
}

// JobStats summarizes one drain pass.
type JobStats struct {
	Completed int
	Failed    int
}

// RunOnce processes up to limit pending jobs sequentially. A failing job is
// marked FAILED and never blocks the rest of the batch.
func (r *JobRunner) RunOnce(ctx context.Context, limit int) (JobStats, error) {
	jobs, err := r.store.PendingReconJobs(ctx, limit)
	if err != nil {
		return JobStats{}, fmt.Errorf("poller: list pending jobs: %w", err)
	}

	var stats JobStats
	for _, job := range jobs {
		if err := r.store.UpdateReconJobStatus(ctx, job.ID, models.ReconJobStatusRunning); err != nil {
			return stats, fmt.Errorf("poller: mark job running: %w", err)
		}

		if err := r.runJob(ctx, job); err != nil {
			stats.Failed++
			r.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Reconciliation job failed")
			if markErr := r.store.UpdateReconJobStatus(ctx, job.ID, models.ReconJobStatusFailed); markErr != nil {
				return stats, fmt.Errorf("poller: mark job failed: %w", markErr)
			}
			continue
		}

		if err := r.store.UpdateReconJobStatus(ctx, job.ID, models.ReconJobStatusCompleted); err != nil {
			return stats, fmt.Errorf("poller: mark job completed: %w", err)
		}
		stats.Completed++
	}
	return stats, nil
}

func (r *JobRunner) runJob(ctx context.Context, job *models.ReconciliationJob) error {
	row, err := r.store.GetStagingRow(ctx, job.StagingID)
	if err != nil {
		return fmt.Errorf("load staging row: %w", err)
	}

	var stmt Statement
	if err := json.Unmarshal(row.Payload, &stmt); err != nil {
		return fmt.Errorf("decode staged payload: %w", err)
	}
	if stmt.ID == "" || stmt.Msisdn == "" || stmt.Amount <= 0 {
		return fmt.Errorf("staged row %s missing required fields", row.ID)
	}

	occurredAt := r.now()
	if stmt.OccurredAt != "" {
		if parsed, err := time.Parse(time.RFC3339, stmt.OccurredAt); err == nil {
			occurredAt = parsed
		}
	}

	saccoID := uuid.Nil
	if row.SaccoID != nil {
		saccoID = *row.SaccoID
	}

	result, err := r.payments.Apply(ctx, payments.ApplyInput{
		Parsed: &models.ParsedTransaction{
			Msisdn:     stmt.Msisdn,
			Amount:     stmt.Amount,
			TxnID:      stmt.ID,
			OccurredAt: occurredAt,
			Reference:  stmt.Reference,
			PayerName:  stmt.PayerName,
			Confidence: 1,
			Source:     models.ParseSourceStatement,
		},
		Channel: "STATEMENT",
		SaccoID: saccoID,
		ActorID: "reconciliation",
	})
	if err != nil {
		return fmt.Errorf("apply staged statement: %w", err)
	}

	r.log.Info().
		Str("job_id", job.ID.String()).
		Str("payment_id", result.Payment.ID.String()).
		Bool("duplicate", result.Duplicate).
		Str("status", string(result.Payment.Status)).
		Msg("Staged statement reconciled")
	return nil
}
