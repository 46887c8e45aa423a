package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/models"
)

func (s *Store) InsertException(ctx context.Context, e *models.ReconException) error {
	// recon_exceptions_open_payment_idx (partial unique index on payment_id
	// WHERE status = 'OPEN') enforces at most one open exception per payment.
	const query = `INSERT INTO recon_exceptions (id, payment_id, reason, status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query, e.ID, e.PaymentID, e.Reason, e.Status, e.Note, e.CreatedAt)
	return mapInsertErr(err)
}

func (s *Store) FindOpenException(ctx context.Context, paymentID uuid.UUID) (*models.ReconException, error) {
	const query = `SELECT id, payment_id, reason, status, note, resolved_at, created_at
		FROM recon_exceptions WHERE payment_id = $1 AND status = 'OPEN'`

	return scanException(s.db.QueryRowContext(ctx, query, paymentID))
}

func (s *Store) ResolveException(ctx context.Context, paymentID uuid.UUID, note string, at time.Time) error {
	const query = `UPDATE recon_exceptions
		SET status = 'RESOLVED', note = $2, resolved_at = $3
		WHERE payment_id = $1 AND status = 'OPEN'`

	res, err := s.db.ExecContext(ctx, query, paymentID, note, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ListExceptions(ctx context.Context, saccoID *uuid.UUID, status models.ExceptionStatus, limit int) ([]*models.ReconException, error) {
	const query = `SELECT e.id, e.payment_id, e.reason, e.status, e.note, e.resolved_at, e.created_at
		FROM recon_exceptions e
		JOIN payments p ON p.id = e.payment_id
		WHERE e.status = $1 AND ($2::uuid IS NULL OR p.sacco_id = $2)
		ORDER BY e.created_at LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, status, uuidOrNil(saccoID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ReconException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanException(row rowScanner) (*models.ReconException, error) {
	var (
		e        models.ReconException
		note     sql.NullString
		resolved sql.NullTime
	)
	err := row.Scan(&e.ID, &e.PaymentID, &e.Reason, &e.Status, &note, &resolved, &e.CreatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	e.Note = note.String
	if resolved.Valid {
		e.ResolvedAt = &resolved.Time
	}
	return &e, nil
}

func (s *Store) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	diff, err := json.Marshal(entry.Diff)
	if err != nil {
		return err
	}

	const query = `INSERT INTO audit_logs (id, action, entity, entity_id, actor_id, sacco_id, diff, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.Action, entry.Entity, entry.EntityID, entry.ActorID,
		uuidOrNil(entry.SaccoID), diff, entry.CreatedAt)
	return err
}

func (s *Store) RecordMetric(ctx context.Context, m *models.Metric) error {
	dims, err := json.Marshal(m.Dimensions)
	if err != nil {
		return err
	}

	const query = `INSERT INTO pipeline_metrics (name, value, dimensions, recorded_at)
		VALUES ($1, $2, $3, $4)`

	_, err = s.db.ExecContext(ctx, query, m.Name, m.Value, dims, m.RecordedAt)
	return err
}

func (s *Store) IncrementBucket(ctx context.Context, bucket string, windowStart time.Time) (int, error) {
	const query = `INSERT INTO rate_limit_buckets (bucket, window_start, hits)
		VALUES ($1, $2, 1)
		ON CONFLICT (bucket, window_start) DO UPDATE SET hits = rate_limit_buckets.hits + 1
		RETURNING hits`

	var hits int
	if err := s.db.QueryRowContext(ctx, query, bucket, windowStart).Scan(&hits); err != nil {
		return 0, err
	}
	return hits, nil
}
