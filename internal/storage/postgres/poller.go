package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/models"
)

func (s *Store) ListActivePollers(ctx context.Context) ([]*models.PollerConfig, error) {
	const query = `SELECT id, sacco_id, provider, display_name, endpoint_url, auth_header,
		cursor, status, last_polled_at, last_latency_ms, last_polled_count, last_error
		FROM statement_pollers WHERE status = 'ACTIVE' ORDER BY provider`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PollerConfig
	for rows.Next() {
		var (
			p         models.PollerConfig
			saccoID   sql.NullString
			cursor    sql.NullString
			polledAt  sql.NullTime
			latency   sql.NullInt64
			lastError sql.NullString
		)
		err := rows.Scan(&p.ID, &saccoID, &p.Provider, &p.DisplayName, &p.EndpointURL,
			&p.AuthHeader, &cursor, &p.Status, &polledAt, &latency, &p.LastPolledCount, &lastError)
		if err != nil {
			return nil, err
		}
		if p.SaccoID, err = parseNullUUID(saccoID); err != nil {
			return nil, err
		}
		p.Cursor = cursor.String
		if polledAt.Valid {
			p.LastPolledAt = &polledAt.Time
		}
		if latency.Valid {
			p.LastLatencyMs = &latency.Int64
		}
		p.LastError = lastError.String
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePollerResult(ctx context.Context, pollerID uuid.UUID, cursor string, avgLatencyMs *int64, count int, at time.Time) error {
	const query = `UPDATE statement_pollers
		SET cursor = $2, last_latency_ms = $3, last_polled_count = $4,
		    last_polled_at = $5, last_error = ''
		WHERE id = $1`

	var latency any
	if avgLatencyMs != nil {
		latency = *avgLatencyMs
	}
	res, err := s.db.ExecContext(ctx, query, pollerID, cursor, latency, count, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) RecordPollerError(ctx context.Context, pollerID uuid.UUID, message string, at time.Time) error {
	const query = `UPDATE statement_pollers SET last_error = $2, last_polled_at = $3 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, pollerID, message, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) InsertStagingRow(ctx context.Context, row *models.StagingRow) error {
	const query = `INSERT INTO statement_staging
		(id, poller_id, sacco_id, external_id, payload, latency_ms, polled_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	var latency any
	if row.LatencyMs != nil {
		latency = *row.LatencyMs
	}
	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.PollerID, uuidOrNil(row.SaccoID), row.ExternalID,
		[]byte(row.Payload), latency, row.PolledAt, row.Status)
	return mapInsertErr(err)
}

func (s *Store) MarkStagingQueued(ctx context.Context, stagingID, jobID uuid.UUID) error {
	const query = `UPDATE statement_staging SET status = 'QUEUED', queued_job_id = $2 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, stagingID, jobID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) GetStagingRow(ctx context.Context, id uuid.UUID) (*models.StagingRow, error) {
	const query = `SELECT id, poller_id, sacco_id, external_id, payload, latency_ms,
		polled_at, status, queued_job_id
		FROM statement_staging WHERE id = $1`

	var (
		row     models.StagingRow
		saccoID sql.NullString
		latency sql.NullInt64
		jobID   sql.NullString
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&row.ID, &row.PollerID, &saccoID,
		&row.ExternalID, &payload, &latency, &row.PolledAt, &row.Status, &jobID)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if row.SaccoID, err = parseNullUUID(saccoID); err != nil {
		return nil, err
	}
	if row.QueuedJobID, err = parseNullUUID(jobID); err != nil {
		return nil, err
	}
	if latency.Valid {
		row.LatencyMs = &latency.Int64
	}
	row.Payload = payload
	return &row, nil
}

func (s *Store) InsertReconJob(ctx context.Context, job *models.ReconciliationJob) error {
	meta, err := json.Marshal(job.Meta)
	if err != nil {
		return err
	}

	const query = `INSERT INTO reconciliation_jobs
		(id, staging_id, sacco_id, job_type, status, queued_at, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = s.db.ExecContext(ctx, query,
		job.ID, job.StagingID, uuidOrNil(job.SaccoID), job.JobType, job.Status, job.QueuedAt, meta)
	return mapInsertErr(err)
}

func (s *Store) PendingReconJobs(ctx context.Context, limit int) ([]*models.ReconciliationJob, error) {
	const query = `SELECT id, staging_id, sacco_id, job_type, status, queued_at, meta
		FROM reconciliation_jobs WHERE status = 'PENDING' ORDER BY queued_at LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ReconciliationJob
	for rows.Next() {
		var (
			job     models.ReconciliationJob
			saccoID sql.NullString
			meta    []byte
		)
		if err := rows.Scan(&job.ID, &job.StagingID, &saccoID, &job.JobType, &job.Status, &job.QueuedAt, &meta); err != nil {
			return nil, err
		}
		if job.SaccoID, err = parseNullUUID(saccoID); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &job.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, &job)
	}
	return out, rows.Err()
}

func (s *Store) UpdateReconJobStatus(ctx context.Context, id uuid.UUID, status models.ReconJobStatus) error {
	const query = `UPDATE reconciliation_jobs SET status = $2 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}
