package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

const notificationColumns = `id, event, channel, sacco_id, template_id, payment_id, payload,
	status, attempts, last_error, retry_after, scheduled_for, last_attempt_at, processed_at, created_at`

func (s *Store) EnqueueNotification(ctx context.Context, job *models.NotificationJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}

	const query = `INSERT INTO notification_queue
		(id, event, channel, sacco_id, template_id, payment_id, payload, status,
		 attempts, scheduled_for, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = s.db.ExecContext(ctx, query,
		job.ID, job.Event, job.Channel, uuidOrNil(job.SaccoID), uuidOrNil(job.TemplateID),
		uuidOrNil(job.PaymentID), payload, job.Status, job.Attempts, job.ScheduledFor, job.CreatedAt)
	return mapInsertErr(err)
}

func (s *Store) DueNotifications(ctx context.Context, channel models.NotificationChannel, now time.Time, limit int) ([]*models.NotificationJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notification_queue
		 WHERE channel = $1 AND status = 'PENDING' AND scheduled_for <= $2
		 ORDER BY scheduled_for LIMIT $3`,
		channel, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.NotificationJob
	for rows.Next() {
		job, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) ClaimNotification(ctx context.Context, id uuid.UUID, at time.Time) (*models.NotificationJob, bool, error) {
	// The status guard makes the claim atomic; losing the race returns
	// zero rows, which callers treat as "already claimed".
	row := s.db.QueryRowContext(ctx,
		`UPDATE notification_queue
		 SET status = 'PROCESSING', attempts = attempts + 1, last_attempt_at = $2
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+notificationColumns,
		id, at)

	job, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return job, true, nil
}

func (s *Store) MarkNotificationDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `UPDATE notification_queue
		SET status = 'DELIVERED', processed_at = $2, last_error = '', retry_after = NULL
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) MarkNotificationFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	const query = `UPDATE notification_queue
		SET status = 'FAILED', processed_at = $2, last_error = $3, retry_after = NULL
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, at, reason)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) RescheduleNotification(ctx context.Context, id uuid.UUID, retryAt time.Time, reason string) error {
	const query = `UPDATE notification_queue
		SET status = 'PENDING', scheduled_for = $2, retry_after = $2, last_error = $3
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, retryAt, reason)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*models.MessageTemplate, error) {
	const query = `SELECT id, sacco_id, body, tokens, is_active
		FROM message_templates WHERE id = $1`

	var (
		t       models.MessageTemplate
		saccoID sql.NullString
		tokens  pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &saccoID, &t.Body, &tokens, &t.IsActive)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if t.SaccoID, err = parseNullUUID(saccoID); err != nil {
		return nil, err
	}
	t.Tokens = tokens
	return &t, nil
}

func scanNotification(row rowScanner) (*models.NotificationJob, error) {
	var (
		job        models.NotificationJob
		saccoID    sql.NullString
		templateID sql.NullString
		paymentID  sql.NullString
		payload    []byte
		lastError  sql.NullString
		retryAfter sql.NullTime
		attemptAt  sql.NullTime
		processed  sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Event, &job.Channel, &saccoID, &templateID, &paymentID,
		&payload, &job.Status, &job.Attempts, &lastError, &retryAfter,
		&job.ScheduledFor, &attemptAt, &processed, &job.CreatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if job.SaccoID, err = parseNullUUID(saccoID); err != nil {
		return nil, err
	}
	if job.TemplateID, err = parseNullUUID(templateID); err != nil {
		return nil, err
	}
	if job.PaymentID, err = parseNullUUID(paymentID); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, err
		}
	}
	job.LastError = lastError.String
	if retryAfter.Valid {
		job.RetryAfter = &retryAfter.Time
	}
	if attemptAt.Valid {
		job.LastAttemptAt = &attemptAt.Time
	}
	if processed.Valid {
		job.ProcessedAt = &processed.Time
	}
	return &job, nil
}
