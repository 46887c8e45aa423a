// Package postgres implements storage.Store on a PostgreSQL database via
// database/sql and lib/pq. The schema's unique indexes (see schema.sql) are
// the enforcement point for every dedupe guarantee; unique violations are
// surfaced as storage.ErrDuplicate.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique-constraint failures.
const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// mapInsertErr translates constraint violations into the sentinel errors the
// pipeline treats as no-ops.
func mapInsertErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return storage.ErrDuplicate
	}
	return err
}

func mapScanErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// Messages

func (s *Store) InsertMessage(ctx context.Context, msg *models.RawMessage) error {
	const query = `INSERT INTO raw_messages
		(id, channel, sender, body, received_at, source_device, sacco_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Channel, msg.Sender, msg.Body, msg.ReceivedAt,
		msg.SourceDevice, uuidOrNil(msg.SaccoID), msg.Status, msg.CreatedAt)
	return mapInsertErr(err)
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*models.RawMessage, error) {
	const query = `SELECT id, channel, sender, body, received_at, source_device,
		sacco_id, status, parse_source, confidence, parse_error, created_at
		FROM raw_messages WHERE id = $1`

	return scanMessage(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) UpdateMessageParse(ctx context.Context, msg *models.RawMessage) error {
	const query = `UPDATE raw_messages
		SET status = $2, parse_source = $3, confidence = $4, parse_error = $5, sacco_id = $6
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Status, msg.ParseSource, msg.Confidence, msg.ParseError, uuidOrNil(msg.SaccoID))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) MarkMessageStatus(ctx context.Context, id uuid.UUID, status models.MessageStatus, parseErr string) error {
	const query = `UPDATE raw_messages SET status = $2, parse_error = $3 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, status, parseErr)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ClaimStaleMessages(ctx context.Context, statuses []models.MessageStatus, cutoff time.Time, limit int) ([]*models.RawMessage, error) {
	// The status guard in the inner select plus the UPDATE makes the claim
	// atomic: a message swept by a concurrent worker is skipped.
	const query = `UPDATE raw_messages SET status = 'PROCESSING'
		WHERE id IN (
			SELECT id FROM raw_messages
			WHERE status = ANY($1) AND received_at < $2
			ORDER BY received_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, channel, sender, body, received_at, source_device,
			sacco_id, status, parse_source, confidence, parse_error, created_at`

	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, query, pq.Array(raw), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RawMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.RawMessage, error) {
	var (
		msg         models.RawMessage
		saccoID     sql.NullString
		parseSource sql.NullString
		confidence  sql.NullFloat64
		parseErr    sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.Channel, &msg.Sender, &msg.Body, &msg.ReceivedAt,
		&msg.SourceDevice, &saccoID, &msg.Status, &parseSource, &confidence, &parseErr, &msg.CreatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if saccoID.Valid {
		id, err := uuid.Parse(saccoID.String)
		if err != nil {
			return nil, err
		}
		msg.SaccoID = &id
	}
	msg.ParseSource = models.ParseSource(parseSource.String)
	msg.Confidence = confidence.Float64
	msg.ParseError = parseErr.String
	return &msg, nil
}

// Directory

func (s *Store) FindActiveGroupByCode(ctx context.Context, code string) (*models.Group, error) {
	const query = `SELECT id, sacco_id, code, name FROM groups
		WHERE code = $1 AND status = 'ACTIVE' LIMIT 1`

	var g models.Group
	err := s.db.QueryRowContext(ctx, query, code).Scan(&g.ID, &g.SaccoID, &g.Code, &g.Name)
	if err != nil {
		return nil, mapScanErr(err)
	}
	g.Active = true
	return &g, nil
}

func (s *Store) FindActiveMember(ctx context.Context, groupID uuid.UUID, code string) (*models.Member, error) {
	const query = `SELECT id, group_id, member_code, name, msisdn FROM group_members
		WHERE group_id = $1 AND member_code = $2 AND status = 'ACTIVE' LIMIT 1`

	var (
		m      models.Member
		msisdn sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, groupID, code).Scan(&m.ID, &m.GroupID, &m.Code, &m.Name, &msisdn)
	if err != nil {
		return nil, mapScanErr(err)
	}
	m.Msisdn = msisdn.String
	m.Active = true
	return &m, nil
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
