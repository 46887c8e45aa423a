package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ibimina/saccopay/internal/models"
)

func (s *Store) InsertPayment(ctx context.Context, p *models.Payment) error {
	const query = `INSERT INTO payments
		(id, channel, sacco_id, group_id, member_id, msisdn_masked, msisdn_encrypted, msisdn_hash,
		 amount, currency, txn_id, reference, occurred_at, status, confidence, parse_source,
		 model_version, source_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Channel, p.SaccoID, uuidOrNil(p.GroupID), uuidOrNil(p.MemberID),
		p.MsisdnMasked, p.MsisdnEncrypted, p.MsisdnHash,
		p.Amount, p.Currency, p.TxnID, p.Reference, p.OccurredAt, p.Status,
		p.Confidence, p.ParseSource, p.ModelVersion, uuidOrNil(p.SourceID),
		p.CreatedAt, p.UpdatedAt)
	return mapInsertErr(err)
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.findPayment(ctx, `WHERE id = $1`, id)
}

func (s *Store) FindPaymentByTxnID(ctx context.Context, txnID string) (*models.Payment, error) {
	return s.findPayment(ctx, `WHERE txn_id = $1`, txnID)
}

const paymentColumns = `id, channel, sacco_id, group_id, member_id, msisdn_masked,
	msisdn_encrypted, msisdn_hash, amount, currency, txn_id, reference, occurred_at,
	status, confidence, parse_source, model_version, source_id, created_at, updated_at`

func (s *Store) findPayment(ctx context.Context, where string, arg any) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments `+where, arg)
	return scanPayment(row)
}

func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment) error {
	const query = `UPDATE payments
		SET sacco_id = $2, group_id = $3, member_id = $4, status = $5,
		    reference = $6, confidence = $7, updated_at = $8
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query,
		p.ID, p.SaccoID, uuidOrNil(p.GroupID), uuidOrNil(p.MemberID),
		p.Status, p.Reference, p.Confidence, p.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ListStalePayments(ctx context.Context, statuses []models.PaymentStatus, cutoff time.Time, limit int) ([]*models.Payment, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = ANY($1) AND occurred_at < $2
		 ORDER BY occurred_at LIMIT $3`,
		pq.Array(raw), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p         models.Payment
		groupID   sql.NullString
		memberID  sql.NullString
		sourceID  sql.NullString
		reference sql.NullString
		source    sql.NullString
		model     sql.NullString
	)
	err := row.Scan(&p.ID, &p.Channel, &p.SaccoID, &groupID, &memberID,
		&p.MsisdnMasked, &p.MsisdnEncrypted, &p.MsisdnHash,
		&p.Amount, &p.Currency, &p.TxnID, &reference, &p.OccurredAt,
		&p.Status, &p.Confidence, &source, &model, &sourceID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if p.GroupID, err = parseNullUUID(groupID); err != nil {
		return nil, err
	}
	if p.MemberID, err = parseNullUUID(memberID); err != nil {
		return nil, err
	}
	if p.SourceID, err = parseNullUUID(sourceID); err != nil {
		return nil, err
	}
	p.Reference = reference.String
	p.ParseSource = models.ParseSource(source.String)
	p.ModelVersion = model.String
	return &p, nil
}

func parseNullUUID(v sql.NullString) (*uuid.UUID, error) {
	if !v.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
