package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibimina/saccopay/internal/models"
)

func (s *Store) FindAccount(ctx context.Context, ownerType models.AccountOwnerType, ownerID uuid.UUID, currency string) (*models.LedgerAccount, error) {
	const query = `SELECT id, owner_type, owner_id, sacco_id, currency, created_at
		FROM ledger_accounts
		WHERE owner_type = $1 AND owner_id = $2 AND currency = $3`

	var a models.LedgerAccount
	err := s.db.QueryRowContext(ctx, query, ownerType, ownerID, currency).
		Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.SaccoID, &a.Currency, &a.CreatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return &a, nil
}

func (s *Store) InsertAccount(ctx context.Context, a *models.LedgerAccount) error {
	const query = `INSERT INTO ledger_accounts
		(id, owner_type, owner_id, sacco_id, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.OwnerType, a.OwnerID, a.SaccoID, a.Currency, a.CreatedAt)
	return mapInsertErr(err)
}

func (s *Store) FindEntry(ctx context.Context, externalID uuid.UUID, memo models.EntryMemo) (*models.LedgerEntry, error) {
	const query = `SELECT id, sacco_id, debit_id, credit_id, amount, currency,
		value_date, external_id, memo, created_at
		FROM ledger_entries
		WHERE external_id = $1 AND memo = $2`

	var (
		e      models.LedgerEntry
		amount string
	)
	err := s.db.QueryRowContext(ctx, query, externalID, memo).
		Scan(&e.ID, &e.SaccoID, &e.DebitID, &e.CreditID, &amount, &e.Currency,
			&e.ValueDate, &e.ExternalID, &e.Memo, &e.CreatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries
		(id, sacco_id, debit_id, credit_id, amount, currency, value_date, external_id, memo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.SaccoID, e.DebitID, e.CreditID, e.Amount.String(), e.Currency,
		e.ValueDate, e.ExternalID, e.Memo, e.CreatedAt)
	return mapInsertErr(err)
}

func (s *Store) AccountBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	// Credits minus debits across every entry touching the account.
	const query = `SELECT
		COALESCE(SUM(CASE WHEN credit_id = $1 THEN amount ELSE 0 END), 0) -
		COALESCE(SUM(CASE WHEN debit_id = $1 THEN amount ELSE 0 END), 0)
		FROM ledger_entries
		WHERE credit_id = $1 OR debit_id = $1`

	var raw sql.NullString
	if err := s.db.QueryRowContext(ctx, query, accountID).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	if !raw.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw.String)
}
