// Package ledger implements double-entry posting for payments. Every
// posting debits one account and credits another so the books always
// balance.
//
// Lifecycle: a receipt debits the sacco's clearing account and credits the
// group (memo POSTED); settlement debits the settlement account and credits
// clearing (memo SETTLED) once the telco statement confirms the funds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

// ErrNoGroup is returned when a receipt is posted for a payment that has no
// group assigned.
var ErrNoGroup = errors.New("ledger: payment has no group assigned")

// Service posts payments to the ledger through a LedgerStore.
type Service struct {
	store storage.LedgerStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(store storage.LedgerStore, log zerolog.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// EnsureAccount returns the account for (ownerType, ownerID, currency),
// creating it on first reference. Safe under concurrent callers: a losing
// insert falls back to the winner's row.
func (s *Service) EnsureAccount(ctx context.Context, ownerType models.AccountOwnerType, ownerID, saccoID uuid.UUID, currency string) (uuid.UUID, error) {
	account, err := s.store.FindAccount(ctx, ownerType, ownerID, currency)
	if err == nil {
		return account.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("ledger: find account: %w", err)
	}

	created := &models.LedgerAccount{
		ID:        uuid.New(),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		SaccoID:   saccoID,
		Currency:  currency,
		CreatedAt: s.now(),
	}
	err = s.store.InsertAccount(ctx, created)
	if err == nil {
		return created.ID, nil
	}
	if errors.Is(err, storage.ErrDuplicate) {
		account, err := s.store.FindAccount(ctx, ownerType, ownerID, currency)
		if err != nil {
			return uuid.Nil, fmt.Errorf("ledger: refind account after duplicate: %w", err)
		}
		return account.ID, nil
	}
	return uuid.Nil, fmt.Errorf("ledger: create account: %w", err)
}

// PostReceipt records the initial receipt of a payment: debit the sacco's
// clearing account, credit the group's account. Idempotent on
// (payment id, POSTED); a concurrent or repeated call returns the existing
// entry.
func (s *Service) PostReceipt(ctx context.Context, payment *models.Payment) (uuid.UUID, error) {
	if payment.GroupID == nil {
		return uuid.Nil, ErrNoGroup
	}

	clearingID, err := s.EnsureAccount(ctx, models.OwnerClearing, payment.SaccoID, payment.SaccoID, payment.Currency)
	if err != nil {
		return uuid.Nil, err
	}
	groupAccountID, err := s.EnsureAccount(ctx, models.OwnerGroup, *payment.GroupID, payment.SaccoID, payment.Currency)
	if err != nil {
		return uuid.Nil, err
	}

	return s.post(ctx, payment, clearingID, groupAccountID, models.MemoPosted)
}

// Settle records bank/telco confirmation: debit the sacco's settlement
// account, credit clearing. Idempotent on (payment id, SETTLED).
func (s *Service) Settle(ctx context.Context, payment *models.Payment) (uuid.UUID, error) {
	settlementID, err := s.EnsureAccount(ctx, models.OwnerSettlement, payment.SaccoID, payment.SaccoID, payment.Currency)
	if err != nil {
		return uuid.Nil, err
	}
	clearingID, err := s.EnsureAccount(ctx, models.OwnerClearing, payment.SaccoID, payment.SaccoID, payment.Currency)
	if err != nil {
		return uuid.Nil, err
	}

	return s.post(ctx, payment, settlementID, clearingID, models.MemoSettled)
}

// post inserts one debit/credit pair. The (external id, memo) uniqueness
// constraint is the sole idempotency gate; it is checked immediately before
// insert and again on constraint violation so concurrent retries converge on
// one entry.
func (s *Service) post(ctx context.Context, payment *models.Payment, debitID, creditID uuid.UUID, memo models.EntryMemo) (uuid.UUID, error) {
	existing, err := s.store.FindEntry(ctx, payment.ID, memo)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("ledger: find entry: %w", err)
	}

	entry := &models.LedgerEntry{
		ID:         uuid.New(),
		SaccoID:    payment.SaccoID,
		DebitID:    debitID,
		CreditID:   creditID,
		Amount:     decimal.NewFromInt(payment.Amount),
		Currency:   payment.Currency,
		ValueDate:  payment.OccurredAt,
		ExternalID: payment.ID,
		Memo:       memo,
		CreatedAt:  s.now(),
	}

	err = s.store.InsertEntry(ctx, entry)
	if err == nil {
		s.log.Info().
			Str("payment_id", payment.ID.String()).
			Str("memo", string(memo)).
			Int64("amount", payment.Amount).
			Msg("Ledger entry posted")
		return entry.ID, nil
	}
	if errors.Is(err, storage.ErrDuplicate) {
		existing, err := s.store.FindEntry(ctx, payment.ID, memo)
		if err != nil {
			return uuid.Nil, fmt.Errorf("ledger: refind entry after duplicate: %w", err)
		}
		return existing.ID, nil
	}
	return uuid.Nil, fmt.Errorf("ledger: insert entry: %w", err)
}

// Balance returns credits minus debits across all entries touching the
// account, as of the latest committed entry.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return s.store.AccountBalance(ctx, accountID)
}
