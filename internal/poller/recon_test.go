package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/audit"
	"github.com/ibimina/saccopay/internal/crypto"
	"github.com/ibimina/saccopay/internal/ledger"
	"github.com/ibimina/saccopay/internal/logger"
	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/payments"
	"github.com/ibimina/saccopay/internal/reference"
	"github.com/ibimina/saccopay/internal/storage/memory"
)

func newReconFixture(t *testing.T) (*memory.Store, *JobRunner, uuid.UUID) {
	t.Helper()

	store := memory.NewStore()
	log := logger.NewWithWriter(io.Discard)

	protector, err := crypto.NewFieldProtector(bytes.Repeat([]byte{0x42}, 32), []byte("hash-key"))
	if err != nil {
		t.Fatalf("protector: %v", err)
	}

	saccoID := uuid.New()
	group := &models.Group{ID: uuid.New(), SaccoID: saccoID, Code: "GRP001", Active: true}
	store.AddGroup(group)
	store.AddMember(&models.Member{ID: uuid.New(), GroupID: group.ID, Code: "M007", Active: true})

	svc := payments.NewService(payments.Config{
		Store:     store,
		Resolver:  reference.NewResolver(store),
		Ledger:    ledger.NewService(store, log),
		Protector: protector,
		Auditor:   audit.NewStoreRecorder(store, log),
		Metrics:   metrics.NewStoreRecorder(store, log),
		Logger:    log,
	})

	return store, NewJobRunner(store, svc, log), saccoID
}

func stageStatement(t *testing.T, store *memory.Store, saccoID uuid.UUID, stmt Statement) *models.ReconciliationJob {
	t.Helper()
	ctx := context.Background()

	pollerID := uuid.New()
	raw, err := json.Marshal(stmt)
	if err != nil {
		t.Fatalf("marshal statement: %v", err)
	}
	row := &models.StagingRow{
		ID:         uuid.New(),
		PollerID:   pollerID,
		SaccoID:    &saccoID,
		ExternalID: stmt.ID,
		Payload:    raw,
		Status:     models.StagingStatusNew,
	}
	if err := store.InsertStagingRow(ctx, row); err != nil {
		t.Fatalf("stage row: %v", err)
	}

	job := &models.ReconciliationJob{
		ID:        uuid.New(),
		StagingID: row.ID,
		SaccoID:   &saccoID,
		JobType:   "STATEMENT_SYNC",
		Status:    models.ReconJobStatusPending,
	}
	if err := store.InsertReconJob(ctx, job); err != nil {
		t.Fatalf("queue job: %v", err)
	}
	return job
}

func TestJobRunner_AppliesStagedStatement(t *testing.T) {
	store, runner, saccoID := newReconFixture(t)

	stageStatement(t, store, saccoID, Statement{
		ID:         "STMT-100",
		OccurredAt: "2024-11-26T08:00:00Z",
		Amount:     50000,
		Msisdn:     "+250781234567",
		Reference:  "NYA.SACCO1.GRP001.M007",
	})

	stats, err := runner.RunOnce(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Completed != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want 1 completed", stats)
	}

	payment, err := store.FindPaymentByTxnID(context.Background(), "STMT-100")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if payment.Status != models.PaymentStatusPosted {
		t.Fatalf("payment status = %s, want POSTED", payment.Status)
	}
	if payment.Channel != "STATEMENT" {
		t.Fatalf("channel = %q, want STATEMENT", payment.Channel)
	}
	if payment.ParseSource != models.ParseSourceStatement {
		t.Fatalf("parse source = %s, want STATEMENT", payment.ParseSource)
	}

	jobs, _ := store.PendingReconJobs(context.Background(), 10)
	if len(jobs) != 0 {
		t.Fatalf("%d jobs still pending", len(jobs))
	}
}

func TestJobRunner_RerunIsDeduplicated(t *testing.T) {
	store, runner, saccoID := newReconFixture(t)

	stmt := Statement{
		ID:         "STMT-200",
		OccurredAt: "2024-11-26T08:00:00Z",
		Amount:     20000,
		Msisdn:     "+250781234567",
		Reference:  "NYA.SACCO1.GRP001.M007",
	}
	first := stageStatement(t, store, saccoID, stmt)
	if _, err := runner.RunOnce(context.Background(), 10); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Re-queue the same staged row, as a crashed worker retry would.
	if err := store.UpdateReconJobStatus(context.Background(), first.ID, models.ReconJobStatusPending); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	stats, err := runner.RunOnce(context.Background(), 10)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Completed != 1 {
		t.Fatalf("stats = %+v, want rerun to complete", stats)
	}

	payment, err := store.FindPaymentByTxnID(context.Background(), "STMT-200")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	acct, err := store.FindAccount(context.Background(), models.OwnerGroup, *payment.GroupID, payment.Currency)
	if err != nil {
		t.Fatalf("find group account: %v", err)
	}
	balance, err := store.AccountBalance(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.IntPart() != 20000 {
		t.Fatalf("group balance = %s after rerun, want 20000", balance)
	}
}

func TestJobRunner_InvalidPayloadFailsJob(t *testing.T) {
	store, runner, saccoID := newReconFixture(t)

	stageStatement(t, store, saccoID, Statement{ID: "STMT-300"})

	stats, err := runner.RunOnce(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Failed != 1 || stats.Completed != 0 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
}
