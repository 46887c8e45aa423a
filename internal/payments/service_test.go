package payments

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibimina/saccopay/internal/audit"
	"github.com/ibimina/saccopay/internal/crypto"
	"github.com/ibimina/saccopay/internal/ledger"
	"github.com/ibimina/saccopay/internal/logger"
	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/parser"
	"github.com/ibimina/saccopay/internal/reference"
	"github.com/ibimina/saccopay/internal/storage/memory"
)

const sampleSMS = "You have received RWF 50,000 from 0781234567 (JOHN DOE). Ref: NYA.SACCO1.GRP001. Balance: RWF 100,000. Txn ID: MP241126ABC"

const memberSMS = "You have received RWF 50,000 from 0781234567 (JOHN DOE). Ref: NYA.SACCO1.GRP001.M007. Balance: RWF 100,000. Txn ID: MP241126DEF"

// failingModel stands in for the model tiers so tests stay offline.
type failingModel struct{ name string }

func (f *failingModel) Name() string { return f.name }

func (f *failingModel) Parse(context.Context, string, time.Time) (*models.ParsedTransaction, error) {
	return nil, context.DeadlineExceeded
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	saccoID uuid.UUID
	groupID uuid.UUID
	member  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	log := logger.NewWithWriter(io.Discard)

	protector, err := crypto.NewFieldProtector(bytes.Repeat([]byte{0x42}, 32), []byte("hash-key"))
	if err != nil {
		t.Fatalf("NewFieldProtector: %v", err)
	}

	f := &fixture{
		store:   store,
		saccoID: uuid.New(),
		groupID: uuid.New(),
		member:  uuid.New(),
	}
	store.AddGroup(&models.Group{ID: f.groupID, SaccoID: f.saccoID, Code: "GRP001", Active: true})
	store.AddMember(&models.Member{ID: f.member, GroupID: f.groupID, Code: "M007", Active: true})

	f.svc = NewService(Config{
		Store:     store,
		Chain:     parser.NewChain(parser.NewRegexStrategy(), &failingModel{name: "gemini"}, &failingModel{name: "openai"}),
		Resolver:  reference.NewResolver(store),
		Ledger:    ledger.NewService(store, log),
		Protector: protector,
		Auditor:   audit.NewStoreRecorder(store, log),
		Metrics:   metrics.NewStoreRecorder(store, log),
		Logger:    log,
	})
	return f
}

func (f *fixture) admin() models.Actor {
	return models.Actor{ID: "admin-1", Role: models.RoleSystemAdmin}
}

func (f *fixture) staff(saccoID uuid.UUID) models.Actor {
	id := saccoID
	return models.Actor{ID: "staff-1", Role: models.RoleSaccoStaff, SaccoID: &id}
}

func TestIngestMessage_CountsIngestedMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: sampleSMS, SaccoID: f.saccoID}); err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	if got := f.store.MetricCount(metrics.SmsIngested); got != 1 {
		t.Errorf("sms_ingested samples = %d, want 1", got)
	}

	// A repeat of the same transaction is still an ingested message; the
	// duplicate counter tracks it separately.
	if _, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: sampleSMS, SaccoID: f.saccoID}); err != nil {
		t.Fatalf("IngestMessage repeat: %v", err)
	}
	if got := f.store.MetricCount(metrics.SmsIngested); got != 2 {
		t.Errorf("sms_ingested samples = %d, want 2", got)
	}
	if got := f.store.MetricCount(metrics.SmsDuplicates); got != 1 {
		t.Errorf("sms_duplicates samples = %d, want 1", got)
	}
}

func TestIngestMessage_GroupOnlyReferenceIsUnallocated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: sampleSMS, SaccoID: f.saccoID})
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	if res.Status != models.MessageStatusApplied {
		t.Fatalf("message status = %s", res.Status)
	}

	payment, err := f.store.GetPayment(ctx, res.PaymentID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if payment.Status != models.PaymentStatusUnallocated {
		t.Errorf("payment status = %s, want UNALLOCATED", payment.Status)
	}
	if payment.TxnID != "MP241126ABC" || payment.Amount != 50000 {
		t.Errorf("payment = txn %q amount %d", payment.TxnID, payment.Amount)
	}
	if payment.GroupID == nil || *payment.GroupID != f.groupID {
		t.Errorf("group = %v, want %s", payment.GroupID, f.groupID)
	}
	if payment.MsisdnMasked == "" || payment.MsisdnEncrypted == "" || payment.MsisdnHash == "" {
		t.Error("payer identifier not protected")
	}

	exc, err := f.store.FindOpenException(ctx, payment.ID)
	if err != nil {
		t.Fatalf("FindOpenException: %v", err)
	}
	if exc.Reason != models.ExceptionReasonNameMismatch {
		t.Errorf("reason = %s, want NAME_MISMATCH", exc.Reason)
	}
}

func TestIngestMessage_FullMatchPostsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: memberSMS, SaccoID: f.saccoID})
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	payment, _ := f.store.GetPayment(ctx, res.PaymentID)
	if payment.Status != models.PaymentStatusPosted {
		t.Fatalf("payment status = %s, want POSTED", payment.Status)
	}

	entry, err := f.store.FindEntry(ctx, payment.ID, models.MemoPosted)
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
	if !entry.Amount.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("entry amount = %s, want 50000", entry.Amount)
	}
	if _, err := f.store.FindOpenException(ctx, payment.ID); err == nil {
		t.Error("matched payment must not open an exception")
	}
}

func TestIngestMessage_DuplicateTxnIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: memberSMS, SaccoID: f.saccoID})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: memberSMS, SaccoID: f.saccoID})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if !second.Duplicate {
		t.Error("second ingest not flagged duplicate")
	}
	if second.PaymentID != first.PaymentID {
		t.Errorf("duplicate returned new payment %s, want %s", second.PaymentID, first.PaymentID)
	}

	// Exactly one ledger entry for the payment.
	if _, err := f.store.FindEntry(ctx, first.PaymentID, models.MemoPosted); err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
}

func TestIngestMessage_ParseFailureIsReportedNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: "Your airtime balance is RWF 500", SaccoID: f.saccoID})
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	if res.Status != models.MessageStatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}
	if res.ParseErr == "" {
		t.Error("parse failure reasons missing")
	}

	msg, err := f.store.GetMessage(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Status != models.MessageStatusFailed || msg.ParseError == "" {
		t.Errorf("stored message = %s %q", msg.Status, msg.ParseError)
	}
}

func TestAssign_WithMemberAutoPosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: sampleSMS, SaccoID: f.saccoID})

	memberID := f.member
	payment, err := f.svc.Assign(ctx, f.staff(f.saccoID), AssignInput{
		PaymentID: res.PaymentID,
		GroupID:   f.groupID,
		MemberID:  &memberID,
		Note:      "matched manually",
	})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if payment.Status != models.PaymentStatusPosted {
		t.Errorf("status = %s, want POSTED", payment.Status)
	}
	if _, err := f.store.FindEntry(ctx, payment.ID, models.MemoPosted); err != nil {
		t.Errorf("ledger entry missing after assign: %v", err)
	}
	if _, err := f.store.FindOpenException(ctx, payment.ID); err == nil {
		t.Error("exception still open after assign")
	}
}

func TestApprove_RequiresGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Reference too short to name a group: UNALLOCATED with nothing attached.
	body := "You have received RWF 10,000 from 0781234567 (JANE). Ref: X. Balance: RWF 10,000. Txn ID: MP999"
	res, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: body, SaccoID: f.saccoID})
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}

	if _, err := f.svc.Approve(ctx, f.admin(), res.PaymentID, ""); err != ErrGroupRequired {
		t.Fatalf("Approve error = %v, want ErrGroupRequired", err)
	}
}

func TestReject_ClosesExceptionWithoutPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: sampleSMS, SaccoID: f.saccoID})

	payment, err := f.svc.Reject(ctx, f.staff(f.saccoID), res.PaymentID, "not ours")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if payment.Status != models.PaymentStatusRejected {
		t.Errorf("status = %s, want REJECTED", payment.Status)
	}
	if _, err := f.store.FindEntry(ctx, payment.ID, models.MemoPosted); err == nil {
		t.Error("rejected payment must not post to the ledger")
	}
	if _, err := f.store.FindOpenException(ctx, payment.ID); err == nil {
		t.Error("exception still open after reject")
	}
}

func TestActions_ScopeEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: sampleSMS, SaccoID: f.saccoID})

	outsider := f.staff(uuid.New())
	if _, err := f.svc.Reject(ctx, outsider, res.PaymentID, ""); err != ErrForbidden {
		t.Errorf("outsider Reject error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Approve(ctx, outsider, res.PaymentID, ""); err != ErrForbidden {
		t.Errorf("outsider Approve error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Reject(ctx, f.admin(), res.PaymentID, "admin override"); err != nil {
		t.Errorf("admin Reject error = %v", err)
	}
}

func TestSettle_TwoPhaseAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: memberSMS, SaccoID: f.saccoID})

	payment, err := f.svc.Settle(ctx, f.admin(), res.PaymentID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if payment.Status != models.PaymentStatusSettled {
		t.Errorf("status = %s, want SETTLED", payment.Status)
	}
	if _, err := f.store.FindEntry(ctx, payment.ID, models.MemoSettled); err != nil {
		t.Fatalf("settlement entry missing: %v", err)
	}

	// Settling again is a no-op, not an error.
	if _, err := f.svc.Settle(ctx, f.admin(), res.PaymentID); err != nil {
		t.Fatalf("repeated Settle: %v", err)
	}
}

func TestSettle_RejectsUnpostedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: sampleSMS, SaccoID: f.saccoID})

	if _, err := f.svc.Settle(ctx, f.admin(), res.PaymentID); err != ErrNotSettleable {
		t.Fatalf("Settle error = %v, want ErrNotSettleable", err)
	}
}

func TestSweepStaleMessages_RetriesFailedParse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First pass fails: text only the model tiers could handle, and they are down.
	res, err := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: "odd provider format 50000 MP241126XYZ", SaccoID: f.saccoID})
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	if res.Status != models.MessageStatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}

	// Age the message past the sweep threshold.
	f.store.SetMessageReceivedAt(res.MessageID, time.Now().Add(-time.Hour))

	// The model tier has recovered by sweep time.
	f.svc.chain = parser.NewChain(parser.NewRegexStrategy(), &recoveredModel{})

	result, err := f.svc.SweepStaleMessages(ctx, 10*time.Minute, 10)
	if err != nil {
		t.Fatalf("SweepStaleMessages: %v", err)
	}
	if result.Claimed != 1 || result.Applied != 1 {
		t.Fatalf("sweep = %+v, want 1 claimed 1 applied", result)
	}

	msg, _ := f.store.GetMessage(ctx, res.MessageID)
	if msg.Status != models.MessageStatusApplied {
		t.Errorf("message status = %s, want APPLIED", msg.Status)
	}
}

// recoveredModel simulates a model tier back online after an outage.
type recoveredModel struct{}

func (*recoveredModel) Name() string { return "gemini" }

func (*recoveredModel) Parse(_ context.Context, _ string, receivedAt time.Time) (*models.ParsedTransaction, error) {
	return &models.ParsedTransaction{
		Msisdn:     "+250781234567",
		Amount:     50000,
		TxnID:      "MP241126XYZ",
		OccurredAt: receivedAt,
		Confidence: 0.85,
		Source:     models.ParseSourceGemini,
	}, nil
}

func TestEscalateStalePayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.IngestMessage(ctx, IngestInput{Channel: "SMS", Body: sampleSMS, SaccoID: f.saccoID})

	// Not stale yet.
	queued, err := f.svc.EscalateStalePayments(ctx, 72*time.Hour, 100)
	if err != nil {
		t.Fatalf("EscalateStalePayments: %v", err)
	}
	if queued != 0 {
		t.Fatalf("queued = %d, want 0", queued)
	}

	payment, _ := f.store.GetPayment(ctx, res.PaymentID)
	payment.OccurredAt = payment.OccurredAt.Add(-96 * time.Hour)
	if err := f.store.UpdatePayment(ctx, payment); err != nil {
		t.Fatalf("age payment: %v", err)
	}

	queued, err = f.svc.EscalateStalePayments(ctx, 72*time.Hour, 100)
	if err != nil {
		t.Fatalf("EscalateStalePayments: %v", err)
	}
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}
}
