package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/audit"
	"github.com/ibimina/saccopay/internal/crypto"
	"github.com/ibimina/saccopay/internal/ledger"
	"github.com/ibimina/saccopay/internal/logger"
	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/parser"
	"github.com/ibimina/saccopay/internal/payments"
	"github.com/ibimina/saccopay/internal/ratelimit"
	"github.com/ibimina/saccopay/internal/reference"
	"github.com/ibimina/saccopay/internal/storage/memory"
)

const sampleSMS = "You have received RWF 50,000 from 0781234567 (JOHN DOE). Ref: NYA.SACCO1.GRP001.M007. Balance: RWF 100,000. Txn ID: MP241126ABC"

type apiFixture struct {
	store   *memory.Store
	server  *Server
	saccoID uuid.UUID
	groupID uuid.UUID
}

func newAPIFixture(t *testing.T, limit int) *apiFixture {
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

	ledgerSvc := ledger.NewService(store, log)
	svc := payments.NewService(payments.Config{
		Store:     store,
		Chain:     parser.NewChain(parser.NewRegexStrategy()),
		Resolver:  reference.NewResolver(store),
		Ledger:    ledgerSvc,
		Protector: protector,
		Auditor:   audit.NewStoreRecorder(store, log),
		Metrics:   metrics.NewStoreRecorder(store, log),
		Logger:    log,
	})

	var limiter *ratelimit.Limiter
	if limit > 0 {
		limiter = ratelimit.New(store, limit, time.Minute)
	}

	server := NewServer(Config{
		Payments: svc,
		Ledger:   ledgerSvc,
		Store:    store,
		Limiter:  limiter,
		Logger:   log,
	})

	return &apiFixture{store: store, server: server, saccoID: saccoID, groupID: group.ID}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func adminHeaders() map[string]string {
	return map[string]string{
		"X-Actor-Id":   "admin-1",
		"X-Actor-Role": string(models.RoleSystemAdmin),
	}
}

func TestIngestEndpoint(t *testing.T) {
	f := newAPIFixture(t, 0)

	w := f.do(t, http.MethodPost, "/api/messages", map[string]string{
		"channel": "SMS",
		"sender":  "+250781234567",
		"body":    sampleSMS,
	}, nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var result payments.IngestResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Status != models.MessageStatusApplied {
		t.Fatalf("message status = %s, want APPLIED", result.Status)
	}

	payment, err := f.store.FindPaymentByTxnID(context.Background(), "MP241126ABC")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if payment.Status != models.PaymentStatusPosted {
		t.Fatalf("payment status = %s, want POSTED", payment.Status)
	}
}

func TestIngestEndpoint_RateLimited(t *testing.T) {
	f := newAPIFixture(t, 1)

	body := map[string]string{"channel": "SMS", "sender": "+250781234567", "body": sampleSMS}

	if w := f.do(t, http.MethodPost, "/api/messages", body, nil); w.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/messages", body, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
}

func TestIngestEndpoint_InvalidPayload(t *testing.T) {
	f := newAPIFixture(t, 0)

	w := f.do(t, http.MethodPost, "/api/messages", map[string]string{"channel": "SMS"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestExceptionWorkflowEndpoints(t *testing.T) {
	f := newAPIFixture(t, 0)

	// A group-only reference lands in the exception queue.
	groupOnly := "You have received RWF 20,000 from 0781234567 (JANE DOE). Ref: NYA.SACCO1.GRP001. Balance: RWF 40,000. Txn ID: MP241126DEF"
	w := f.do(t, http.MethodPost, "/api/messages", map[string]string{
		"channel": "SMS", "sender": "+250781234567", "body": groupOnly,
	}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest status = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/exceptions", nil, adminHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("list exceptions status = %d", w.Code)
	}
	var listResp struct {
		Count      int                      `json:"count"`
		Exceptions []*models.ReconException `json:"exceptions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode exceptions: %v", err)
	}
	if listResp.Count != 1 {
		t.Fatalf("open exceptions = %d, want 1", listResp.Count)
	}

	paymentID := listResp.Exceptions[0].PaymentID

	w = f.do(t, http.MethodPost, "/api/payments/"+paymentID.String()+"/approve",
		map[string]string{"note": "verified against statement"}, adminHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body = %s", w.Code, w.Body.String())
	}

	var payment models.Payment
	if err := json.Unmarshal(w.Body.Bytes(), &payment); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if payment.Status != models.PaymentStatusPosted {
		t.Fatalf("payment status = %s, want POSTED", payment.Status)
	}

	// The queue is now empty and a second approve conflicts.
	w = f.do(t, http.MethodPost, "/api/payments/"+paymentID.String()+"/approve", nil, adminHeaders())
	if w.Code != http.StatusConflict {
		t.Fatalf("second approve status = %d, want 409", w.Code)
	}
}

func TestScopeEnforcement(t *testing.T) {
	f := newAPIFixture(t, 0)

	w := f.do(t, http.MethodPost, "/api/messages", map[string]string{
		"channel": "SMS", "sender": "+250781234567", "body": sampleSMS,
	}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest status = %d", w.Code)
	}
	payment, err := f.store.FindPaymentByTxnID(context.Background(), "MP241126ABC")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}

	outsider := map[string]string{
		"X-Actor-Id":   "staff-9",
		"X-Actor-Role": string(models.RoleSaccoStaff),
		"X-Sacco-Id":   uuid.NewString(),
	}
	w = f.do(t, http.MethodGet, "/api/payments/"+payment.ID.String(), nil, outsider)
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider status = %d, want 403", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/payments/"+payment.ID.String(), nil, adminHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", w.Code)
	}
}

func TestBalanceEndpoint(t *testing.T) {
	f := newAPIFixture(t, 0)

	w := f.do(t, http.MethodPost, "/api/messages", map[string]string{
		"channel": "SMS", "sender": "+250781234567", "body": sampleSMS,
	}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest status = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/balances/GROUP/"+f.groupID.String(), nil, adminHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("balance status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if resp.Balance != "50000" {
		t.Fatalf("balance = %s, want 50000", resp.Balance)
	}

	w = f.do(t, http.MethodGet, "/api/balances/BOGUS/"+f.groupID.String(), nil, adminHeaders())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bogus owner type status = %d, want 400", w.Code)
	}
}
