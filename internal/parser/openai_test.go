package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ibimina/saccopay/internal/models"
)

func TestOpenAIStrategy_Parse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}

		content := `{"msisdn":"0788111222","amount":"12,500","txn_id":" TX123 ","timestamp":null,"payer_name":"ALICE","reference":"NYA.SAC.GRP","confidence":1.7}`
		resp := map[string]any{
			"model": "gpt-4o-mini-2024",
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := NewOpenAIStrategy("test-key", "gpt-4o-mini", server.URL)
	receivedAt := time.Date(2024, 11, 26, 9, 0, 0, 0, time.UTC)

	got, err := s.Parse(context.Background(), "some sms", receivedAt)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.Msisdn != "+250788111222" {
		t.Errorf("msisdn = %q", got.Msisdn)
	}
	if got.Amount != 12500 {
		t.Errorf("amount = %d", got.Amount)
	}
	if got.TxnID != "TX123" {
		t.Errorf("txn_id = %q", got.TxnID)
	}
	if got.Confidence != 1 {
		t.Errorf("confidence = %v, want clamp to 1", got.Confidence)
	}
	if !got.OccurredAt.Equal(receivedAt) {
		t.Errorf("occurred_at = %v, want receivedAt fallback", got.OccurredAt)
	}
	if got.Source != models.ParseSourceOpenAI {
		t.Errorf("source = %s", got.Source)
	}
	if got.Model != "gpt-4o-mini-2024" {
		t.Errorf("model = %q", got.Model)
	}
}

func TestOpenAIStrategy_ParseUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewOpenAIStrategy("test-key", "gpt-4o-mini", server.URL)
	if _, err := s.Parse(context.Background(), "some sms", time.Now()); err == nil {
		t.Fatal("expected error on 429 response")
	}
}
