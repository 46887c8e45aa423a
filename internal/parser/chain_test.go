package parser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ibimina/saccopay/internal/models"
)

// stubStrategy is a canned parse tier for chain policy tests.
type stubStrategy struct {
	name   string
	txn    *models.ParsedTransaction
	err    error
	called int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Parse(context.Context, string, time.Time) (*models.ParsedTransaction, error) {
	s.called++
	if s.err != nil {
		return nil, s.err
	}
	return s.txn, nil
}

func TestChain_DeterministicWins(t *testing.T) {
	det := &stubStrategy{name: "regex", txn: &models.ParsedTransaction{TxnID: "A", Confidence: 0.95, Source: models.ParseSourceRegex}}
	model := &stubStrategy{name: "gemini", txn: &models.ParsedTransaction{TxnID: "B", Confidence: 0.85}}

	got, err := NewChain(det, model).Parse(context.Background(), "msg", time.Now())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.TxnID != "A" {
		t.Errorf("txn = %q, want deterministic result A", got.TxnID)
	}
	if model.called != 0 {
		t.Errorf("model tier called %d times, want 0", model.called)
	}
}

func TestChain_LowConfidenceFallsThrough(t *testing.T) {
	det := &stubStrategy{name: "regex", txn: &models.ParsedTransaction{TxnID: "A", Confidence: 0.6}}
	model := &stubStrategy{name: "gemini", txn: &models.ParsedTransaction{TxnID: "B", Confidence: 0.85, Source: models.ParseSourceGemini}}

	got, err := NewChain(det, model).Parse(context.Background(), "msg", time.Now())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.TxnID != "B" {
		t.Errorf("txn = %q, want model result B", got.TxnID)
	}
}

func TestChain_SecondModelTierOnError(t *testing.T) {
	det := &stubStrategy{name: "regex", err: ErrNoMatch}
	first := &stubStrategy{name: "gemini", err: errors.New("quota exceeded")}
	second := &stubStrategy{name: "openai", txn: &models.ParsedTransaction{TxnID: "C", Confidence: 0.85, Source: models.ParseSourceOpenAI}}

	got, err := NewChain(det, first, second).Parse(context.Background(), "msg", time.Now())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.TxnID != "C" {
		t.Errorf("txn = %q, want second model result C", got.TxnID)
	}
	if first.called != 1 || second.called != 1 {
		t.Errorf("tier calls = (%d, %d), want (1, 1)", first.called, second.called)
	}
}

func TestChain_AllTiersFail(t *testing.T) {
	det := &stubStrategy{name: "regex", err: ErrNoMatch}
	first := &stubStrategy{name: "gemini", err: errors.New("quota exceeded")}
	second := &stubStrategy{name: "openai", err: errors.New("bad schema")}

	_, err := NewChain(det, first, second).Parse(context.Background(), "msg", time.Now())

	var failure *ParseFailure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %T, want *ParseFailure", err)
	}
	if len(failure.Reasons) != 3 {
		t.Fatalf("reasons = %d, want 3", len(failure.Reasons))
	}
	msg := err.Error()
	for _, want := range []string{"regex", "gemini: quota exceeded", "openai: bad schema"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestCleanModelJSON(t *testing.T) {
	fenced := "```json\n{\"a\": 1}\n```"
	if got := cleanModelJSON(fenced); got != `{"a": 1}` {
		t.Errorf("cleanModelJSON(fenced) = %q", got)
	}
	noisy := "Here you go: {\"a\": 1} hope that helps"
	if got := cleanModelJSON(noisy); got != `{"a": 1}` {
		t.Errorf("cleanModelJSON(noisy) = %q", got)
	}
}
