package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ibimina/saccopay/internal/models"
)

const geminiPrompt = `You are a specialized Mobile Money SMS parser for Rwanda (MTN, Airtel) and Kenya (M-PESA).
Extract transaction details from the payment SMS below and return STRICT JSON only.

Rules:
- Transaction IDs are alphanumeric codes (e.g., MP241126ABC)
- Phone numbers must be E.164 format (+250... or +254...)
- Amount is a positive number with no currency symbol
- Timestamp is ISO 8601 if present in the message, otherwise null
- Do NOT wrap the response in code fences

Return exactly this shape:
{"transaction_id": "string", "amount": number, "currency": "string", "payer_name": "string", "payer_phone": "string", "timestamp": "string or null"}

SMS message:
`

// geminiOutput is the JSON shape the model is instructed to return.
type geminiOutput struct {
	TransactionID string     `json:"transaction_id"`
	Amount        flexString `json:"amount"`
	Currency      string     `json:"currency"`
	PayerName     string     `json:"payer_name"`
	PayerPhone    string     `json:"payer_phone"`
	Timestamp     string     `json:"timestamp"`
}

// GeminiStrategy is the first model-based tier.
type GeminiStrategy struct {
	client *genai.Client
	model  string
}

// NewGeminiStrategy builds the tier. The API key may be empty when the
// environment provides credentials, matching the genai client's own lookup.
func NewGeminiStrategy(ctx context.Context, apiKey, model string) (*GeminiStrategy, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("parser: create genai client: %w", err)
	}
	return &GeminiStrategy{client: client, model: model}, nil
}

func (s *GeminiStrategy) Name() string { return "gemini" }

func (s *GeminiStrategy) Parse(ctx context.Context, rawText string, receivedAt time.Time) (*models.ParsedTransaction, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: geminiPrompt + rawText}},
		},
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var out geminiOutput
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("unmarshal model JSON: %w", err)
	}
	if out.TransactionID == "" || out.PayerPhone == "" {
		return nil, fmt.Errorf("model response missing required fields")
	}

	amount, err := ParseAmount(out.Amount.String())
	if err != nil {
		return nil, err
	}

	return &models.ParsedTransaction{
		Msisdn:     NormalizeMsisdn(out.PayerPhone),
		Amount:     amount,
		TxnID:      strings.TrimSpace(out.TransactionID),
		OccurredAt: timestampOr(out.Timestamp, receivedAt),
		PayerName:  out.PayerName,
		Confidence: modelConfidence,
		Source:     models.ParseSourceGemini,
		Model:      s.model,
	}, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk the model may
// emit despite instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
