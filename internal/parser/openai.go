package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ibimina/saccopay/internal/models"
)

// OpenAIStrategy is the second, independent model-based tier. It talks to
// the chat completions API directly with a strict JSON schema so a schema
// violation fails the attempt instead of producing a half-parsed candidate.
type OpenAIStrategy struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAIStrategy(apiKey, model, baseURL string) *OpenAIStrategy {
	return &OpenAIStrategy{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *OpenAIStrategy) Name() string { return "openai" }

type openAIOutput struct {
	Msisdn     string     `json:"msisdn"`
	Amount     flexString `json:"amount"`
	TxnID      string     `json:"txn_id"`
	Timestamp  string     `json:"timestamp"`
	PayerName  string     `json:"payer_name"`
	Reference  string     `json:"reference"`
	Confidence *float64   `json:"confidence"`
}

var openAISchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"msisdn", "amount", "txn_id"},
	"properties": map[string]any{
		"msisdn":     map[string]any{"type": "string", "pattern": `^\+?2507\d{8}$`},
		"amount":     map[string]any{"type": []string{"integer", "string"}},
		"txn_id":     map[string]any{"type": "string", "minLength": 3},
		"timestamp":  map[string]any{"type": []string{"string", "null"}},
		"payer_name": map[string]any{"type": []string{"string", "null"}},
		"reference":  map[string]any{"type": []string{"string", "null"}},
		"confidence": map[string]any{"type": []string{"number", "null"}},
	},
}

func (s *OpenAIStrategy) Parse(ctx context.Context, rawText string, receivedAt time.Time) (*models.ParsedTransaction, error) {
	body, err := json.Marshal(map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{
				"role":    "system",
				"content": "Extract MTN Rwanda MoMo transaction details from raw SMS. Return only valid JSON matching the provided schema.",
			},
			{
				"role":    "user",
				"content": "Extract the transaction details from the following SMS. If a field is missing, return null. SMS: " + rawText,
			},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "momo_transaction",
				"schema": openAISchema,
			},
		},
		"temperature": 0,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}

	var payload struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	var out openAIOutput
	if err := json.Unmarshal([]byte(payload.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("unmarshal structured output: %w", err)
	}

	msisdn := NormalizeMsisdn(out.Msisdn)
	txnID := strings.TrimSpace(out.TxnID)
	if msisdn == "" || txnID == "" {
		return nil, fmt.Errorf("response missing required fields")
	}
	amount, err := ParseAmount(out.Amount.String())
	if err != nil {
		return nil, err
	}

	modelUsed := payload.Model
	if modelUsed == "" {
		modelUsed = s.model
	}

	return &models.ParsedTransaction{
		Msisdn:     msisdn,
		Amount:     amount,
		TxnID:      txnID,
		OccurredAt: timestampOr(out.Timestamp, receivedAt),
		Reference:  out.Reference,
		PayerName:  out.PayerName,
		Confidence: ClampConfidence(out.Confidence, modelConfidence),
		Source:     models.ParseSourceOpenAI,
		Model:      modelUsed,
	}, nil
}
