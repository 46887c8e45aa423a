package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ibimina/saccopay/internal/models"
)

// Statement is one statement line as returned by a provider endpoint. Extra
// provider fields survive in the staging payload via the raw row.
type Statement struct {
	ID         string `json:"id"`
	OccurredAt string `json:"occurred_at,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
	Msisdn     string `json:"msisdn,omitempty"`
	PayerName  string `json:"payer_name,omitempty"`
	Reference  string `json:"reference,omitempty"`
}

// FetchResult is one page of statements plus the provider's pagination
// cursor.
type FetchResult struct {
	Statements []Statement
	Raw        []json.RawMessage
	NextCursor string
}

// Fetcher pulls one page of statements from a configured source.
type Fetcher interface {
	FetchStatements(ctx context.Context, cfg *models.PollerConfig) (*FetchResult, error)
}

type pollResponse struct {
	Statements []json.RawMessage `json:"statements"`
	NextCursor string            `json:"nextCursor"`
}

// HTTPFetcher pulls statements over HTTP with the source's auth material and
// last cursor. A fetch that overruns the timeout is a retryable failure like
// any network error.
type HTTPFetcher struct {
	client    *http.Client
	batchSize int
}

func NewHTTPFetcher(timeout time.Duration, batchSize int) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		batchSize: batchSize,
	}
}

func (f *HTTPFetcher) FetchStatements(ctx context.Context, cfg *models.PollerConfig) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.EndpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("poller: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cfg.AuthHeader != "" {
		req.Header.Set("Authorization", cfg.AuthHeader)
	}
	if cfg.Cursor != "" {
		req.Header.Set("X-Last-Cursor", cfg.Cursor)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poller: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poller: fetch returned status %d", resp.StatusCode)
	}

	var body pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("poller: decode response: %w", err)
	}

	raws := body.Statements
	if len(raws) > f.batchSize {
		raws = raws[:f.batchSize]
	}

	result := &FetchResult{NextCursor: body.NextCursor}
	for _, raw := range raws {
		var stmt Statement
		if err := json.Unmarshal(raw, &stmt); err != nil || stmt.ID == "" {
			continue
		}
		result.Statements = append(result.Statements, stmt)
		result.Raw = append(result.Raw, raw)
	}
	return result, nil
}
