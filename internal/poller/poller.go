// Package poller pulls statement batches from configured external sources,
// stages each row with dedupe, and queues exactly one reconciliation job per
// newly staged row. A per-source circuit breaker keeps one failing provider
// from burning the whole batch.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

var retryDelays = []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond}

// Poller drives one polling pass over every active source.
type Poller struct {
	store   storage.PollerStore
	fetcher Fetcher
	breaker *CircuitBreaker
	metrics metrics.Recorder
	log     zerolog.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// Config collects the poller dependencies. Breaker is optional; a fresh one
// is created when absent.
type Config struct {
	Store   storage.PollerStore
	Fetcher Fetcher
	Breaker *CircuitBreaker
	Metrics metrics.Recorder
	Logger  zerolog.Logger
}

func New(cfg Config) *Poller {
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = NewCircuitBreaker()
	}
	return &Poller{
		store:   cfg.Store,
		fetcher: cfg.Fetcher,
		breaker: breaker,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunStats summarizes one polling pass.
type RunStats struct {
	Processed int
	Staged    int
	Jobs      int
	Failures  int
}

// RunOnce polls every active source sequentially. A failing source is
// recorded and skipped; it never aborts the rest of the batch.
func (p *Poller) RunOnce(ctx context.Context) (RunStats, error) {
	pollers, err := p.store.ListActivePollers(ctx)
	if err != nil {
		return RunStats{}, fmt.Errorf("poller: list active: %w", err)
	}

	var stats RunStats
	for _, cfg := range pollers {
		stats.Processed++
		staged, jobs, err := p.pollSource(ctx, cfg)
		if err != nil {
			stats.Failures++
			p.log.Error().Err(err).
				Str("poller_id", cfg.ID.String()).
				Str("provider", cfg.Provider).
				Msg("Poll failed")
			if recErr := p.store.RecordPollerError(ctx, cfg.ID, err.Error(), p.now()); recErr != nil {
				p.log.Error().Err(recErr).Str("poller_id", cfg.ID.String()).Msg("Record poller error failed")
			}
			p.metrics.Record(ctx, metrics.PollFailure, 1, map[string]any{"poller_id": cfg.ID.String()})
			continue
		}
		stats.Staged += staged
		stats.Jobs += jobs
	}
	return stats, nil
}

func (p *Poller) pollSource(ctx context.Context, cfg *models.PollerConfig) (staged, jobs int, err error) {
	result, err := p.fetchWithPolicies(ctx, cfg)
	if err != nil {
		return 0, 0, err
	}

	var totalLatency int64
	var latencySamples int64

	for i, stmt := range result.Statements {
		latency := p.ingestionLatency(stmt.OccurredAt)
		if latency != nil && *latency > 0 {
			totalLatency += *latency
			latencySamples++
		}

		row := &models.StagingRow{
			ID:         uuid.New(),
			PollerID:   cfg.ID,
			SaccoID:    cfg.SaccoID,
			ExternalID: stmt.ID,
			Payload:    result.Raw[i],
			LatencyMs:  latency,
			PolledAt:   p.now(),
			Status:     models.StagingStatusNew,
		}
		insertErr := p.store.InsertStagingRow(ctx, row)
		if errors.Is(insertErr, storage.ErrDuplicate) {
			p.log.Info().
				Str("poller_id", cfg.ID.String()).
				Str("external_id", stmt.ID).
				Msg("Statement already staged")
			continue
		}
		if insertErr != nil {
			return staged, jobs, fmt.Errorf("poller: stage statement: %w", insertErr)
		}
		staged++

		job := &models.ReconciliationJob{
			ID:        uuid.New(),
			StagingID: row.ID,
			SaccoID:   cfg.SaccoID,
			JobType:   "STATEMENT_SYNC",
			Status:    models.ReconJobStatusPending,
			QueuedAt:  p.now(),
			Meta: map[string]string{
				"pollerId": cfg.ID.String(),
				"provider": cfg.Provider,
			},
		}
		if err := p.store.InsertReconJob(ctx, job); err != nil {
			return staged, jobs, fmt.Errorf("poller: queue recon job: %w", err)
		}
		if err := p.store.MarkStagingQueued(ctx, row.ID, job.ID); err != nil {
			return staged, jobs, fmt.Errorf("poller: mark staging queued: %w", err)
		}
		jobs++
	}

	cursor := result.NextCursor
	if cursor == "" {
		cursor = cfg.Cursor
	}
	var avgLatency *int64
	if latencySamples > 0 {
		avg := totalLatency / latencySamples
		avgLatency = &avg
	}
	if err := p.store.UpdatePollerResult(ctx, cfg.ID, cursor, avgLatency, len(result.Statements), p.now()); err != nil {
		return staged, jobs, fmt.Errorf("poller: update poller: %w", err)
	}

	if len(result.Statements) > 0 {
		p.metrics.Record(ctx, metrics.StatementsPolled, float64(len(result.Statements)), map[string]any{
			"poller_id": cfg.ID.String(),
			"provider":  cfg.Provider,
		})
	}
	if avgLatency != nil {
		p.metrics.Record(ctx, metrics.PollLatencyMs, float64(*avgLatency), map[string]any{
			"poller_id": cfg.ID.String(),
		})
	}
	return staged, jobs, nil
}

// fetchWithPolicies wraps one fetch in the circuit breaker and the fixed
// retry schedule. A success resets the breaker; every failed attempt feeds
// it.
func (p *Poller) fetchWithPolicies(ctx context.Context, cfg *models.PollerConfig) (*FetchResult, error) {
	if allowed, retryIn := p.breaker.Allow(cfg.ID); !allowed {
		return nil, fmt.Errorf("poller: circuit open for source %s, retry in %s", cfg.ID, retryIn.Round(time.Second))
	}

	var lastErr error
	for attempt, delay := range retryDelays {
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
		result, err := p.fetcher.FetchStatements(ctx, cfg)
		if err == nil {
			p.breaker.Reset(cfg.ID)
			return result, nil
		}
		lastErr = err
		failures := p.breaker.RecordFailure(cfg.ID)
		p.log.Warn().Err(err).
			Str("poller_id", cfg.ID.String()).
			Int("attempt", attempt+1).
			Int("consecutive_failures", failures).
			Msg("Statement fetch attempt failed")
	}
	return nil, fmt.Errorf("poller: fetch exhausted retries: %w", lastErr)
}

func (p *Poller) ingestionLatency(occurredAt string) *int64 {
	if occurredAt == "" {
		return nil
	}
	occurred, err := time.Parse(time.RFC3339, occurredAt)
	if err != nil {
		return nil
	}
	ms := p.now().Sub(occurred).Milliseconds()
	return &ms
}
