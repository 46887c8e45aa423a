// Package parser extracts structured transactions from raw mobile-money
// notification text. A deterministic pattern tier runs first; model-based
// tiers are the fallback for provider formats the patterns do not cover.
package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ibimina/saccopay/internal/models"
)

// Confidence assigned per tier. Deterministic matches are trusted highest;
// model output carries a fixed baseline that the model itself may lower.
const (
	regexConfidence = 0.95
	modelConfidence = 0.85

	// modelFallbackThreshold is the confidence below which a deterministic
	// match is handed to the model tiers anyway.
	modelFallbackThreshold = 0.9
)

// Strategy is one parse tier. A nil transaction with a nil error is not a
// valid return; tiers either produce a candidate or fail.
type Strategy interface {
	Name() string
	Parse(ctx context.Context, rawText string, receivedAt time.Time) (*models.ParsedTransaction, error)
}

// ParseFailure reports that every tier failed, with the per-tier reasons
// joined for the review queue.
type ParseFailure struct {
	Reasons []string
}

func (e *ParseFailure) Error() string {
	return "all parsers failed: " + strings.Join(e.Reasons, "; ")
}

// Chain runs the deterministic tier, then each model tier in order until one
// succeeds.
type Chain struct {
	deterministic Strategy
	modelTiers    []Strategy
}

// NewChain builds the standard chain. modelTiers run in the given order when
// the deterministic tier misses or is below the fallback threshold.
func NewChain(deterministic Strategy, modelTiers ...Strategy) *Chain {
	return &Chain{deterministic: deterministic, modelTiers: modelTiers}
}

// Parse returns the first acceptable candidate. The parser has no side
// effects; callers persist the result.
func (c *Chain) Parse(ctx context.Context, rawText string, receivedAt time.Time) (*models.ParsedTransaction, error) {
	var reasons []string

	parsed, err := c.deterministic.Parse(ctx, rawText, receivedAt)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("%s: %v", c.deterministic.Name(), err))
	} else if parsed.Confidence >= modelFallbackThreshold {
		return parsed, nil
	} else {
		reasons = append(reasons, fmt.Sprintf("%s: confidence %.2f below threshold", c.deterministic.Name(), parsed.Confidence))
	}

	for _, tier := range c.modelTiers {
		parsed, err := tier.Parse(ctx, rawText, receivedAt)
		if err == nil {
			return parsed, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %v", tier.Name(), err))
	}

	return nil, &ParseFailure{Reasons: reasons}
}
