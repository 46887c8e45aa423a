package parser

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/ibimina/saccopay/internal/models"
)

// ErrNoMatch is returned when no known provider pattern matches the text.
var ErrNoMatch = errors.New("no deterministic pattern matched")

// mtnPatterns cover the MTN Rwanda MoMo receipt formats seen in production.
// Named groups keep the field mapping stable as patterns are added.
var mtnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)You have received RWF (?P<amount>[0-9,]+) from (?P<msisdn>\d{10}) \((?P<payer>[^)]+)\)\. Ref:? (?P<ref>[A-Z0-9.]+)\. Balance: RWF [0-9,]+\. Txn ID:? (?P<txn>[A-Z0-9]+)`),
	regexp.MustCompile(`(?i)Received RWF (?P<amount>[0-9,]+) from (?P<msisdn>\+?250\d{9})\. Ref:? (?P<ref>[A-Z0-9.]+)\. ID:? (?P<txn>[A-Z0-9]+)`),
	regexp.MustCompile(`(?i)RWF (?P<amount>[0-9,]+) received from (?P<msisdn>\d{10})\. Reference:? (?P<ref>[A-Z0-9.]+)\. Transaction:? (?P<txn>[A-Z0-9]+)`),
}

// RegexStrategy is the deterministic first tier.
type RegexStrategy struct{}

func NewRegexStrategy() *RegexStrategy { return &RegexStrategy{} }

func (s *RegexStrategy) Name() string { return "regex" }

func (s *RegexStrategy) Parse(_ context.Context, rawText string, receivedAt time.Time) (*models.ParsedTransaction, error) {
	for _, pattern := range mtnPatterns {
		match := pattern.FindStringSubmatch(rawText)
		if match == nil {
			continue
		}

		fields := make(map[string]string, len(match))
		for i, name := range pattern.SubexpNames() {
			if name != "" {
				fields[name] = match[i]
			}
		}

		amount, err := ParseAmount(fields["amount"])
		if err != nil {
			return nil, err
		}

		return &models.ParsedTransaction{
			Msisdn:     NormalizeMsisdn(fields["msisdn"]),
			Amount:     amount,
			TxnID:      fields["txn"],
			OccurredAt: receivedAt,
			Reference:  fields["ref"],
			PayerName:  fields["payer"],
			Confidence: regexConfidence,
			Source:     models.ParseSourceRegex,
		}, nil
	}
	return nil, ErrNoMatch
}
