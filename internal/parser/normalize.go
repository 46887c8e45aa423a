package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flexString accepts either a JSON string or a JSON number, since models
// return amounts in both shapes despite the schema.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// NormalizeMsisdn converts the Rwandan phone formats seen in provider
// messages to E.164. Unrecognized shapes are returned unchanged so the raw
// value is preserved for review.
func NormalizeMsisdn(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return value
	}

	digits := strings.TrimPrefix(cleaned, "+")
	switch {
	case strings.HasPrefix(cleaned, "+"):
		return "+" + digits
	case strings.HasPrefix(cleaned, "2507"):
		return "+" + cleaned
	case strings.HasPrefix(cleaned, "07"):
		return "+250" + cleaned[1:]
	case strings.HasPrefix(cleaned, "7") && len(cleaned) == 9:
		return "+250" + cleaned
	}
	return value
}

// ParseAmount parses an amount string with optional thousands separators
// into integer minor units. Zero, negative and non-numeric amounts fail.
func ParseAmount(value string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	if n <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %d", n)
	}
	return n, nil
}

// ClampConfidence bounds a model-reported confidence to [0,1], substituting
// fallback when the value is absent or not numeric.
func ClampConfidence(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	c := *value
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// timestampOr parses an ISO timestamp, falling back to receivedAt when the
// value is empty or malformed.
func timestampOr(value string, receivedAt time.Time) time.Time {
	if value == "" {
		return receivedAt
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return receivedAt
}
