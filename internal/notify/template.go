package notify

import (
	"fmt"
	"regexp"
)

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// defaultBodies cover events queued by the pipeline itself, which carry no
// template reference.
var defaultBodies = map[string]string{
	"RECON_ESCALATION": "Payment {reference} received on {occurredAt} is still {status}. Please review payment {paymentId}.",
	"PAYMENT_POSTED":   "Your payment of {amount} {currency} (ref {reference}) has been received. Thank you.",
}

// RenderTemplate substitutes {token} placeholders with payload values.
// Unknown tokens render empty, matching how operators expect partially
// filled payloads to degrade.
func RenderTemplate(body string, payload map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(body, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := payload[key]
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	})
}
