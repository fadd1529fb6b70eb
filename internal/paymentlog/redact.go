// Package paymentlog records every gateway interaction as an audit row with
// sensitive payload fields redacted before they touch storage.
package paymentlog

import (
	"strings"
	"unicode"
)

const redactedPlaceholder = "[REDACTED]"

// cardNumberKeys get masked down to their last four digits so receipts stay
// matchable; everything in redactedKeys is replaced outright.
var (
	cardNumberKeys = map[string]struct{}{
		"cardnumber":    {},
		"number":        {},
		"pan":           {},
		"accountnumber": {},
	}
	redactedKeys = map[string]struct{}{
		"cvv":           {},
		"cvc":           {},
		"securitycode":  {},
		"password":      {},
		"secret":        {},
		"token":         {},
		"accesstoken":   {},
		"authorization": {},
		"apikey":        {},
	}
)

// Sanitize walks a payload tree and returns a copy with sensitive values
// redacted. Sibling fields are left untouched; the input is never mutated.
func Sanitize(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = sanitizeValue(key, value)
	}
	return out
}

func sanitizeValue(key string, value any) any {
	normalized := normalizeKey(key)
	if _, ok := redactedKeys[normalized]; ok {
		return redactedPlaceholder
	}
	if _, ok := cardNumberKeys[normalized]; ok {
		if s, isString := value.(string); isString {
			return maskCardNumber(s)
		}
		return redactedPlaceholder
	}

	switch v := value.(type) {
	case map[string]any:
		return Sanitize(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue("", item)
		}
		return out
	default:
		return value
	}
}

func normalizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// maskCardNumber keeps the last four digits of anything that looks like a
// card number. Shorter or non-numeric values are fully redacted.
func maskCardNumber(s string) string {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) < 10 {
		return redactedPlaceholder
	}
	return "****" + string(digits[len(digits)-4:])
}
