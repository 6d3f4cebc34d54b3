package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var noiseTokens = map[string]struct{}{
	"payment": {}, "payments": {}, "purchase": {}, "purchases": {},
	"receipt": {}, "invoice": {}, "order": {}, "confirm": {},
	"confirmation": {}, "subscription": {}, "subs": {}, "billing": {},
	"bill": {}, "charges": {},
}

var separatorReplacer = strings.NewReplacer(
	"•", " ", "·", " ", "|", " ", "/", " ", "\\", " ", ",", " ",
	";", " ", "—", " ", "-", " ", "_", " ", ":", " ", "(", " ",
	")", " ", "[", " ", "]", " ", "{", " ", "}", " ", "*", " ",
)

// accentStripper removes combining marks after NFD decomposition so
// "Café Noir" and "Cafe Noir" normalize to the same key.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeMerchant reduces a raw vendor string to a stable grouping key so
// recurring charges for the same merchant land on the same dedup key.
// Conservative on purpose: over-merging corrupts facts, under-merging only
// splits them.
func NormalizeMerchant(v string) string {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" {
		return ""
	}

	if folded, _, err := transform.String(accentStripper, s); err == nil {
		s = folded
	}
	s = separatorReplacer.Replace(s)

	parts := make([]string, 0, 8)
	for _, p := range strings.Fields(s) {
		if _, noise := noiseTokens[p]; noise {
			continue
		}
		parts = append(parts, p)
	}

	// Trailing digits are usually a card suffix or order number.
	for len(parts) > 0 && isDigits(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}

	if len(parts) > 6 {
		parts = parts[:6]
	}
	key := strings.Join(parts, " ")
	if key == "" {
		return s
	}
	return key
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
