package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMerchant(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and trims", "  Netflix  ", "netflix"},
		{"strips accents", "Café Noir", "cafe noir"},
		{"drops noise tokens", "Spotify Subscription Receipt", "spotify"},
		{"drops trailing order number", "Uber Trip 48213", "uber trip"},
		{"separators collapse", "ACME-Corp|Billing", "acme corp"},
		{"caps token count", "one two three four five six seven eight", "one two three four five six"},
		{"all noise falls back to raw", "Receipt", "receipt"},
		{"empty stays empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMerchant(tt.in))
		})
	}
}

func TestNormalizeMerchantStableAcrossVariants(t *testing.T) {
	variants := []string{
		"Netflix",
		"NETFLIX",
		"Netflix receipt",
		"Netflix - Payment",
		"netflix 4821",
	}
	for _, v := range variants {
		assert.Equal(t, "netflix", NormalizeMerchant(v), "variant %q", v)
	}
}
