package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPrefixForRoundsToCurrencyMinorUnit(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     string
	}{
		{"usd two decimals", "15.494", "USD", "15.49"},
		{"usd rounds up", "15.495", "USD", "15.5"},
		{"jpy whole units", "1500.4", "JPY", "1500"},
		{"kwd three decimals", "1.2345", "KWD", "1.235"},
		{"unlisted currency defaults to two", "9.999", "XXX", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &ExtractedRecord{
				Merchant:  "Spotify",
				Amount:    decimal.RequireFromString(tt.amount),
				HasAmount: true,
				Currency:  tt.currency,
				Kind:      KindSubscription,
			}
			p := PrefixFor(rec)
			assert.Equal(t, tt.want, p.Amount)
		})
	}
}

func TestPrefixForWithoutAmount(t *testing.T) {
	rec := &ExtractedRecord{Merchant: "Spotify", Kind: KindTransaction}
	p := PrefixFor(rec)
	assert.Equal(t, "spotify", p.MerchantKey)
	assert.Equal(t, "", p.Amount)
	assert.Equal(t, "spotify|||transaction", p.String())
}

func TestPrefixForIsReproducible(t *testing.T) {
	rec := &ExtractedRecord{
		Merchant:  "Café Noir payment 1234",
		Amount:    decimal.RequireFromString("9.99"),
		HasAmount: true,
		Currency:  "EUR",
		Kind:      KindTransaction,
	}
	a := PrefixFor(rec)
	b := PrefixFor(rec)
	assert.Equal(t, a, b)
	assert.Equal(t, "cafe noir|9.99|EUR|transaction", a.String())
}

func TestKeyForAppendsDateBucket(t *testing.T) {
	p := DedupPrefix{MerchantKey: "netflix", Amount: "15.49", Currency: "USD", Kind: KindSubscription}

	anchor := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	key := p.KeyFor(anchor, 3)
	assert.Contains(t, key, "netflix|15.49|USD|subscription|")

	// Same bucket for a nearby date, different bucket far away.
	assert.Equal(t, key, p.KeyFor(anchor.Add(time.Hour), 3))
	assert.NotEqual(t, key, p.KeyFor(anchor.AddDate(0, 1, 0), 3))
}

func TestWithinWindow(t *testing.T) {
	a := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, withinWindow(a, a.AddDate(0, 0, 3), 3))
	assert.True(t, withinWindow(a.AddDate(0, 0, 3), a, 3))
	assert.False(t, withinWindow(a, a.AddDate(0, 0, 4), 3))
	assert.True(t, withinWindow(a, a, 0))
}

func TestRoundedAmount(t *testing.T) {
	assert.Equal(t, "100", RoundedAmount(decimal.RequireFromString("99.6"), "JPY").String())
	assert.Equal(t, "99.6", RoundedAmount(decimal.RequireFromString("99.6"), "USD").String())
}
