package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// minorUnits maps currency codes to their minor-unit scale for amount
// rounding in the dedup key. Unlisted currencies default to 2.
var minorUnits = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
}

func minorUnitScale(currency string) int32 {
	if s, ok := minorUnits[currency]; ok {
		return s
	}
	return 2
}

// DedupPrefix identifies a real-world financial event independent of its
// exact date: normalized merchant + amount rounded to the currency minor
// unit + record kind. The full dedup key appends the date bucket of the
// fact's anchor date. Per-key reconciliation locks are taken on the prefix
// so date-window matching stays single-writer.
type DedupPrefix struct {
	MerchantKey string
	Amount      string
	Currency    string
	Kind        RecordKind
}

// PrefixFor derives the dedup prefix of a candidate record. Derivation is a
// pure function of the record, reproducible across process restarts.
func PrefixFor(rec *ExtractedRecord) DedupPrefix {
	amount := ""
	if rec.HasAmount {
		amount = rec.Amount.Round(minorUnitScale(rec.Currency)).String()
	}
	return DedupPrefix{
		MerchantKey: NormalizeMerchant(rec.Merchant),
		Amount:      amount,
		Currency:    rec.Currency,
		Kind:        rec.Kind,
	}
}

func (p DedupPrefix) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", p.MerchantKey, p.Amount, p.Currency, p.Kind)
}

// KeyFor derives the full dedup key for a fact anchored at the given date.
func (p DedupPrefix) KeyFor(anchor time.Time, windowDays int) string {
	return fmt.Sprintf("%s|%d", p.String(), dateBucket(anchor, windowDays))
}

// dateBucket buckets a date by the configured window so the key derivation
// stays reproducible. Matching against existing facts uses the actual
// ±window comparison; the bucket only anchors the stored key.
func dateBucket(t time.Time, windowDays int) int64 {
	if windowDays <= 0 {
		windowDays = 1
	}
	days := t.UTC().Unix() / (24 * 60 * 60)
	return days / int64(windowDays)
}

// withinWindow reports whether two dates fall within ±windowDays of each
// other.
func withinWindow(a, b time.Time, windowDays int) bool {
	diff := a.UTC().Sub(b.UTC())
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(windowDays)*24*time.Hour
}

// RoundedAmount exposes the dedup rounding for display and tests.
func RoundedAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(minorUnitScale(currency))
}
