package core

import (
	"sort"
	"time"
)

// Cadence bounds: gaps shorter than a week or longer than ~13 months are
// too weird to treat as a billing cycle.
const (
	minCadenceDays = 7
	maxCadenceDays = 400
)

// inferCadenceDays returns the median gap in days between charge dates for
// one merchant, or 0 when no plausible cycle exists.
func inferCadenceDays(dates []time.Time) int {
	if len(dates) < 2 {
		return 0
	}
	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]int, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		g := int(sorted[i].Sub(sorted[i-1]).Hours() / 24)
		if g > 0 {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	sort.Ints(gaps)
	median := gaps[len(gaps)/2]
	if median < minCadenceDays || median > maxCadenceDays {
		return 0
	}
	return median
}

// rollForward advances a predicted renewal past missed cycles so the next
// trigger is never in the past. Bounded to avoid spinning on bad input.
func rollForward(from time.Time, gapDays int, today time.Time) time.Time {
	if gapDays <= 0 {
		return from
	}
	d := from
	for i := 0; i < 24 && d.Before(today); i++ {
		d = d.AddDate(0, 0, gapDays)
	}
	return d
}

// nextRenewalFor predicts when a subscription fact renews next: an explicit
// future renewal date wins, then the trial end, then cadence prediction
// from the last charge date.
func nextRenewalFor(fact *FinancialFact, today time.Time) (time.Time, bool) {
	if fact.NextRenewal != nil && !fact.NextRenewal.Before(today) {
		return *fact.NextRenewal, true
	}
	if fact.TrialEnd != nil && !fact.TrialEnd.Before(today) {
		return *fact.TrialEnd, true
	}
	if fact.RecurrenceDays > 0 && !fact.Date.IsZero() {
		return rollForward(fact.Date.AddDate(0, 0, fact.RecurrenceDays), fact.RecurrenceDays, today), true
	}
	return time.Time{}, false
}
