package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var scamKeywords = []string{
	"gift card", "bitcoin", "crypto", "urgent", "suspended",
	"account locked", "reset password", "verification code",
}

// anomalyVerdict explains why an amount stood out from its baseline.
type anomalyVerdict struct {
	ZScore     float64
	KeywordHit bool
	Reason     string
}

// detectAnomaly scores a fact's amount against the merchant's historical
// amounts. A deviation beyond zThreshold standard deviations, or a scam
// keyword in the merchant string, flags the revision. Baselines smaller
// than minHistory never produce an amount anomaly.
func detectAnomaly(fact *FinancialFact, history []decimal.Decimal, zThreshold float64, minHistory int) *anomalyVerdict {
	var reasons []string
	verdict := anomalyVerdict{}

	if z := amountZScore(fact.Amount, history, minHistory); z >= zThreshold {
		verdict.ZScore = z
		reasons = append(reasons, "amount deviates sharply from this merchant's usual charge")
	}

	lower := strings.ToLower(fact.Merchant)
	for _, kw := range scamKeywords {
		if strings.Contains(lower, kw) {
			verdict.KeywordHit = true
			reasons = append(reasons, "suspicious wording in the merchant name")
			break
		}
	}

	if len(reasons) == 0 {
		return nil
	}
	verdict.Reason = strings.Join(reasons, "; ")
	return &verdict
}

func amountZScore(amount decimal.Decimal, history []decimal.Decimal, minHistory int) float64 {
	if len(history) < minHistory {
		return 0
	}
	values := make([]float64, len(history))
	var sum float64
	for i, h := range history {
		v, _ := h.Float64()
		values[i] = v
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	stdev := math.Sqrt(sq / float64(len(values)))
	if stdev <= 0 {
		return 0
	}
	a, _ := amount.Float64()
	return math.Abs((a - mean) / stdev)
}
