package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// lineItem is one description+amount pair pulled out of a platform receipt
// body.
type lineItem struct {
	Description string
	Amount      decimal.Decimal
	HasAmount   bool
	Currency    string
}

var totalLineMarkers = []string{"total", "subtotal", "tax", "balance", "amount charged"}

func isTotalLine(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range totalLineMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// appleLineItem scans a plain-text Apple/App Store receipt body for the
// first purchased line item: a description followed by an amount on the
// same line, or an amount on the line after the description. Total and tax
// lines are skipped so the item name wins over the invoice summary.
func appleLineItem(body string) *lineItem {
	if body == "" {
		return nil
	}

	previous := ""
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		for _, m := range amountPattern.FindAllStringSubmatchIndex(line, -1) {
			desc := strings.Trim(line[:m[0]], " -:\t")
			if desc == "" && previous != "" {
				desc = strings.Trim(previous, " -:\t")
			}
			if desc == "" || isTotalLine(desc) || isTotalLine(line) {
				continue
			}
			currencyToken := strings.ToUpper(line[m[2]:m[3]])
			currency, ok := currencyMap[currencyToken]
			if !ok {
				currency = currencyMap[line[m[2]:m[3]]]
			}
			amount, ok := parseAmount(line[m[4]:m[5]])
			if !ok {
				continue
			}
			if len(desc) > 256 {
				desc = desc[:256]
			}
			return &lineItem{
				Description: desc,
				Amount:      amount,
				HasAmount:   true,
				Currency:    currency,
			}
		}
		previous = line
	}
	return nil
}
