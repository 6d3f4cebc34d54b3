package core

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountPattern matches a currency marker followed by an amount, e.g.
// "$15.49", "USD 12.00", "EUR 9,99", "$1,234.56". Grouped thousands come
// first in the alternation so "1,234.56" is not cut off at the comma.
var amountPattern = regexp.MustCompile(`(?i)(\$|USD|AUD|EUR|GBP)\s?((?:\d{1,3}(?:,\d{3})+(?:\.\d{2})?)|(?:\d{1,6}(?:[\.,]\d{2})?))`)

// groupedThousands recognizes amounts whose commas separate thousands
// rather than mark the decimal point.
var groupedThousands = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d{2})?$`)

var currencyMap = map[string]string{
	"$":   "USD",
	"USD": "USD",
	"AUD": "AUD",
	"EUR": "EUR",
	"GBP": "GBP",
}

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"Transport", []string{"uber", "lyft", "taxi"}},
	{"Entertainment", []string{"netflix", "spotify", "hulu", "prime video", "disney"}},
	{"Software", []string{"saas", "license", "cloud", "hosting"}},
}

// ruleFields is the output of the rule extraction tier before it is shaped
// into an ExtractedRecord.
type ruleFields struct {
	Merchant    string
	Amount      decimal.Decimal
	HasAmount   bool
	Currency    string
	Category    string
	IsRecurring bool
	Fields      FieldConfidence
}

func parseAmount(s string) (decimal.Decimal, bool) {
	if groupedThousands.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		// A lone comma is a decimal mark, e.g. "9,99".
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func matchAmount(text string) (decimal.Decimal, string, bool) {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, "", false
	}
	currency, ok := currencyMap[strings.ToUpper(m[1])]
	if !ok {
		currency = currencyMap[m[1]]
	}
	amount, ok := parseAmount(m[2])
	if !ok {
		return decimal.Zero, "", false
	}
	return amount, currency, true
}

// vendorFromSender extracts a display name from a From header, e.g.
// `"Netflix" <info@netflix.com>` yields "Netflix".
func vendorFromSender(from string) string {
	name := from
	if i := strings.Index(from, "<"); i >= 0 {
		name = from[:i]
	}
	name = strings.Trim(strings.TrimSpace(name), `"`)
	if len(name) > 256 {
		name = name[:256]
	}
	return name
}

func matchCategory(blob string) string {
	for _, c := range categoryKeywords {
		for _, k := range c.keywords {
			if strings.Contains(blob, k) {
				return c.category
			}
		}
	}
	return ""
}

func matchRecurring(blob string) bool {
	for _, k := range subscriptionKeywords {
		if strings.Contains(blob, k) {
			return true
		}
	}
	return false
}

// rulesExtract runs the deterministic rule tier over a message. It never
// fails; absent fields are reported through zero confidence.
func rulesExtract(msg *RawMessage, cl Classification, ruleConfidence float64) ruleFields {
	out := ruleFields{}

	out.Merchant = vendorFromSender(msg.From)
	if out.Merchant != "" {
		out.Fields.Merchant = ruleConfidence * 0.6
	}

	if amount, currency, ok := matchAmount(msg.Subject + " " + msg.Snippet); ok {
		out.Amount = amount
		out.HasAmount = true
		out.Currency = currency
		out.Fields.Amount = ruleConfidence
	}

	if cl.HasHint(HintApple) {
		if item := appleLineItem(msg.Body); item != nil {
			// Platform receipts name the purchased service, not Apple.
			out.Merchant = item.Description
			out.Fields.Merchant = ruleConfidence
			if !out.HasAmount && item.HasAmount {
				out.Amount = item.Amount
				out.HasAmount = true
				out.Currency = item.Currency
				out.Fields.Amount = ruleConfidence
			}
		}
	}

	blob := strings.ToLower(msg.Subject + " " + msg.Snippet)
	// The vendor name often appears only in the From header, so the
	// merchant joins the category scan.
	out.Category = matchCategory(strings.ToLower(out.Merchant) + " " + blob)
	out.IsRecurring = matchRecurring(blob)
	if !msg.InternalDate.IsZero() {
		out.Fields.Date = ruleConfidence
	}

	return out
}
