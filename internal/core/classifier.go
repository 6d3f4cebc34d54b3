package core

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Template hints produced by classification. The extraction engine selects
// its rule parsers from these.
const (
	HintReceipt      = "receipt"
	HintSubscription = "subscription"
	HintApple        = "apple"
)

// Classification is the outcome of classifying a raw message.
type Classification struct {
	Relevant bool
	Hints    []string
}

var financeKeywords = []string{
	"receipt", "invoice", "payment", "charged", "order confirmation",
	"subscription", "renewal", "billing", "statement", "purchase",
}

var subscriptionKeywords = []string{
	"subscription", "renewal", "trial", "free trial", "recurring",
	"membership", "subscribe", "auto-renew", "active subscription",
	"subscribed", "plan",
}

var appleSenderMarkers = []string{"apple.com", "itunes.com", "appstore"}

var appleSubjectMarkers = []string{"receipt", "invoice", "your order", "app store", "purchase"}

// Classifier decides whether a message is finance-relevant and which
// extraction templates apply. Classification is deterministic for identical
// input and performs no I/O, so re-classification after a crash reproduces
// the same decision.
type Classifier struct {
	allowedDomains []string
	blockedDomains []string
	logger         *zap.Logger
}

// NewClassifier creates a classifier with normalized domain lists.
func NewClassifier(allowedDomains, blockedDomains []string, logger *zap.Logger) *Classifier {
	return &Classifier{
		allowedDomains: normalizeDomains(allowedDomains),
		blockedDomains: normalizeDomains(blockedDomains),
		logger:         logger,
	}
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func senderDomain(from string) string {
	addr := from
	if i := strings.LastIndex(from, "<"); i >= 0 {
		addr = strings.TrimRight(from[i+1:], ">")
	}
	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}

func domainListed(domain string, list []string) bool {
	for _, d := range list {
		if d == domain || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// Classify decides relevance and template hints for a message.
func (c *Classifier) Classify(msg *RawMessage) Classification {
	domain := senderDomain(msg.From)

	if domain != "" && domainListed(domain, c.blockedDomains) {
		c.logger.Debug("Sender domain is blocked",
			zap.String("domain", domain),
			zap.String("message_id", msg.ProviderID))
		return Classification{Relevant: false}
	}

	blob := strings.ToLower(msg.Subject + " " + msg.Snippet)

	keywordHit := false
	for _, k := range financeKeywords {
		if strings.Contains(blob, k) {
			keywordHit = true
			break
		}
	}

	hasAmount := amountPattern.MatchString(msg.Subject + " " + msg.Snippet)

	allowed := domain != "" && domainListed(domain, c.allowedDomains)
	if !keywordHit && !hasAmount && !allowed {
		return Classification{Relevant: false}
	}

	// List-Unsubscribe marks bulk mail; without a concrete amount it is a
	// promotion, not a record of a charge.
	if hasListUnsubscribe(msg.Headers) && !hasAmount && !allowed {
		return Classification{Relevant: false}
	}

	hints := []string{HintReceipt}
	for _, k := range subscriptionKeywords {
		if strings.Contains(blob, k) {
			hints = append(hints, HintSubscription)
			break
		}
	}
	if isAppleReceipt(msg.Subject, msg.From) {
		hints = append(hints, HintApple)
	}

	return Classification{Relevant: true, Hints: hints}
}

func hasListUnsubscribe(headers map[string]string) bool {
	for name := range headers {
		if strings.EqualFold(name, "List-Unsubscribe") {
			return true
		}
	}
	return false
}

func isAppleReceipt(subject, from string) bool {
	subj := strings.ToLower(subject)
	sender := strings.ToLower(from)

	senderHit := strings.Contains(subj, "apple")
	for _, m := range appleSenderMarkers {
		if strings.Contains(sender, m) {
			senderHit = true
			break
		}
	}
	if !senderHit {
		return false
	}
	for _, m := range appleSubjectMarkers {
		if strings.Contains(subj, m) {
			return true
		}
	}
	return false
}

// HasHint reports whether a classification carries the given template hint.
func (cl Classification) HasHint(hint string) bool {
	for _, h := range cl.Hints {
		if h == hint {
			return true
		}
	}
	return false
}
