package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Extractor is the two-tier extraction engine: deterministic rule parsers
// first, an optional LLM fallback second. A nil LLM client degrades the
// engine to rule-only output without blocking the pipeline.
type Extractor struct {
	llm            LLMClient
	logger         *zap.Logger
	ruleConfidence float64
	fallbackBelow  float64
	llmTimeout     time.Duration
}

// NewExtractor creates an extraction engine. llm may be nil.
func NewExtractor(llm LLMClient, logger *zap.Logger, ruleConfidence, fallbackBelow float64, llmTimeout time.Duration) *Extractor {
	return &Extractor{
		llm:            llm,
		logger:         logger,
		ruleConfidence: ruleConfidence,
		fallbackBelow:  fallbackBelow,
		llmTimeout:     llmTimeout,
	}
}

func overallConfidence(f FieldConfidence) float64 {
	return (f.Merchant + f.Amount + f.Date) / 3
}

// Extract produces candidate records for a classified message. It returns
// ErrNoExtraction (wrapped in ExtractionMismatch) when neither tier yields
// a usable record; the caller marks the message failed and continues.
func (e *Extractor) Extract(ctx context.Context, msg *RawMessage, cl Classification) ([]*ExtractedRecord, error) {
	rule := rulesExtract(msg, cl, e.ruleConfidence)

	var records []*ExtractedRecord
	if rule.HasAmount {
		records = append(records, e.ruleRecord(msg, rule))
	}

	needFallback := !rule.HasAmount || overallConfidence(rule.Fields) < e.fallbackBelow
	if needFallback && e.llm != nil {
		rec, err := e.llmRecord(ctx, msg)
		if err != nil {
			e.logger.Warn("LLM extraction failed",
				zap.String("message_id", msg.ProviderID),
				zap.Error(err))
		} else if rec != nil {
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return nil, &ExtractionMismatch{MessageID: msg.ProviderID, Err: ErrNoExtraction}
	}
	return records, nil
}

func (e *Extractor) ruleRecord(msg *RawMessage, rule ruleFields) *ExtractedRecord {
	kind := KindTransaction
	if rule.IsRecurring {
		kind = KindSubscription
	}
	return &ExtractedRecord{
		ID:          uuid.New(),
		MailboxID:   msg.MailboxID,
		MessageID:   msg.ProviderID,
		Kind:        kind,
		Merchant:    rule.Merchant,
		Amount:      rule.Amount,
		HasAmount:   rule.HasAmount,
		Currency:    rule.Currency,
		Date:        msg.InternalDate.UTC().Truncate(24 * time.Hour),
		Category:    rule.Category,
		IsRecurring: rule.IsRecurring,
		Fields:      rule.Fields,
		Confidence:  overallConfidence(rule.Fields),
		Method:      MethodRule,
		ExtractedAt: time.Now().UTC(),
	}
}

// llmRecord invokes the LLM tier under its own timeout and validates the
// response against the schema. Malformed output is a no-match, never fatal.
func (e *Extractor) llmRecord(ctx context.Context, msg *RawMessage) (*ExtractedRecord, error) {
	llmCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	ext, err := e.llm.ExtractTransaction(llmCtx, msg)
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}
	if ext == nil {
		return nil, nil
	}
	rec, err := recordFromLLM(msg, ext)
	if err != nil {
		e.logger.Warn("LLM output failed schema validation",
			zap.String("message_id", msg.ProviderID),
			zap.Error(err))
		return nil, nil
	}
	return rec, nil
}

func recordFromLLM(msg *RawMessage, ext *LLMExtraction) (*ExtractedRecord, error) {
	vendor := strings.TrimSpace(ext.Vendor)
	amountStr := strings.TrimSpace(ext.Amount)
	if vendor == "" && amountStr == "" {
		return nil, fmt.Errorf("llm output has neither vendor nor amount")
	}

	rec := &ExtractedRecord{
		ID:          uuid.New(),
		MailboxID:   msg.MailboxID,
		MessageID:   msg.ProviderID,
		Kind:        KindTransaction,
		Merchant:    vendor,
		Currency:    strings.ToUpper(strings.TrimSpace(ext.Currency)),
		Category:    strings.TrimSpace(ext.Category),
		IsRecurring: ext.IsSubscription,
		Method:      MethodLLM,
		ExtractedAt: time.Now().UTC(),
	}
	if ext.IsSubscription {
		rec.Kind = KindSubscription
	}

	if amountStr != "" {
		amount, err := decimal.NewFromString(strings.ReplaceAll(amountStr, ",", ""))
		if err != nil {
			return nil, fmt.Errorf("llm amount %q: %w", amountStr, err)
		}
		rec.Amount = amount
		rec.HasAmount = true
	}

	rec.Date = msg.InternalDate.UTC().Truncate(24 * time.Hour)
	if d, ok := parseISODate(ext.TransactionDate); ok {
		rec.Date = d
	}
	if d, ok := parseISODate(ext.TrialEndDate); ok {
		rec.TrialEnd = &d
	}
	if d, ok := parseISODate(ext.RenewalDate); ok {
		rec.RenewalDate = &d
	}

	rec.Fields = FieldConfidence{
		Merchant: clamp01(ext.Confidence.Vendor),
		Amount:   clamp01(ext.Confidence.Amount),
		Date:     clamp01(ext.Confidence.Date),
	}
	rec.Confidence = overallConfidence(rec.Fields)
	return rec, nil
}

func parseISODate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return d.UTC(), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
