package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receiptMessage() *RawMessage {
	return &RawMessage{
		ProviderID:   "msg-1",
		From:         `"Netflix" <info@netflix.com>`,
		Subject:      "Your receipt from Netflix",
		Snippet:      "We charged $15.49 for your subscription.",
		InternalDate: time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC),
	}
}

func receiptClassification() Classification {
	return Classification{Relevant: true, Hints: []string{HintReceipt, HintSubscription}}
}

func TestExtractRuleTierSucceedsWithoutLLM(t *testing.T) {
	e := NewExtractor(nil, zap.NewNop(), 0.85, 0.6, time.Second)

	records, err := e.Extract(context.Background(), receiptMessage(), receiptClassification())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, MethodRule, rec.Method)
	assert.Equal(t, KindSubscription, rec.Kind)
	assert.True(t, rec.HasAmount)
	assert.Equal(t, "15.49", rec.Amount.String())
	assert.Equal(t, time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC), rec.Date)
}

func TestExtractFallsBackToLLMWhenRulesFindNoAmount(t *testing.T) {
	ext := &LLMExtraction{
		Vendor:          "Acme Cloud",
		Amount:          "42.00",
		Currency:        "usd",
		TransactionDate: "2026-03-09",
		IsSubscription:  true,
	}
	ext.Confidence.Vendor = 0.9
	ext.Confidence.Amount = 0.8
	ext.Confidence.Date = 0.7
	llm := &fakeLLM{extraction: ext}
	e := NewExtractor(llm, zap.NewNop(), 0.85, 0.6, time.Second)

	msg := receiptMessage()
	msg.Snippet = "Thank you for your payment."

	records, err := e.Extract(context.Background(), msg, receiptClassification())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, llm.extractCalls)

	rec := records[0]
	assert.Equal(t, MethodLLM, rec.Method)
	assert.Equal(t, "Acme Cloud", rec.Merchant)
	assert.Equal(t, "42", rec.Amount.String())
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, KindSubscription, rec.Kind)
	assert.Equal(t, time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC), rec.Date)
}

func TestExtractSkipsLLMWhenRuleConfidenceHigh(t *testing.T) {
	llm := &fakeLLM{}
	// Low fallback threshold: the rule record's confidence clears it.
	e := NewExtractor(llm, zap.NewNop(), 0.9, 0.2, time.Second)

	records, err := e.Extract(context.Background(), receiptMessage(), receiptClassification())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, llm.extractCalls)
}

func TestExtractNoMatchAndNilLLM(t *testing.T) {
	e := NewExtractor(nil, zap.NewNop(), 0.85, 0.6, time.Second)

	msg := receiptMessage()
	msg.Snippet = "No numbers here."

	_, err := e.Extract(context.Background(), msg, receiptClassification())
	var mismatch *ExtractionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.ErrorIs(t, err, ErrNoExtraction)
}

func TestExtractLLMFailureIsNotFatal(t *testing.T) {
	llm := &fakeLLM{extractErr: errors.New("model unavailable")}
	e := NewExtractor(llm, zap.NewNop(), 0.85, 0.6, time.Second)

	msg := receiptMessage()
	msg.Snippet = "Thank you for your payment."

	_, err := e.Extract(context.Background(), msg, receiptClassification())
	var mismatch *ExtractionMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestExtractLLMNullMeansNoRecord(t *testing.T) {
	llm := &fakeLLM{extraction: nil}
	e := NewExtractor(llm, zap.NewNop(), 0.85, 0.6, time.Second)

	msg := receiptMessage()
	msg.Snippet = "Thank you for your payment."

	_, err := e.Extract(context.Background(), msg, receiptClassification())
	var mismatch *ExtractionMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestRecordFromLLMValidation(t *testing.T) {
	msg := receiptMessage()

	_, err := recordFromLLM(msg, &LLMExtraction{})
	assert.Error(t, err)

	_, err = recordFromLLM(msg, &LLMExtraction{Vendor: "Acme", Amount: "not-a-number"})
	assert.Error(t, err)

	rec, err := recordFromLLM(msg, &LLMExtraction{Vendor: "Acme", Amount: "1,042.50"})
	require.NoError(t, err)
	assert.Equal(t, "1042.5", rec.Amount.String())
	// No transaction date in the output: the message date anchors the record.
	assert.Equal(t, time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC), rec.Date)
}

func TestRecordFromLLMClampsConfidence(t *testing.T) {
	ext := &LLMExtraction{Vendor: "Acme"}
	ext.Confidence.Vendor = 1.7
	ext.Confidence.Amount = -0.3
	ext.Confidence.Date = 0.5

	rec, err := recordFromLLM(receiptMessage(), ext)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Fields.Merchant)
	assert.Equal(t, 0.0, rec.Fields.Amount)
	assert.Equal(t, 0.5, rec.Fields.Date)
}
