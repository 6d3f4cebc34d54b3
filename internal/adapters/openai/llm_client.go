package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/core"
	"github.com/finpilot/mail-finance-pilot/internal/utils"
)

// OpenAIClient is an implementation of the LLMClient interface using OpenAI
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
	extractFormat string
	rewriteFormat string
}

// rewriteResponse is the structured rewrite output from the LLM
type rewriteResponse struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClient {
	client := openai.NewClient(apiKey)

	return &OpenAIClient{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		extractFormat: extractPromptFormat,
		rewriteFormat: rewritePromptFormat,
	}
}

const extractPromptFormat = `You extract structured financial transaction data from emails.
Respond with a JSON object containing:
- vendor: string (merchant name)
- amount: string (decimal amount, e.g. "12.99")
- currency: string (ISO 4217 code, e.g. "USD")
- transaction_date: string (YYYY-MM-DD)
- category: string (one of software, entertainment, food, transport, utilities, shopping, other)
- is_subscription: boolean (true for recurring charges)
- trial_end_date: string (YYYY-MM-DD, or empty if none)
- renewal_date: string (YYYY-MM-DD, or empty if none)
- confidence: object with vendor, amount and date numbers between 0 and 1

If the email is not a receipt, invoice or subscription notice, respond with exactly: null

Email:
From: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

const rewritePromptFormat = `You rewrite customer service emails. Rewrite the following draft in a %s tone.
Keep every factual detail (amounts, dates, merchant names) unchanged.
Respond with a JSON object containing:
- subject: string
- body: string

Draft subject: %s
Draft body:
%s

Respond only with the JSON object and nothing else.`

// ExtractTransaction extracts structured purchase data from an email
func (c *OpenAIClient) ExtractTransaction(ctx context.Context, msg *core.RawMessage) (*core.LLMExtraction, error) {
	processedBody := c.textProcessor.ProcessText(msg.Body, c.maxBodySize)
	prompt := fmt.Sprintf(c.extractFormat, msg.From, msg.Subject, processedBody)

	responseText, err := c.complete(ctx, "You extract financial data from emails. Respond only with JSON.", prompt)
	if err != nil {
		return nil, err
	}
	if isNullResponse(responseText) {
		return nil, nil
	}

	var extraction core.LLMExtraction
	if err := unmarshalLoose(responseText, &extraction); err != nil {
		return nil, err
	}
	return &extraction, nil
}

// RewriteDraft rewrites a template draft in the given tone
func (c *OpenAIClient) RewriteDraft(ctx context.Context, subject, body, tone string) (string, string, error) {
	prompt := fmt.Sprintf(c.rewriteFormat, tone, subject, body)

	responseText, err := c.complete(ctx, "You rewrite customer service emails. Respond only with JSON.", prompt)
	if err != nil {
		return "", "", err
	}

	var rewrite rewriteResponse
	if err := unmarshalLoose(responseText, &rewrite); err != nil {
		return "", "", err
	}
	if rewrite.Subject == "" || rewrite.Body == "" {
		return "", "", fmt.Errorf("incomplete rewrite from OpenAI")
	}
	return rewrite.Subject, rewrite.Body, nil
}

func (c *OpenAIClient) complete(ctx context.Context, system, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

func isNullResponse(responseText string) bool {
	return strings.EqualFold(strings.TrimSpace(responseText), "null")
}

// unmarshalLoose parses the LLM's JSON response, falling back to extracting
// the outermost JSON object from surrounding prose.
func unmarshalLoose(responseText string, out any) error {
	if err := json.Unmarshal([]byte(responseText), out); err != nil {
		jsonStart := strings.IndexByte(responseText, '{')
		jsonEnd := strings.LastIndexByte(responseText, '}') + 1
		if jsonStart < 0 || jsonStart >= jsonEnd {
			return fmt.Errorf("failed to extract JSON from LLM response: %w", err)
		}
		if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd]), out); err != nil {
			return fmt.Errorf("failed to parse LLM response as JSON: %w", err)
		}
	}
	return nil
}
