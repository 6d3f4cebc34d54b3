package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/finpilot/mail-finance-pilot/internal/core"
	"github.com/finpilot/mail-finance-pilot/internal/utils"
)

// GeminiClient is an implementation of the LLMClient interface using Google Gemini
type GeminiClient struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
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

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &GeminiClient{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		extractFormat: `You extract structured financial transaction data from emails.
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

Respond only with the JSON object and nothing else.`,
		rewriteFormat: `You rewrite customer service emails. Rewrite the following draft in a %s tone.
Keep every factual detail (amounts, dates, merchant names) unchanged.
Respond with a JSON object containing:
- subject: string
- body: string

Draft subject: %s
Draft body:
%s

Respond only with the JSON object and nothing else.`,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ExtractTransaction extracts structured purchase data from an email
func (c *GeminiClient) ExtractTransaction(ctx context.Context, msg *core.RawMessage) (*core.LLMExtraction, error) {
	processedBody := c.textProcessor.ProcessText(msg.Body, c.maxBodySize)
	prompt := fmt.Sprintf(c.extractFormat, msg.From, msg.Subject, processedBody)

	responseText, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(strings.TrimSpace(responseText), "null") {
		return nil, nil
	}

	var extraction core.LLMExtraction
	if err := unmarshalLoose(responseText, &extraction); err != nil {
		return nil, err
	}
	return &extraction, nil
}

// RewriteDraft rewrites a template draft in the given tone
func (c *GeminiClient) RewriteDraft(ctx context.Context, subject, body, tone string) (string, string, error) {
	prompt := fmt.Sprintf(c.rewriteFormat, tone, subject, body)

	responseText, err := c.generate(ctx, prompt)
	if err != nil {
		return "", "", err
	}

	var rewrite rewriteResponse
	if err := unmarshalLoose(responseText, &rewrite); err != nil {
		return "", "", err
	}
	if rewrite.Subject == "" || rewrite.Body == "" {
		return "", "", fmt.Errorf("incomplete rewrite from Gemini")
	}
	return rewrite.Subject, rewrite.Body, nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text in Gemini response")
	}
	return sb.String(), nil
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
