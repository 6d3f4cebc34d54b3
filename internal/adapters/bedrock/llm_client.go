package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/core"
	"github.com/finpilot/mail-finance-pilot/internal/utils"
)

// BedrockClient is an implementation of the LLMClient interface using Amazon Bedrock
type BedrockClient struct {
	client        *bedrockruntime.Client
	modelID       string
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

// NewBedrockClient creates a new Bedrock client
func NewBedrockClient(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *BedrockClient {
	return &BedrockClient{
		client:        client,
		modelID:       modelID,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
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
	}
}

// ExtractTransaction extracts structured purchase data from an email
func (c *BedrockClient) ExtractTransaction(ctx context.Context, msg *core.RawMessage) (*core.LLMExtraction, error) {
	processedBody := c.textProcessor.ProcessText(msg.Body, c.maxBodySize)
	prompt := fmt.Sprintf(c.extractFormat, msg.From, msg.Subject, processedBody)

	responseText, err := c.invoke(ctx, prompt)
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
func (c *BedrockClient) RewriteDraft(ctx context.Context, subject, body, tone string) (string, string, error) {
	prompt := fmt.Sprintf(c.rewriteFormat, tone, subject, body)

	responseText, err := c.invoke(ctx, prompt)
	if err != nil {
		return "", "", err
	}

	var rewrite rewriteResponse
	if err := unmarshalLoose(responseText, &rewrite); err != nil {
		return "", "", err
	}
	if rewrite.Subject == "" || rewrite.Body == "" {
		return "", "", fmt.Errorf("incomplete rewrite from Bedrock model")
	}
	return rewrite.Subject, rewrite.Body, nil
}

// invoke calls the Bedrock API with a model-appropriate payload and returns
// the raw completion text.
func (c *BedrockClient) invoke(ctx context.Context, prompt string) (string, error) {
	var payload []byte
	var err error

	if c.isAnthropicModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": c.maxTokens,
			"temperature":          c.temperature,
			"top_p":                c.topP,
		})
	} else if c.isAmazonTitanModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	} else {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	if c.isAnthropicModel() {
		var claudeResp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(resp.Body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return claudeResp.Completion, nil
	}
	if c.isAmazonTitanModel() {
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(resp.Body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil
	}

	var genericResp struct {
		Output   string `json:"output"`
		Text     string `json:"text"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(resp.Body, &genericResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
	}
	switch {
	case genericResp.Output != "":
		return genericResp.Output, nil
	case genericResp.Text != "":
		return genericResp.Text, nil
	case genericResp.Response != "":
		return genericResp.Response, nil
	}
	return string(resp.Body), nil
}

// isAnthropicModel checks if the model is an Anthropic Claude model
func (c *BedrockClient) isAnthropicModel() bool {
	return strings.Contains(c.modelID, "anthropic") || strings.Contains(c.modelID, "claude")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (c *BedrockClient) isAmazonTitanModel() bool {
	return strings.Contains(c.modelID, "amazon") || strings.Contains(c.modelID, "titan")
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
