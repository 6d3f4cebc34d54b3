package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/config"
	"github.com/finpilot/mail-finance-pilot/internal/core"
	"github.com/finpilot/mail-finance-pilot/internal/factory"
	"github.com/finpilot/mail-finance-pilot/internal/logging"
	"github.com/finpilot/mail-finance-pilot/internal/utils"
)

var (
	// LLM provider flags
	provider    = flag.String("provider", "none", "LLM provider (none, bedrock, gemini, openai)")
	maxTokens   = flag.Int("max-tokens", 1000, "Maximum tokens for LLM response")
	temperature = flag.Float64("temperature", 0.0, "Temperature for LLM generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for LLM generation")
	maxBodySize = flag.Int("max-body-size", 8192, "Maximum email body size to send to LLM")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4o-mini", "OpenAI model name")

	// Extraction flags
	ruleConfidence = flag.Float64("rule-confidence", 0.85, "Confidence assigned to rule-extracted fields")
	fallbackBelow  = flag.Float64("fallback-below", 0.6, "LLM fallback threshold for rule confidence")
	allowedDomains = flag.String("allowed-domains", "", "Comma-separated list of always-relevant sender domains")
	blockedDomains = flag.String("blocked-domains", "", "Comma-separated list of never-relevant sender domains")

	// Input flags
	inputFile  = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	var cfg *config.Config
	var err error

	// Initialize logger
	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration from file if specified
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		// Create config from command line flags
		cfg = createConfigFromFlags()
	}

	// Initialize LLM client
	textProcessor := utils.NewTextProcessor(logger)
	llmFactory := factory.NewLLMFactory(cfg, logger, textProcessor)
	llmClient, err := llmFactory.CreateLLMClient()
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	classifyCfg := cfg.GetClassify()
	classifier := core.NewClassifier(classifyCfg.AllowedDomains, classifyCfg.BlockedDomains, logger)

	extractCfg, err := cfg.GetExtract()
	if err != nil {
		logger.Fatal("Invalid extraction configuration", zap.Error(err))
	}
	extractor := core.NewExtractor(llmClient, logger, extractCfg.RuleConfidence, extractCfg.FallbackBelow, extractCfg.LLMTimeout)

	// Read email from file or stdin
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", *inputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	// Parse email
	parsed, err := mail.ReadMessage(bufio.NewReader(emailReader))
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	body, err := extractTextFromMessage(parsed)
	if err != nil {
		logger.Fatal("Failed to read email body", zap.Error(err))
	}

	msg := &core.RawMessage{
		ProviderID:   "cli",
		From:         parsed.Header.Get("From"),
		Subject:      parsed.Header.Get("Subject"),
		Body:         body,
		Headers:      make(map[string]string),
		InternalDate: time.Now().UTC(),
		FetchedAt:    time.Now().UTC(),
		Status:       core.MessageFetched,
	}
	if date, err := parsed.Header.Date(); err == nil {
		msg.InternalDate = date.UTC()
	}
	for k, v := range parsed.Header {
		if len(v) > 0 {
			msg.Headers[k] = v[0]
		}
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", msg.From)
	fmt.Printf("Subject: %s\n", msg.Subject)
	fmt.Printf("Date: %s\n", msg.InternalDate.Format(time.RFC3339))
	fmt.Printf("Body length: %d bytes\n", len(msg.Body))
	fmt.Printf("\n")

	// Classify
	fmt.Printf("=== Classification ===\n")
	cl := classifier.Classify(msg)
	fmt.Printf("Relevant: %t\n", cl.Relevant)
	if len(cl.Hints) > 0 {
		fmt.Printf("Hints: %s\n", strings.Join(cl.Hints, ", "))
	}
	if !cl.Relevant {
		return
	}

	// Extract
	fmt.Printf("\n=== Extraction ===\n")
	fmt.Printf("Provider: %s\n", cfg.GetString("llm.provider"))

	startTime := time.Now()
	records, err := extractor.Extract(context.Background(), msg, cl)
	duration := time.Since(startTime)

	var mismatch *core.ExtractionMismatch
	if errors.As(err, &mismatch) {
		fmt.Printf("No financial record extracted: %v\n", mismatch.Err)
		return
	}
	if err != nil {
		logger.Fatal("Failed to extract", zap.Error(err))
	}

	for _, rec := range records {
		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			logger.Fatal("Failed to encode record", zap.Error(err))
		}
		fmt.Println(string(out))
	}
	fmt.Printf("Processing time: %v\n", duration)

	// Close any resources that need closing
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	// Set LLM provider
	v.Set("llm.provider", *provider)

	// Set provider-specific configuration
	switch *provider {
	case "bedrock":
		v.Set("bedrock.region", *bedrockRegion)
		v.Set("bedrock.model_id", *bedrockModelID)
		v.Set("bedrock.max_tokens", *maxTokens)
		v.Set("bedrock.temperature", *temperature)
		v.Set("bedrock.top_p", *topP)
		v.Set("bedrock.max_body_size", *maxBodySize)
	case "gemini":
		v.Set("gemini.api_key", *geminiAPIKey)
		v.Set("gemini.model_name", *geminiModelName)
		v.Set("gemini.max_tokens", *maxTokens)
		v.Set("gemini.temperature", *temperature)
		v.Set("gemini.top_p", *topP)
		v.Set("gemini.max_body_size", *maxBodySize)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
		v.Set("openai.max_body_size", *maxBodySize)
	}

	// Set extraction thresholds
	v.Set("extract.rule_confidence", *ruleConfidence)
	v.Set("extract.fallback_below", *fallbackBelow)

	// Set sender domain lists
	v.Set("classify.allowed_domains", splitDomains(*allowedDomains))
	v.Set("classify.blocked_domains", splitDomains(*blockedDomains))

	return config.NewFromViper(v)
}

func splitDomains(list string) []string {
	if list == "" {
		return []string{}
	}
	domains := strings.Split(list, ",")
	for i, domain := range domains {
		domains[i] = strings.TrimSpace(domain)
	}
	return domains
}
