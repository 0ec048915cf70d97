package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// ErrUnparseableResponse is returned when a model reply is not a JSON
// object of file contents.
var ErrUnparseableResponse = errors.New("failed to parse LLM response as JSON")

const promptTemplate = `Generate a complete MCP (Model Context Protocol) server for the following request:

%s

Produce a Node.js project that:
- has a package.json with a "dev" script that starts the server
- has an index.js entry point that serves the MCP JSON-RPC protocol over HTTP,
  answering "initialize" on POST /mcp/v1/initialize
- implements the tools the request describes, with input validation and error handling
- listens on the port given by the PORT environment variable

Respond with a single JSON object mapping relative file paths to file contents,
for example {"package.json": "...", "index.js": "..."}. Do not include any other text.`

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewModel builds a langchaingo model for cfg.
func NewModel(cfg LLMConfig) (llms.Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key required", cfg.Provider)
	}
	switch cfg.Provider {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

// LLMGenerator turns natural-language descriptions into bundles.
type LLMGenerator struct {
	model     llms.Model
	maxTokens int
	logger    *logging.Logger
}

// NewLLMGenerator wraps model. logger may be nil.
func NewLLMGenerator(model llms.Model, logger *logging.Logger) *LLMGenerator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LLMGenerator{model: model, maxTokens: 16000, logger: logger}
}

// Generate implements orchestrator.Generator.
func (g *LLMGenerator) Generate(ctx context.Context, in orchestrator.Input) (orchestrator.Bundle, error) {
	prompt := fmt.Sprintf(promptTemplate, strings.TrimSpace(in.Payload))

	reply, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt,
		llms.WithTemperature(0.2),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}

	bundle, err := ParseBundle(reply)
	if err != nil {
		g.logger.Warn(ctx, "unparseable llm response", zap.Int("length", len(reply)), zap.Error(err))
		return nil, err
	}
	return bundle, nil
}

var fence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n(.*?)\n?```$")

// ParseBundle decodes a model reply into a bundle. A single surrounding
// Markdown code fence is removed first.
func ParseBundle(reply string) (orchestrator.Bundle, error) {
	text := strings.TrimSpace(reply)
	if m := fence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	var files map[string]string
	if err := json.Unmarshal([]byte(text), &files); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files in response", ErrUnparseableResponse)
	}
	return orchestrator.Bundle(files), nil
}
