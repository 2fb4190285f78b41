package classify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/retry"
)

// ProviderType represents the AI provider backing the classifier
type ProviderType string

const (
	// ProviderClaude uses Anthropic Claude API
	ProviderClaude ProviderType = "claude"
	// ProviderGemini uses Google Gemini API
	ProviderGemini ProviderType = "gemini"
)

// contentRequest is a provider-agnostic completion request
type contentRequest struct {
	System      string
	Prompt      string
	Temperature float32
}

// provider generates a single completion. Providers do not retry; the
// pipeline's retry policy owns backoff so concurrent batches share one
// jittered schedule.
type provider interface {
	generate(ctx context.Context, req *contentRequest) (string, error)
	providerType() ProviderType
}

// DetectProvider determines the provider type from a model string.
// "claude-..." or "claude/..." selects Claude, "gemini-..." or "gemini/..."
// selects Gemini; anything else falls back to the configured default.
func DetectProvider(model, defaultProvider string) ProviderType {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude-"), strings.HasPrefix(m, "claude/"), strings.HasPrefix(m, "anthropic/"):
		return ProviderClaude
	case strings.HasPrefix(m, "gemini-"), strings.HasPrefix(m, "gemini/"), strings.HasPrefix(m, "google/"):
		return ProviderGemini
	}
	if ProviderType(defaultProvider) == ProviderGemini {
		return ProviderGemini
	}
	return ProviderClaude
}

// claudeProvider generates completions through the Anthropic API
type claudeProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    arbor.ILogger
}

func newClaudeProvider(cfg *common.ClaudeConfig, logger arbor.ILogger) (*claudeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key in config)")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	p := &claudeProvider{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: maxTokens,
		timeout:   common.Duration(cfg.Timeout, 120*time.Second),
		logger:    logger,
	}

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Dur("timeout", p.timeout).
		Msg("Claude classification provider initialized")

	return p, nil
}

func (p *claudeProvider) providerType() ProviderType { return ProviderClaude }

func (p *claudeProvider) generate(ctx context.Context, req *contentRequest) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return "", classifyAPIError("Claude", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", retry.Validation(fmt.Errorf("empty response from Claude API"))
	}

	return text.String(), nil
}

// geminiProvider generates completions through the Gemini API
type geminiProvider struct {
	cfg    *common.GeminiConfig
	model  string
	logger arbor.ILogger

	// lazy client init; concurrent batches share one provider
	initOnce sync.Once
	client   *genai.Client
	initErr  error
}

func newGeminiProvider(cfg *common.GeminiConfig, logger arbor.ILogger) (*geminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or gemini.api_key in config)")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &geminiProvider{
		cfg:    cfg,
		model:  model,
		logger: logger,
	}, nil
}

func (p *geminiProvider) providerType() ProviderType { return ProviderGemini }

// getClient creates the genai client lazily; genai.NewClient needs a context
func (p *geminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.initOnce.Do(func() {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			p.initErr = fmt.Errorf("failed to create Gemini client: %w", err)
			return
		}
		p.client = client
		p.logger.Debug().Str("model", p.model).Msg("Gemini classification provider initialized")
	})
	return p.client, p.initErr
}

func (p *geminiProvider) generate(ctx context.Context, req *contentRequest) (string, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", classifyAPIError("Gemini", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", retry.Validation(fmt.Errorf("empty response from Gemini API"))
	}

	text := resp.Text()
	if text == "" {
		return "", retry.Validation(fmt.Errorf("empty text in Gemini response"))
	}
	return text, nil
}

// classifyAPIError maps raw SDK errors onto the engine's error classes.
// The SDKs don't expose typed status errors consistently, so this matches
// on status markers in the message.
func classifyAPIError(api string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(msg, "UNAUTHENTICATED"):
		return retry.Auth(fmt.Errorf("%s authentication failed: %w", api, err))
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "quota") || strings.Contains(msg, "overloaded"):
		return retry.Transient(fmt.Errorf("%s rate limited: %w", api, err))
	default:
		return retry.Transient(fmt.Errorf("%s API call failed: %w", api, err))
	}
}
