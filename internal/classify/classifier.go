package classify

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/models"
)

// New selects the classification variant at construction time: the
// AI-backed classifier (Claude or Gemini per config) or the rule-based
// fallback when scan.classifier = "rules". Both satisfy
// interfaces.ClassificationClient.
func New(cfg *common.Config, logger arbor.ILogger) (interfaces.ClassificationClient, error) {
	if cfg.Scan.Classifier == "rules" {
		logger.Info().Msg("Using rule-based classifier")
		return NewRuleClassifier(logger), nil
	}

	var (
		p   provider
		err error
	)
	switch DetectProvider(cfg.Claude.Model, cfg.LLM.DefaultProvider) {
	case ProviderGemini:
		p, err = newGeminiProvider(&cfg.Gemini, logger)
	default:
		p, err = newClaudeProvider(&cfg.Claude, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classification provider: %w", err)
	}

	logger.Info().Str("provider", string(p.providerType())).Msg("Using AI classifier")

	return &AIClassifier{
		provider:    p,
		temperature: cfg.Claude.Temperature,
		logger:      logger,
	}, nil
}

// AIClassifier implements category discovery and batch classification
// through a generative model. It is stateless between calls; category sets
// are scan-scoped and carried by the pipeline.
type AIClassifier struct {
	provider    provider
	temperature float32
	logger      arbor.ILogger
}

// DiscoverCategories sends one discovery request for the sample and
// validates the response against the minimal schema
func (c *AIClassifier) DiscoverCategories(ctx context.Context, sample []models.Account) (*models.CategorySet, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("no accounts provided for category discovery")
	}

	text, err := c.provider.generate(ctx, &contentRequest{
		System:      discoverySystem,
		Prompt:      buildDiscoveryPrompt(sample),
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, err
	}

	set, err := parseDiscoveryResponse(text, "")
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("sample_size", len(sample)).
		Int("categories", len(set.Categories)).
		Msg("Category discovery completed")

	return set, nil
}

// ClassifyBatch assigns each account in the batch to a discovered
// category, validated positionally against the input
func (c *AIClassifier) ClassifyBatch(ctx context.Context, accounts []models.Account, categories *models.CategorySet) ([]models.CategoryAssignment, error) {
	if len(accounts) == 0 {
		return nil, nil
	}

	text, err := c.provider.generate(ctx, &contentRequest{
		System:      categorizationSystem,
		Prompt:      buildBatchPrompt(accounts, categories),
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, err
	}

	return parseBatchResponse(text, accounts)
}
