package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/models"
)

// categoryRule is one keyword-driven bucket for the rule-based classifier
type categoryRule struct {
	name        string
	description string
	keywords    []string
}

var defaultRules = []categoryRule{
	{
		name:        "Tech & Engineering",
		description: "Software developers, engineers and technology companies",
		keywords:    []string{"engineer", "developer", "software", "programming", "coding", "devops", "open source", "golang", "python", "javascript"},
	},
	{
		name:        "AI & Machine Learning",
		description: "AI researchers, ML practitioners and AI-focused companies",
		keywords:    []string{"ai", "machine learning", "deep learning", "llm", "neural", "data scien", "artificial intelligence"},
	},
	{
		name:        "News & Media",
		description: "Journalists, publications and news outlets",
		keywords:    []string{"journalist", "reporter", "news", "editor", "correspondent", "media", "columnist"},
	},
	{
		name:        "Business & Finance",
		description: "Founders, investors and finance professionals",
		keywords:    []string{"founder", "ceo", "investor", "venture", "startup", "finance", "trading", "markets", "crypto"},
	},
	{
		name:        "Science & Academia",
		description: "Researchers, professors and scientific institutions",
		keywords:    []string{"professor", "phd", "research", "scientist", "university", "academic", "physics", "biology"},
	},
	{
		name:        "Arts & Entertainment",
		description: "Artists, musicians, writers and entertainers",
		keywords:    []string{"artist", "musician", "writer", "author", "actor", "film", "music", "design", "photograph"},
	},
	{
		name:        "Sports",
		description: "Athletes, teams and sports commentary",
		keywords:    []string{"sport", "football", "soccer", "basketball", "athlete", "coach", "nba", "nfl", "f1"},
	},
	{
		name:        "Politics & Policy",
		description: "Politicians, policy analysts and advocacy accounts",
		keywords:    []string{"policy", "politic", "government", "senator", "congress", "advocacy", "campaign"},
	},
}

// RuleClassifier is a deterministic keyword matcher over bios and display
// names. It exists for offline runs and tests where no model is available;
// accuracy is intentionally crude.
type RuleClassifier struct {
	rules  []categoryRule
	logger arbor.ILogger
}

func NewRuleClassifier(logger arbor.ILogger) *RuleClassifier {
	return &RuleClassifier{rules: defaultRules, logger: logger}
}

func (c *RuleClassifier) DiscoverCategories(ctx context.Context, sample []models.Account) (*models.CategorySet, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("no accounts provided for category discovery")
	}

	counts := make(map[string]int, len(c.rules))
	for _, account := range sample {
		if name, _ := c.match(account); name != "" {
			counts[name]++
		}
	}

	set := &models.CategorySet{
		Categories:      make([]models.Category, 0, len(c.rules)+1),
		AnalysisSummary: fmt.Sprintf("Keyword-based grouping of %d sampled accounts", len(sample)),
	}
	for _, rule := range c.rules {
		set.Categories = append(set.Categories, models.Category{
			ID:               "cat_" + uuid.New().String(),
			Name:             rule.name,
			Description:      rule.description,
			Characteristics:  rule.keywords[:min(3, len(rule.keywords))],
			EstimatedPercent: float64(counts[rule.name]) / float64(len(sample)) * 100,
		})
	}
	set.Categories = append(set.Categories, models.Category{
		ID:          "cat_" + uuid.New().String(),
		Name:        models.FallbackCategory,
		Description: "Accounts that match no keyword rule",
	})

	return set, nil
}

func (c *RuleClassifier) ClassifyBatch(ctx context.Context, accounts []models.Account, categories *models.CategorySet) ([]models.CategoryAssignment, error) {
	known := make(map[string]bool, len(categories.Categories))
	for _, cat := range categories.Categories {
		known[cat.Name] = true
	}

	now := time.Now()
	assignments := make([]models.CategoryAssignment, 0, len(accounts))
	for _, account := range accounts {
		name, keyword := c.match(account)
		if name == "" || !known[name] {
			assignments = append(assignments, models.CategoryAssignment{
				AccountID:    account.ID,
				CategoryName: models.FallbackCategory,
				Confidence:   0.3,
				Reasoning:    "no keyword rule matched",
				AssignedAt:   now,
			})
			continue
		}
		assignments = append(assignments, models.CategoryAssignment{
			AccountID:    account.ID,
			CategoryName: name,
			Confidence:   0.6,
			Reasoning:    fmt.Sprintf("bio matched keyword %q", keyword),
			AssignedAt:   now,
		})
	}

	return assignments, nil
}

// match returns the first rule whose keyword appears in the account's bio
// or display name
func (c *RuleClassifier) match(account models.Account) (string, string) {
	haystack := strings.ToLower(account.Bio + " " + account.DisplayName)
	for _, rule := range c.rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.name, keyword
			}
		}
	}
	return "", ""
}
