package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avermeer/circlesift/internal/models"
)

const (
	discoverySystem      = "You are a social network analysis expert who discovers natural patterns in data."
	categorizationSystem = "You categorize accounts accurately based on discovered patterns."

	// promptSummaryCap bounds how many account summaries go into the
	// discovery prompt regardless of sample size
	promptSummaryCap = 100
)

// buildDiscoveryPrompt summarises the sample and asks for emergent
// categories. No predefined taxonomy: the model discovers what is actually
// in this network.
func buildDiscoveryPrompt(sample []models.Account) string {
	var summaries []string
	for i, account := range sample {
		if i >= promptSummaryCap {
			break
		}
		bio := account.Bio
		if bio == "" {
			bio = "No bio"
		}
		summaries = append(summaries, fmt.Sprintf("@%s: %s (%d followers)", account.Username, bio, account.FollowersCount))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I have %d X (Twitter) accounts. Analyze them and discover 10-20 natural categories based on actual patterns in the data.\n\n", len(sample))
	b.WriteString("Accounts summary (username: bio, followers):\n")
	b.WriteString(strings.Join(summaries, "\n"))
	if len(sample) > promptSummaryCap {
		fmt.Fprintf(&b, "\n... and %d more accounts", len(sample)-promptSummaryCap)
	}
	b.WriteString(`

Your task:
1. Identify natural groupings and communities
2. Create 10-20 descriptive category names
3. Explain key characteristics of each category
4. Estimate the percentage of accounts in each

DO NOT use predefined categories. Discover what's actually in THIS network.

Respond with JSON:
{
  "categories": [
    {
      "name": "Descriptive Category Name",
      "description": "What defines this category",
      "characteristics": ["trait 1", "trait 2", "trait 3"],
      "estimated_percentage": 15
    }
  ],
  "analysis_summary": "Brief overview of the network"
}`)

	return b.String()
}

// buildBatchPrompt asks the model to assign each account in the batch to
// one of the discovered categories, with confidence and reasoning.
func buildBatchPrompt(accounts []models.Account, categories *models.CategorySet) string {
	descriptions := make([]map[string]string, 0, len(categories.Categories))
	for _, c := range categories.Categories {
		descriptions = append(descriptions, map[string]string{c.Name: c.Description})
	}
	descJSON, _ := json.MarshalIndent(descriptions, "", "  ")

	var b strings.Builder
	b.WriteString("Categorize these X accounts using the discovered category system.\n\n")
	fmt.Fprintf(&b, "Available categories:\n%s\n\n", strings.Join(categories.Names(), ", "))
	fmt.Fprintf(&b, "Category descriptions:\n%s\n\n", descJSON)
	b.WriteString("Accounts to categorize:\n")

	for i, account := range accounts {
		bio := account.Bio
		if bio == "" {
			bio = "N/A"
		}
		fmt.Fprintf(&b, "%d. @%s (%s)\n   Bio: %s\n   Followers: %d | Following: %d\n   Verified: %t | Posts: %d\n",
			i+1, account.Username, account.DisplayName, bio,
			account.FollowersCount, account.FollowingCount, account.Verified, account.PostCount)
	}

	b.WriteString(`
For each account, provide:
- Primary category (must be from the list above)
- Confidence (0.0 to 1.0)
- Brief reasoning
- Alternative category if confidence is below 0.8

Respond as JSON array, one entry per account in input order:
[
  {
    "account_index": 1,
    "category": "Category Name",
    "confidence": 0.95,
    "reasoning": "Why this category fits",
    "alternative": null
  }
]`)

	return b.String()
}
