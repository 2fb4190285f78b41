package interfaces

import (
	"context"

	"github.com/avermeer/circlesift/internal/models"
)

// ClassificationClient discovers natural category groupings from a sample
// of accounts and assigns accounts to those categories in batches.
//
// Both the AI-backed and the rule-based variants implement this interface;
// the variant is selected at construction time.
type ClassificationClient interface {
	// DiscoverCategories analyzes a sample and returns a scan-scoped
	// category set. The returned set must contain at least one category
	// with a non-empty name.
	DiscoverCategories(ctx context.Context, sample []models.Account) (*models.CategorySet, error)

	// ClassifyBatch assigns each account in the batch to one of the given
	// categories. The result has exactly one assignment per input account,
	// in input order.
	ClassifyBatch(ctx context.Context, accounts []models.Account, categories *models.CategorySet) ([]models.CategoryAssignment, error)
}
