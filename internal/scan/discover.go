package scan

import (
	"context"
	"fmt"

	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/ratelimit"
)

// discover sends a bounded deterministic sample (fetch order, first N) to
// the classifier and validates the returned category set. Discovery failure
// after retries is fatal: categorization has no target set without it.
func (p *pipeline) discover(ctx context.Context, accounts []models.Account) (*models.CategorySet, error) {
	p.m.update(p.job, func(j *models.ScanJob) { j.Stage = models.StageDiscover })
	p.m.publish(p.job, 0, 0, "Discovering categories")

	sample := accounts
	if n := p.m.settings.discoverySampleSize; n > 0 && len(sample) > n {
		sample = sample[:n]
	}

	var categories *models.CategorySet
	err := p.m.settings.policy.Do(ctx, func() error {
		if err := p.m.limiter.Acquire(ctx, ratelimit.KeyLLM); err != nil {
			return err
		}
		set, err := p.m.classifier.DiscoverCategories(ctx, sample)
		if err != nil {
			return err
		}
		categories = set
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("category discovery failed: %w", err)
	}

	for i := range categories.Categories {
		categories.Categories[i].JobID = p.job.ID
	}

	p.m.update(p.job, func(j *models.ScanJob) {
		j.Categories = len(categories.Categories)
		j.SetProgress(bandDiscoverEnd)
	})
	p.m.publish(p.job, len(categories.Categories), len(categories.Categories),
		fmt.Sprintf("Discovered %d categories", len(categories.Categories)))

	return categories, nil
}
