package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/ratelimit"
	"github.com/avermeer/circlesift/internal/retry"
)

// categorize partitions the accounts into fixed-size batches and classifies
// them with bounded concurrency. Batches may complete out of submission
// order; assignments are keyed by account identity so completion order does
// not matter downstream.
//
// A batch that still fails after retries degrades to fallback assignments
// and records a warning instead of failing the job. Auth failures and
// cancellation remain fatal.
func (p *pipeline) categorize(ctx context.Context, accounts []models.Account, categories *models.CategorySet) ([]models.CategoryAssignment, error) {
	p.m.update(p.job, func(j *models.ScanJob) { j.Stage = models.StageCategorize })

	batches := partition(accounts, p.m.settings.batchSize)
	results := make([][]models.CategoryAssignment, len(batches))

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fatal error
		done  int
	)
	sem := make(chan struct{}, p.m.settings.batchConcurrency)

	for i, batch := range batches {
		// cancellation observed between batch dispatches
		select {
		case <-batchCtx.Done():
		case sem <- struct{}{}:
		}
		if batchCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(index int, batch []models.Account) {
			defer wg.Done()
			defer func() { <-sem }()

			assignments, err := p.classifyBatch(batchCtx, batch, categories)
			if err != nil {
				if retry.IsAuth(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					mu.Lock()
					// a real failure wins over cancellation noise from sibling batches
					if fatal == nil || (errors.Is(fatal, context.Canceled) && !errors.Is(err, context.Canceled)) {
						fatal = err
					}
					mu.Unlock()
					cancel()
					return
				}

				warning := fmt.Sprintf("batch %d/%d degraded to %q: %v", index+1, len(batches), models.FallbackCategory, err)
				p.m.update(p.job, func(j *models.ScanJob) { j.AddWarning(warning) })
				p.m.logger.Warn().
					Str("job_id", p.job.ID).
					Int("batch", index+1).
					Err(err).
					Msg("Classification batch degraded to fallback")
				assignments = fallbackAssignments(batch)
			}

			for idx := range assignments {
				assignments[idx].JobID = p.job.ID
				// the alternative suggestion is informational, kept only
				// when confidence falls below the threshold
				if assignments[idx].Confidence >= p.m.settings.confidenceThreshold {
					assignments[idx].Alternative = ""
				}
			}

			mu.Lock()
			results[index] = assignments
			done += len(batch)
			categorized := done
			mu.Unlock()

			p.m.update(p.job, func(j *models.ScanJob) {
				j.Categorized = categorized
				j.SetProgress(bandDiscoverEnd + (bandCategorizeEnd-bandDiscoverEnd)*categorized/len(accounts))
			})
			p.m.publish(p.job, categorized, len(accounts),
				fmt.Sprintf("Categorized %d of %d accounts", categorized, len(accounts)))
		}(i, batch)
	}

	wg.Wait()

	mu.Lock()
	err := fatal
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assignments := make([]models.CategoryAssignment, 0, len(accounts))
	for _, batch := range results {
		assignments = append(assignments, batch...)
	}
	return assignments, nil
}

func (p *pipeline) classifyBatch(ctx context.Context, batch []models.Account, categories *models.CategorySet) ([]models.CategoryAssignment, error) {
	var assignments []models.CategoryAssignment
	err := p.m.settings.policy.Do(ctx, func() error {
		if err := p.m.limiter.Acquire(ctx, ratelimit.KeyLLM); err != nil {
			return err
		}
		result, err := p.m.classifier.ClassifyBatch(ctx, batch, categories)
		if err != nil {
			return err
		}
		assignments = result
		return nil
	})
	return assignments, err
}

// fallbackAssignments implements the degradation path: every account in a
// failed batch gets the reserved fallback category with zero confidence
func fallbackAssignments(batch []models.Account) []models.CategoryAssignment {
	now := time.Now()
	assignments := make([]models.CategoryAssignment, 0, len(batch))
	for _, account := range batch {
		assignments = append(assignments, models.CategoryAssignment{
			AccountID:    account.ID,
			CategoryName: models.FallbackCategory,
			Confidence:   0.0,
			Reasoning:    "classification failed",
			AssignedAt:   now,
		})
	}
	return assignments
}

func partition(accounts []models.Account, size int) [][]models.Account {
	if size <= 0 {
		size = len(accounts)
	}
	var batches [][]models.Account
	for start := 0; start < len(accounts); start += size {
		end := min(start+size, len(accounts))
		batches = append(batches, accounts[start:end])
	}
	return batches
}
