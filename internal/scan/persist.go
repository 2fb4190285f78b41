package scan

import (
	"context"
	"fmt"

	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/retry"
)

// persist writes categories, accounts and assignments in bounded chunks.
// Upserts are idempotent so a retried chunk cannot duplicate rows. Any
// write failure surviving the bounded retry is fatal: partial persisted
// state must never be reported as complete.
func (p *pipeline) persist(ctx context.Context, accounts []models.Account, categories *models.CategorySet, assignments []models.CategoryAssignment) error {
	p.m.update(p.job, func(j *models.ScanJob) { j.Stage = models.StagePersist })
	p.m.publish(p.job, 0, len(accounts), "Saving results")

	if err := p.writeChunk(ctx, func(ctx context.Context) error {
		return p.m.store.UpsertCategories(ctx, categories.Categories)
	}); err != nil {
		return fmt.Errorf("persist categories: %w", err)
	}

	chunkSize := p.m.settings.persistChunkSize
	for start := 0; start < len(accounts); start += chunkSize {
		// cancellation observed between chunks
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+chunkSize, len(accounts))
		chunk := accounts[start:end]
		if err := p.writeChunk(ctx, func(ctx context.Context) error {
			return p.m.store.UpsertAccounts(ctx, chunk)
		}); err != nil {
			return fmt.Errorf("persist accounts: %w", err)
		}

		saved := end
		p.m.update(p.job, func(j *models.ScanJob) {
			j.Saved = saved
			j.SetProgress(bandCategorizeEnd + (100-bandCategorizeEnd)*saved/len(accounts))
		})
		p.m.publish(p.job, saved, len(accounts), fmt.Sprintf("Saved %d of %d accounts", saved, len(accounts)))
	}

	for start := 0; start < len(assignments); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+chunkSize, len(assignments))
		chunk := assignments[start:end]
		if err := p.writeChunk(ctx, func(ctx context.Context) error {
			return p.m.store.UpsertAssignments(ctx, chunk)
		}); err != nil {
			return fmt.Errorf("persist assignments: %w", err)
		}
	}

	p.m.update(p.job, func(j *models.ScanJob) { j.SetProgress(100) })
	p.m.publish(p.job, len(accounts), len(accounts), "Scan results saved")
	return nil
}

// writeChunk applies the bounded persistence retry. Store failures are
// wrapped as transient so the policy retries them up to its cap.
func (p *pipeline) writeChunk(ctx context.Context, write func(context.Context) error) error {
	return p.m.settings.persistPolicy.Do(ctx, func() error {
		if err := write(ctx); err != nil {
			return retry.Transient(err)
		}
		return nil
	})
}
