package scan

import (
	"context"
	"fmt"

	"github.com/avermeer/circlesift/internal/models"
)

// Overall-progress bands per stage. Progress within a stage is interpolated
// inside its band so the job-level percentage stays monotonic across stage
// transitions.
const (
	bandFetchEnd      = 30
	bandDiscoverEnd   = 50
	bandCategorizeEnd = 90
)

// pipeline runs the fixed stage sequence for one job. All job mutation
// goes through the manager's update/publish helpers; the pipeline itself
// holds no shared state.
type pipeline struct {
	m   *Manager
	job *models.ScanJob
}

func (p *pipeline) execute(ctx context.Context) error {
	accounts, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("target %s follows no accounts", p.job.TargetID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	categories, err := p.discover(ctx, accounts)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	assignments, err := p.categorize(ctx, accounts, categories)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.persist(ctx, accounts, categories, assignments)
}
