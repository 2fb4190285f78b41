package scan

import (
	"context"
	"fmt"

	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/ratelimit"
)

// fetch pages through the target's followed accounts. Total is unknown
// until the source stops returning a pagination token, so progress events
// carry total=0 until the last page.
func (p *pipeline) fetch(ctx context.Context) ([]models.Account, error) {
	p.m.update(p.job, func(j *models.ScanJob) { j.Stage = models.StageFetch })

	var accounts []models.Account
	pageToken := ""
	for page := 1; ; page++ {
		// cancellation observed between pages
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var result *interfaces.FollowingPage
		err := p.m.settings.policy.Do(ctx, func() error {
			if err := p.m.limiter.Acquire(ctx, ratelimit.KeySource); err != nil {
				return err
			}
			r, err := p.m.source.ListFollowing(ctx, p.job.TargetID, pageToken)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		accounts = append(accounts, result.Accounts...)
		last := result.NextToken == ""

		p.m.update(p.job, func(j *models.ScanJob) {
			j.Fetched = len(accounts)
			if last {
				j.SetProgress(bandFetchEnd)
			} else {
				j.SetProgress(min(bandFetchEnd-5, page*5))
			}
		})

		total := 0
		if last {
			total = len(accounts)
		}
		p.m.publish(p.job, len(accounts), total, fmt.Sprintf("Fetched %d accounts", len(accounts)))

		if last {
			return accounts, nil
		}
		pageToken = result.NextToken
	}
}
