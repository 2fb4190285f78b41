package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/models"
)

// AccountReader is the read surface consumed by the dashboard handlers. It
// joins stored assignments with their accounts; an assignment whose account
// row is missing is skipped rather than failing the whole listing.
type AccountReader struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAccountReader creates a new AccountReader instance
func NewAccountReader(db *BadgerDB, logger arbor.ILogger) interfaces.AccountReader {
	return &AccountReader{
		db:     db,
		logger: logger,
	}
}

// ListAccounts returns categorized accounts, optionally filtered by
// category name, ordered by account ID for stable pagination. The second
// return value is the total match count before offset/limit.
func (r *AccountReader) ListAccounts(ctx context.Context, category string, offset, limit int) ([]models.CategorizedAccount, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	query := badgerhold.Where("AccountID").Ne("")
	if category != "" {
		query = badgerhold.Where("CategoryName").Eq(category)
	}

	total, err := r.db.Store().Count(&models.CategoryAssignment{}, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count assignments: %w", err)
	}

	query = query.SortBy("AccountID")
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var assignments []models.CategoryAssignment
	if err := r.db.Store().Find(&assignments, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list assignments: %w", err)
	}

	results := make([]models.CategorizedAccount, 0, len(assignments))
	for _, assignment := range assignments {
		var account models.Account
		if err := r.db.Store().Get(assignment.AccountID, &account); err != nil {
			if err == badgerhold.ErrNotFound {
				r.logger.Warn().Str("account_id", assignment.AccountID).Msg("Assignment references missing account")
				continue
			}
			return nil, 0, fmt.Errorf("failed to get account %s: %w", assignment.AccountID, err)
		}
		results = append(results, models.CategorizedAccount{
			Account:     account,
			Category:    assignment.CategoryName,
			Confidence:  assignment.Confidence,
			Reasoning:   assignment.Reasoning,
			Alternative: assignment.Alternative,
		})
	}

	return results, int(total), nil
}

// ListCategories returns all stored categories sorted by name
func (r *AccountReader) ListCategories(ctx context.Context) ([]models.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var categories []models.Category
	if err := r.db.Store().Find(&categories, badgerhold.Where("Name").Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// CategoryStats aggregates stored assignments per category, joining
// accounts for follower and verification figures. Sorted by count
// descending.
func (r *AccountReader) CategoryStats(ctx context.Context) ([]models.CategoryStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var assignments []models.CategoryAssignment
	if err := r.db.Store().Find(&assignments, badgerhold.Where("AccountID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	type bucket struct {
		count     int
		followers int64
		verified  int
	}
	buckets := make(map[string]*bucket)
	for _, assignment := range assignments {
		b := buckets[assignment.CategoryName]
		if b == nil {
			b = &bucket{}
			buckets[assignment.CategoryName] = b
		}
		b.count++

		var account models.Account
		if err := r.db.Store().Get(assignment.AccountID, &account); err != nil {
			continue
		}
		b.followers += int64(account.FollowersCount)
		if account.Verified {
			b.verified++
		}
	}

	stats := make([]models.CategoryStats, 0, len(buckets))
	for name, b := range buckets {
		stats = append(stats, models.CategoryStats{
			Name:             name,
			Count:            b.count,
			Percentage:       float64(b.count) / float64(len(assignments)) * 100,
			AvgFollowers:     float64(b.followers) / float64(b.count),
			VerificationRate: float64(b.verified) / float64(b.count),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Name < stats[j].Name
	})

	return stats, nil
}
