package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/models"
)

// AccountStorage is the durable write path for scan results. Every upsert
// is keyed by a stable ID, so re-running persistence for the same data is
// idempotent: last write wins, no duplicate rows.
type AccountStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAccountStorage creates a new AccountStorage instance
func NewAccountStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AccountStore {
	return &AccountStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AccountStorage) UpsertAccounts(ctx context.Context, accounts []models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range accounts {
		account := accounts[i]
		if account.ID == "" {
			return fmt.Errorf("account ID is required")
		}
		if err := s.db.Store().Upsert(account.ID, &account); err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", account.ID, err)
		}
	}

	s.logger.Debug().Int("count", len(accounts)).Msg("Upserted accounts")
	return nil
}

func (s *AccountStorage) UpsertCategories(ctx context.Context, categories []models.Category) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range categories {
		category := categories[i]
		if category.Name == "" {
			return fmt.Errorf("category name is required")
		}
		// keyed by name: a re-scan's "Tech" replaces the previous scan's
		// "Tech" row instead of adding a second one
		if err := s.db.Store().Upsert(category.Name, &category); err != nil {
			return fmt.Errorf("failed to upsert category %s: %w", category.Name, err)
		}
	}

	s.logger.Debug().Int("count", len(categories)).Msg("Upserted categories")
	return nil
}

func (s *AccountStorage) UpsertAssignments(ctx context.Context, assignments []models.CategoryAssignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range assignments {
		assignment := assignments[i]
		if assignment.AccountID == "" {
			return fmt.Errorf("assignment account ID is required")
		}
		if err := s.db.Store().Upsert(assignment.AccountID, &assignment); err != nil {
			return fmt.Errorf("failed to upsert assignment for account %s: %w", assignment.AccountID, err)
		}
	}

	s.logger.Debug().Int("count", len(assignments)).Msg("Upserted category assignments")
	return nil
}
