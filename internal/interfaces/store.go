package interfaces

import (
	"context"

	"github.com/avermeer/circlesift/internal/models"
)

// AccountStore is the durable write path for scan results. All upserts are
// idempotent and keyed by stable identity: accounts and assignments by
// account ID, categories by name. Writing the same key twice yields exactly
// one stored row with the latest data, so a re-scan supersedes prior rows.
type AccountStore interface {
	UpsertAccounts(ctx context.Context, accounts []models.Account) error
	UpsertCategories(ctx context.Context, categories []models.Category) error
	UpsertAssignments(ctx context.Context, assignments []models.CategoryAssignment) error
}

// AccountReader is the read surface consumed by the dashboard handlers
type AccountReader interface {
	ListAccounts(ctx context.Context, category string, offset, limit int) ([]models.CategorizedAccount, int, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	CategoryStats(ctx context.Context) ([]models.CategoryStats, error)
}

// StorageManager bundles the storage interfaces behind one lifecycle
type StorageManager interface {
	AccountStore() AccountStore
	AccountReader() AccountReader
	Close() error
}
