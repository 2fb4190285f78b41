package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/models"
)

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "circlesift-test"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func seedAccount(id, username string, followers int, verified bool) models.Account {
	return models.Account{
		ID:             id,
		Username:       username,
		DisplayName:    username,
		FollowersCount: followers,
		Verified:       verified,
	}
}

func seedAssignment(accountID, category string, confidence float64) models.CategoryAssignment {
	return models.CategoryAssignment{
		AccountID:    accountID,
		CategoryName: category,
		Confidence:   confidence,
		JobID:        "scan_test",
	}
}

func TestUpsertAccounts_Idempotent(t *testing.T) {
	manager := newTestStorage(t)
	ctx := context.Background()
	store := manager.AccountStore()
	reader := manager.AccountReader()

	require.NoError(t, store.UpsertAccounts(ctx, []models.Account{seedAccount("1", "original", 10, false)}))
	require.NoError(t, store.UpsertAccounts(ctx, []models.Account{seedAccount("1", "updated", 20, true)}))
	require.NoError(t, store.UpsertAssignments(ctx, []models.CategoryAssignment{seedAssignment("1", "Tech", 0.9)}))

	accounts, total, err := reader.ListAccounts(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "re-upserting the same ID must not duplicate rows")
	require.Len(t, accounts, 1)
	assert.Equal(t, "updated", accounts[0].Username, "last write wins")
	assert.Equal(t, 20, accounts[0].FollowersCount)
	assert.Equal(t, "Tech", accounts[0].Category)
}

func TestUpsertAccounts_RequiresID(t *testing.T) {
	manager := newTestStorage(t)
	err := manager.AccountStore().UpsertAccounts(context.Background(), []models.Account{{Username: "no-id"}})
	require.Error(t, err)
}

func TestListAccounts_FilterAndPagination(t *testing.T) {
	manager := newTestStorage(t)
	ctx := context.Background()
	store := manager.AccountStore()
	reader := manager.AccountReader()

	var accounts []models.Account
	var assignments []models.CategoryAssignment
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		accounts = append(accounts, seedAccount(id, "user_"+id, 100, false))
		category := "Tech"
		if id == "5" {
			category = "News"
		}
		assignments = append(assignments, seedAssignment(id, category, 0.8))
	}
	require.NoError(t, store.UpsertAccounts(ctx, accounts))
	require.NoError(t, store.UpsertAssignments(ctx, assignments))

	tech, total, err := reader.ListAccounts(ctx, "Tech", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, tech, 4)

	firstPage, total, err := reader.ListAccounts(ctx, "Tech", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total, "total reflects all matches, not the page")
	require.Len(t, firstPage, 2)

	secondPage, _, err := reader.ListAccounts(ctx, "Tech", 2, 2)
	require.NoError(t, err)
	require.Len(t, secondPage, 2)
	assert.NotEqual(t, firstPage[0].ID, secondPage[0].ID)

	none, total, err := reader.ListAccounts(ctx, "Missing", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func TestUpsertCategories_RescanSupersedesByName(t *testing.T) {
	manager := newTestStorage(t)
	ctx := context.Background()
	store := manager.AccountStore()

	require.NoError(t, store.UpsertCategories(ctx, []models.Category{
		{ID: "cat_a", Name: "Tech", Description: "first scan", JobID: "scan_1"},
		{ID: "cat_b", Name: "News", Description: "first scan", JobID: "scan_1"},
	}))

	// a re-scan discovers an overlapping set with fresh IDs
	require.NoError(t, store.UpsertCategories(ctx, []models.Category{
		{ID: "cat_c", Name: "Tech", Description: "second scan", JobID: "scan_2"},
	}))

	categories, err := manager.AccountReader().ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)

	seen := make(map[string]models.Category)
	for _, c := range categories {
		_, dup := seen[c.Name]
		require.False(t, dup, "category name %q stored more than once", c.Name)
		seen[c.Name] = c
	}

	tech := seen["Tech"]
	assert.Equal(t, "scan_2", tech.JobID, "same-name category is replaced by the later scan")
	assert.Equal(t, "second scan", tech.Description)
	assert.Equal(t, "scan_1", seen["News"].JobID)
}

func TestUpsertCategories_RequiresName(t *testing.T) {
	manager := newTestStorage(t)
	err := manager.AccountStore().UpsertCategories(context.Background(), []models.Category{{ID: "cat_a"}})
	require.Error(t, err)
}

func TestListCategories_SortedByName(t *testing.T) {
	manager := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, manager.AccountStore().UpsertCategories(ctx, []models.Category{
		{ID: "cat_2", Name: "News", JobID: "scan_test"},
		{ID: "cat_1", Name: "Arts", JobID: "scan_test"},
	}))

	categories, err := manager.AccountReader().ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Arts", categories[0].Name)
	assert.Equal(t, "News", categories[1].Name)
}

func TestCategoryStats_Aggregation(t *testing.T) {
	manager := newTestStorage(t)
	ctx := context.Background()
	store := manager.AccountStore()

	require.NoError(t, store.UpsertAccounts(ctx, []models.Account{
		seedAccount("1", "a", 100, true),
		seedAccount("2", "b", 300, false),
		seedAccount("3", "c", 50, false),
	}))
	require.NoError(t, store.UpsertAssignments(ctx, []models.CategoryAssignment{
		seedAssignment("1", "Tech", 0.9),
		seedAssignment("2", "Tech", 0.8),
		seedAssignment("3", "News", 0.7),
	}))

	stats, err := manager.AccountReader().CategoryStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	// sorted by count descending
	tech := stats[0]
	assert.Equal(t, "Tech", tech.Name)
	assert.Equal(t, 2, tech.Count)
	assert.InDelta(t, 66.7, tech.Percentage, 0.1)
	assert.InDelta(t, 200.0, tech.AvgFollowers, 0.01)
	assert.InDelta(t, 0.5, tech.VerificationRate, 0.01)

	news := stats[1]
	assert.Equal(t, "News", news.Name)
	assert.Equal(t, 1, news.Count)
}

func TestCategoryStats_Empty(t *testing.T) {
	manager := newTestStorage(t)
	stats, err := manager.AccountReader().CategoryStats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}
