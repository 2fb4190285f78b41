package scan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/ratelimit"
	"github.com/avermeer/circlesift/internal/retry"
)

// fakeSource serves accounts from fixed pages, using the page index as the
// pagination token
type fakeSource struct {
	mu    sync.Mutex
	pages [][]models.Account
	calls int
	err   error
	block bool
}

func (f *fakeSource) ListFollowing(ctx context.Context, targetID, pageToken string) (*interfaces.FollowingPage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}

	idx := 0
	if pageToken != "" {
		idx, _ = strconv.Atoi(pageToken)
	}
	page := &interfaces.FollowingPage{Accounts: f.pages[idx]}
	if idx+1 < len(f.pages) {
		page.NextToken = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClassifier struct {
	mu            sync.Mutex
	discoverErr   error
	failAccountID string // batches containing this account fail with a validation error
	batchCalls    int
}

func (f *fakeClassifier) DiscoverCategories(ctx context.Context, sample []models.Account) (*models.CategorySet, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return &models.CategorySet{
		Categories: []models.Category{
			{ID: "cat_1", Name: "Tech"},
			{ID: "cat_2", Name: "News"},
		},
	}, nil
}

func (f *fakeClassifier) ClassifyBatch(ctx context.Context, accounts []models.Account, categories *models.CategorySet) ([]models.CategoryAssignment, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()

	assignments := make([]models.CategoryAssignment, 0, len(accounts))
	for _, account := range accounts {
		if account.ID == f.failAccountID {
			return nil, retry.Validation(errors.New("malformed batch response"))
		}
		confidence := 0.9
		if account.ID == "low" {
			confidence = 0.5
		}
		assignments = append(assignments, models.CategoryAssignment{
			AccountID:    account.ID,
			CategoryName: "Tech",
			Confidence:   confidence,
			Alternative:  "News",
			AssignedAt:   time.Now(),
		})
	}
	return assignments, nil
}

type fakeStore struct {
	mu          sync.Mutex
	accounts    map[string]models.Account
	categories  map[string]models.Category
	assignments map[string]models.CategoryAssignment
	failWrites  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:    make(map[string]models.Account),
		categories:  make(map[string]models.Category),
		assignments: make(map[string]models.CategoryAssignment),
	}
}

func (f *fakeStore) UpsertAccounts(ctx context.Context, accounts []models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("disk full")
	}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return nil
}

func (f *fakeStore) UpsertCategories(ctx context.Context, categories []models.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("disk full")
	}
	for _, c := range categories {
		f.categories[c.Name] = c
	}
	return nil
}

func (f *fakeStore) UpsertAssignments(ctx context.Context, assignments []models.CategoryAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("disk full")
	}
	for _, a := range assignments {
		f.assignments[a.AccountID] = a
	}
	return nil
}

func (f *fakeStore) snapshot() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts), len(f.categories), len(f.assignments)
}

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Scan.BatchSize = 2
	cfg.Scan.BatchConcurrency = 2
	cfg.Scan.MaxRetries = 1
	cfg.Scan.PersistChunkSize = 2
	cfg.Scan.PersistRetries = 1
	cfg.Scan.RetryBaseDelay = "1ms"
	cfg.Scan.RetryMaxDelay = "2ms"
	return cfg
}

func newTestManager(t *testing.T, source interfaces.SourceAccountClient, classifier interfaces.ClassificationClient, store interfaces.AccountStore) *Manager {
	t.Helper()
	m := NewManager(testConfig(), source, classifier, store, ratelimit.NewWindow(nil), NewBroadcaster(), arbor.NewLogger())
	t.Cleanup(m.Close)
	return m
}

func makeAccounts(ids ...string) []models.Account {
	accounts := make([]models.Account, len(ids))
	for i, id := range ids {
		accounts[i] = models.Account{ID: id, Username: "user_" + id}
	}
	return accounts
}

func waitTerminal(t *testing.T, m *Manager, jobID string) *models.ScanJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Status(jobID)
		require.NoError(t, err)
		if job.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return nil
}

func collectEvents(t *testing.T, events <-chan models.ProgressEvent) []models.ProgressEvent {
	t.Helper()
	var collected []models.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, event)
			if event.Terminal() {
				return collected
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal progress event")
		}
	}
}

func TestManager_SuccessfulScan(t *testing.T) {
	source := &fakeSource{pages: [][]models.Account{
		makeAccounts("a1", "a2", "a3"),
		makeAccounts("a4", "low"),
	}}
	store := newFakeStore()
	m := newTestManager(t, source, &fakeClassifier{}, store)

	jobID, err := m.Start("target_1")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	events, unsubscribe, err := m.Subscribe(jobID)
	require.NoError(t, err)
	defer unsubscribe()
	collected := collectEvents(t, events)

	job := waitTerminal(t, m, jobID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 5, job.Fetched)
	assert.Equal(t, 5, job.Categorized)
	assert.Equal(t, 5, job.Saved)
	assert.Equal(t, 2, job.Categories)
	assert.Empty(t, job.ErrorMessage)
	assert.NotNil(t, job.CompletedAt)

	accounts, categories, assignments := store.snapshot()
	assert.Equal(t, 5, accounts)
	assert.Equal(t, 2, categories)
	assert.Equal(t, 5, assignments)

	// high-confidence assignments drop the alternative, low-confidence keep it
	store.mu.Lock()
	assert.Equal(t, "News", store.assignments["low"].Alternative)
	assert.Empty(t, store.assignments["a1"].Alternative)
	store.mu.Unlock()

	require.NotEmpty(t, collected)
	assert.True(t, collected[len(collected)-1].Terminal())
	for i := 1; i < len(collected); i++ {
		assert.Greater(t, collected[i].Sequence, collected[i-1].Sequence, "sequence numbers strictly increase")
		assert.GreaterOrEqual(t, collected[i].Progress, collected[i-1].Progress, "progress never decreases")
	}
}

func TestManager_ConflictOnDuplicateStart(t *testing.T) {
	source := &fakeSource{block: true}
	m := newTestManager(t, source, &fakeClassifier{}, newFakeStore())

	first, err := m.Start("target_1")
	require.NoError(t, err)

	_, err = m.Start("target_1")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first, conflict.JobID, "conflict carries the running job's ID")

	// the running job is unchanged by the rejected start
	job, err := m.Status(first)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)

	// a different target is unaffected
	other, err := m.Start("target_2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestManager_StartAfterCompletionAllowed(t *testing.T) {
	source := &fakeSource{pages: [][]models.Account{makeAccounts("a1")}}
	m := newTestManager(t, source, &fakeClassifier{}, newFakeStore())

	first, err := m.Start("target_1")
	require.NoError(t, err)
	waitTerminal(t, m, first)

	second, err := m.Start("target_1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	waitTerminal(t, m, second)
}

func TestManager_InvalidTarget(t *testing.T) {
	m := newTestManager(t, &fakeSource{}, &fakeClassifier{}, newFakeStore())

	_, err := m.Start("   ")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestManager_Cancel(t *testing.T) {
	source := &fakeSource{block: true}
	store := newFakeStore()
	m := newTestManager(t, source, &fakeClassifier{}, store)

	jobID, err := m.Start("target_1")
	require.NoError(t, err)

	require.NoError(t, m.Cancel(jobID))

	job := waitTerminal(t, m, jobID)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	// no further external calls after cancellation
	calls := source.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, source.callCount())

	accounts, categories, assignments := store.snapshot()
	assert.Zero(t, accounts+categories+assignments, "nothing persisted for a cancelled fetch")

	// target frees up for a new scan
	_, err = m.Start("target_1")
	require.NoError(t, err)
}

func TestManager_CancelErrors(t *testing.T) {
	source := &fakeSource{pages: [][]models.Account{makeAccounts("a1")}}
	m := newTestManager(t, source, &fakeClassifier{}, newFakeStore())

	assert.ErrorIs(t, m.Cancel("missing"), ErrNotFound)

	jobID, err := m.Start("target_1")
	require.NoError(t, err)
	waitTerminal(t, m, jobID)

	assert.ErrorIs(t, m.Cancel(jobID), ErrAlreadyTerminal)
}

func TestManager_StatusNotFound(t *testing.T) {
	m := newTestManager(t, &fakeSource{}, &fakeClassifier{}, newFakeStore())

	_, err := m.Status("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = m.Subscribe("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_BatchDegradationFallsBackToOther(t *testing.T) {
	source := &fakeSource{pages: [][]models.Account{
		makeAccounts("a1", "a2", "bad", "a3", "a4", "a5"),
	}}
	store := newFakeStore()
	classifier := &fakeClassifier{failAccountID: "bad"}
	m := newTestManager(t, source, classifier, store)

	jobID, err := m.Start("target_1")
	require.NoError(t, err)

	job := waitTerminal(t, m, jobID)
	assert.Equal(t, models.JobStatusCompleted, job.Status, "batch degradation is not fatal")
	assert.Equal(t, 6, job.Categorized)
	require.NotEmpty(t, job.Warnings, "degradation is recorded as a warning")
	assert.Empty(t, job.ErrorMessage)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.assignments, 6)

	// the failed batch ("bad" and its batch mate) falls back wholesale
	fallback := store.assignments["bad"]
	assert.Equal(t, models.FallbackCategory, fallback.CategoryName)
	assert.Equal(t, 0.0, fallback.Confidence)
	assert.Equal(t, "classification failed", fallback.Reasoning)

	// other batches keep their normal assignments
	assert.Equal(t, "Tech", store.assignments["a1"].CategoryName)
	assert.Equal(t, 0.9, store.assignments["a1"].Confidence)
}

func TestManager_DiscoveryFailureIsFatal(t *testing.T) {
	source := &fakeSource{pages: [][]models.Account{makeAccounts("a1", "a2")}}
	store := newFakeStore()
	classifier := &fakeClassifier{discoverErr: retry.Validation(errors.New("no categories in response"))}
	m := newTestManager(t, source, classifier, store)

	jobID, err := m.Start("target_1")
	require.NoError(t, err)

	job := waitTerminal(t, m, jobID)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "category discovery failed")

	accounts, categories, assignments := store.snapshot()
	assert.Zero(t, accounts+categories+assignments)
}

func TestManager_AuthFailureIsImmediatelyFatal(t *testing.T) {
	source := &fakeSource{err: retry.Auth(errors.New("bearer token rejected"))}
	m := newTestManager(t, source, &fakeClassifier{}, newFakeStore())

	jobID, err := m.Start("target_1")
	require.NoError(t, err)

	job := waitTerminal(t, m, jobID)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, 1, source.callCount(), "auth failures are never retried")
}

func TestManager_PersistenceFailureIsFatal(t *testing.T) {
	source := &fakeSource{pages: [][]models.Account{makeAccounts("a1", "a2")}}
	store := newFakeStore()
	store.failWrites = true
	m := newTestManager(t, source, &fakeClassifier{}, store)

	jobID, err := m.Start("target_1")
	require.NoError(t, err)

	job := waitTerminal(t, m, jobID)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "persist")
}

func TestManager_TransientFetchErrorRetriesThenSucceeds(t *testing.T) {
	source := &flakySource{failures: 1, pages: [][]models.Account{makeAccounts("a1")}}
	m := newTestManager(t, source, &fakeClassifier{}, newFakeStore())

	jobID, err := m.Start("target_1")
	require.NoError(t, err)

	job := waitTerminal(t, m, jobID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Fetched)
}

// flakySource fails the first N calls with a transient error, then serves
// pages normally
type flakySource struct {
	mu       sync.Mutex
	failures int
	pages    [][]models.Account
}

func (f *flakySource) ListFollowing(ctx context.Context, targetID, pageToken string) (*interfaces.FollowingPage, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, retry.Transient(fmt.Errorf("HTTP 503"))
	}
	f.mu.Unlock()

	idx := 0
	if pageToken != "" {
		idx, _ = strconv.Atoi(pageToken)
	}
	page := &interfaces.FollowingPage{Accounts: f.pages[idx]}
	if idx+1 < len(f.pages) {
		page.NextToken = strconv.Itoa(idx + 1)
	}
	return page, nil
}
