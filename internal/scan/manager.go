package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/ratelimit"
	"github.com/avermeer/circlesift/internal/retry"
)

// Errors surfaced synchronously to trigger callers
var (
	ErrNotFound        = errors.New("scan job not found")
	ErrAlreadyTerminal = errors.New("scan job already finished")
	ErrInvalidTarget   = errors.New("scan target is required")
)

// ConflictError reports that a running job already exists for the target.
// It carries the existing job ID so the caller can subscribe to it instead.
type ConflictError struct {
	JobID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a scan is already running for this target (job %s)", e.JobID)
}

// settings are the pipeline tunables, resolved from configuration once at
// construction
type settings struct {
	discoverySampleSize int
	batchSize           int
	batchConcurrency    int
	confidenceThreshold float64
	persistChunkSize    int
	retention           time.Duration
	policy              *retry.Policy
	persistPolicy       *retry.Policy
}

type jobEntry struct {
	job    *models.ScanJob
	cancel context.CancelFunc
}

// Manager owns the scan job lifecycle. It enforces at most one running job
// per target, sequences the pipeline stages inside a cancellable unit of
// work, and is the single writer of terminal job state. Terminal jobs stay
// queryable for the retention window, then a reaper removes them.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*jobEntry // keyed by job ID
	active map[string]string    // target ID -> running job ID

	source      interfaces.SourceAccountClient
	classifier  interfaces.ClassificationClient
	store       interfaces.AccountStore
	limiter     *ratelimit.Window
	broadcaster *Broadcaster
	settings    settings
	logger      arbor.ILogger

	wg   sync.WaitGroup
	done chan struct{}
}

func NewManager(
	cfg *common.Config,
	source interfaces.SourceAccountClient,
	classifier interfaces.ClassificationClient,
	store interfaces.AccountStore,
	limiter *ratelimit.Window,
	broadcaster *Broadcaster,
	logger arbor.ILogger,
) *Manager {
	baseDelay := common.Duration(cfg.Scan.RetryBaseDelay, 2*time.Second)
	maxDelay := common.Duration(cfg.Scan.RetryMaxDelay, 30*time.Second)

	m := &Manager{
		jobs:        make(map[string]*jobEntry),
		active:      make(map[string]string),
		source:      source,
		classifier:  classifier,
		store:       store,
		limiter:     limiter,
		broadcaster: broadcaster,
		settings: settings{
			discoverySampleSize: cfg.Scan.DiscoverySampleSize,
			batchSize:           cfg.Scan.BatchSize,
			batchConcurrency:    cfg.Scan.BatchConcurrency,
			confidenceThreshold: cfg.Scan.ConfidenceThreshold,
			persistChunkSize:    cfg.Scan.PersistChunkSize,
			retention:           common.Duration(cfg.Scan.RetentionWindow, time.Hour),
			policy:              retry.NewPolicy(cfg.Scan.MaxRetries, baseDelay, maxDelay),
			persistPolicy:       retry.NewPolicy(cfg.Scan.PersistRetries, baseDelay, maxDelay),
		},
		logger: logger,
		done:   make(chan struct{}),
	}

	m.wg.Add(1)
	go m.reap()

	return m
}

// Start triggers a scan for the target. When two starts race for the same
// target exactly one wins; the loser receives a ConflictError carrying the
// winning job's ID and no second job is created.
func (m *Manager) Start(targetID string) (string, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return "", ErrInvalidTarget
	}

	m.mu.Lock()
	if existing, ok := m.active[targetID]; ok {
		m.mu.Unlock()
		return "", &ConflictError{JobID: existing}
	}

	job := models.NewScanJob(common.NewScanJobID(), targetID)
	job.MarkStarted()

	ctx, cancel := context.WithCancel(context.Background())
	m.jobs[job.ID] = &jobEntry{job: job, cancel: cancel}
	m.active[targetID] = job.ID
	m.mu.Unlock()

	m.logger.Info().
		Str("job_id", job.ID).
		Str("target_id", targetID).
		Msg("Scan started")

	m.publish(job, 0, 0, "Scan started")

	m.wg.Add(1)
	go m.run(ctx, job)

	return job.ID, nil
}

// Status returns a snapshot of the job
func (m *Manager) Status(jobID string) (*models.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.job.Clone(), nil
}

// Cancel requests cooperative cancellation. The in-flight external call is
// allowed to finish; the job's next step observes the cancellation and
// transitions to cancelled without further I/O.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if entry.job.IsTerminal() {
		m.mu.Unlock()
		return ErrAlreadyTerminal
	}
	m.mu.Unlock()

	m.logger.Info().Str("job_id", jobID).Msg("Scan cancellation requested")
	entry.cancel()
	return nil
}

// Subscribe returns the job's progress stream, beginning with the current
// snapshot so late subscribers are not blind
func (m *Manager) Subscribe(jobID string) (<-chan models.ProgressEvent, func(), error) {
	m.mu.Lock()
	_, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, ErrNotFound
	}

	events, unsubscribe := m.broadcaster.Subscribe(jobID)
	return events, unsubscribe, nil
}

// LastEvent returns the most recent progress event published for the job
func (m *Manager) LastEvent(jobID string) (models.ProgressEvent, bool) {
	return m.broadcaster.LastEvent(jobID)
}

// Close cancels every running job and waits for their goroutines and the
// reaper to exit
func (m *Manager) Close() {
	m.mu.Lock()
	for _, entry := range m.jobs {
		if !entry.job.IsTerminal() {
			entry.cancel()
		}
	}
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// run executes the stage sequence and writes the terminal state. This is
// the only place a job transitions to completed, error or cancelled.
func (m *Manager) run(ctx context.Context, job *models.ScanJob) {
	defer m.wg.Done()

	p := &pipeline{m: m, job: job}
	err := p.execute(ctx)

	var message string
	m.mu.Lock()
	switch {
	case err == nil:
		job.MarkCompleted()
		message = "Scan completed"
	case errors.Is(err, context.Canceled):
		job.MarkCancelled()
		message = "Scan cancelled"
	default:
		job.MarkFailed(err.Error())
		message = "Scan failed: " + err.Error()
	}
	delete(m.active, job.TargetID)
	status := job.Status
	fetched := job.Fetched
	warnings := len(job.Warnings)
	m.mu.Unlock()

	event := m.logger.Info()
	if status == models.JobStatusError {
		event = m.logger.Error().Err(err)
	}
	event.
		Str("job_id", job.ID).
		Str("target_id", job.TargetID).
		Str("status", string(status)).
		Int("fetched", fetched).
		Int("warnings", warnings).
		Msg("Scan finished")

	m.publish(job, fetched, fetched, message)
}

// update mutates the job under the manager's lock. Stages never touch the
// job directly.
func (m *Manager) update(job *models.ScanJob, fn func(*models.ScanJob)) {
	m.mu.Lock()
	fn(job)
	m.mu.Unlock()
}

// publish snapshots the job under the lock and hands the event to the
// broadcaster, which assigns the sequence number
func (m *Manager) publish(job *models.ScanJob, current, total int, message string) {
	m.mu.Lock()
	event := models.ProgressEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Stage:     job.Stage,
		Progress:  job.Progress,
		Current:   current,
		Total:     total,
		Message:   message,
		Timestamp: time.Now(),
	}
	m.mu.Unlock()

	m.broadcaster.Publish(event)
}

// reap removes terminal jobs once their retention window lapses
func (m *Manager) reap() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.settings.retention)
			m.mu.Lock()
			for id, entry := range m.jobs {
				if entry.job.IsTerminal() && entry.job.CompletedAt != nil && entry.job.CompletedAt.Before(cutoff) {
					delete(m.jobs, id)
					m.broadcaster.Forget(id)
					m.logger.Debug().Str("job_id", id).Msg("Reaped terminal scan job")
				}
			}
			m.mu.Unlock()
		}
	}
}
