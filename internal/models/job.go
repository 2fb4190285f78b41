package models

import "time"

// JobStatus represents the lifecycle state of a scan job
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobStage identifies the pipeline stage currently executing
type JobStage string

const (
	StageNone       JobStage = "none"
	StageFetch      JobStage = "fetch"
	StageDiscover   JobStage = "discover"
	StageCategorize JobStage = "categorize"
	StagePersist    JobStage = "persist"
)

// ScanJob tracks one end-to-end scan run for a target.
//
// Mutated only by the stage currently executing; the manager hands out
// copies, never the live struct. Once Status reaches a terminal value it
// never changes again and all counters are frozen.
type ScanJob struct {
	ID           string     `json:"job_id"`
	TargetID     string     `json:"target_id"`
	Status       JobStatus  `json:"status"`
	Stage        JobStage   `json:"stage"`
	Progress     int        `json:"progress"` // 0-100, non-decreasing while running
	Fetched      int        `json:"accounts_fetched"`
	Categorized  int        `json:"accounts_categorized"`
	Saved        int        `json:"accounts_saved"`
	Categories   int        `json:"categories_discovered"`
	Message      string     `json:"message,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewScanJob creates a job in the idle state
func NewScanJob(id, targetID string) *ScanJob {
	return &ScanJob{
		ID:       id,
		TargetID: targetID,
		Status:   JobStatusIdle,
		Stage:    StageNone,
	}
}

// IsTerminal returns true once the job has reached an absorbing state
func (j *ScanJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted ||
		j.Status == JobStatusError ||
		j.Status == JobStatusCancelled
}

// Clone returns a copy safe to hand to callers while stages keep mutating
// the original under the manager's lock
func (j *ScanJob) Clone() *ScanJob {
	c := *j
	if j.Warnings != nil {
		c.Warnings = append([]string(nil), j.Warnings...)
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// MarkStarted transitions the job into the running state
func (j *ScanJob) MarkStarted() {
	j.Status = JobStatusRunning
	j.Stage = StageFetch
	j.StartedAt = time.Now()
}

// MarkCompleted freezes the job in the completed state
func (j *ScanJob) MarkCompleted() {
	j.Status = JobStatusCompleted
	j.Stage = StageNone
	j.Progress = 100
	now := time.Now()
	j.CompletedAt = &now
}

// MarkFailed freezes the job in the error state with a short actionable message
func (j *ScanJob) MarkFailed(errorMsg string) {
	j.Status = JobStatusError
	j.ErrorMessage = errorMsg
	now := time.Now()
	j.CompletedAt = &now
}

// MarkCancelled freezes the job in the cancelled state
func (j *ScanJob) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := time.Now()
	j.CompletedAt = &now
}

// AddWarning records a non-fatal degradation (e.g. a batch that fell back
// to the reserved category) distinct from the fatal error field
func (j *ScanJob) AddWarning(msg string) {
	j.Warnings = append(j.Warnings, msg)
}

// SetProgress advances progress, never letting it decrease
func (j *ScanJob) SetProgress(pct int) {
	if pct > 100 {
		pct = 100
	}
	if pct > j.Progress {
		j.Progress = pct
	}
}
