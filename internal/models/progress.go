package models

import "time"

// ProgressEvent is an ordered, timestamped update describing a job's stage
// and completion fraction. Sequence numbers are strictly increasing per job
// so subscribers can detect gaps and reordering.
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Stage     JobStage  `json:"stage"`
	Sequence  uint64    `json:"sequence"`
	Progress  int       `json:"progress"`
	Current   int       `json:"current"`
	Total     int       `json:"total"` // 0 means unknown (treat as "at least current")
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether this event closes the stream
func (e *ProgressEvent) Terminal() bool {
	return e.Status == JobStatusCompleted ||
		e.Status == JobStatusError ||
		e.Status == JobStatusCancelled
}
