package models

import "time"

// FallbackCategory is the reserved label assigned to accounts whose
// classification batch failed after exhausting retries.
const FallbackCategory = "Other"

// Category is a discovered grouping. Two scans of the same target are not
// guaranteed to produce identical category sets; stored categories are keyed
// by name, so a re-scan replaces same-name rows instead of accumulating
// duplicates. ID identifies the discovery that produced the row.
type Category struct {
	ID               string   `json:"id"`
	Name             string   `json:"name" badgerhold:"key"`
	Description      string   `json:"description,omitempty"`
	Characteristics  []string `json:"characteristics,omitempty"`
	EstimatedPercent float64  `json:"estimated_percentage,omitempty"`
	JobID            string   `json:"job_id"`
}

// CategorySet is the result of one discovery call
type CategorySet struct {
	Categories      []Category `json:"categories"`
	AnalysisSummary string     `json:"analysis_summary,omitempty"`
}

// Names returns the category names in discovery order
func (cs *CategorySet) Names() []string {
	names := make([]string, len(cs.Categories))
	for i, c := range cs.Categories {
		names[i] = c.Name
	}
	return names
}

// CategoryAssignment maps one account to its primary category.
// Alternative is populated only when confidence falls below the configured
// threshold; the primary assignment still uses the top category.
type CategoryAssignment struct {
	AccountID    string    `json:"account_id" badgerhold:"key"`
	CategoryName string    `json:"category"`
	Confidence   float64   `json:"confidence"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Alternative  string    `json:"alternative,omitempty"`
	JobID        string    `json:"job_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// CategorizedAccount joins an account with its assignment for the read surface
type CategorizedAccount struct {
	Account
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Alternative string  `json:"alternative,omitempty"`
}

// CategoryStats aggregates stored assignments for one category
type CategoryStats struct {
	Name             string  `json:"name"`
	Count            int     `json:"count"`
	Percentage       float64 `json:"percentage"`
	AvgFollowers     float64 `json:"avg_followers"`
	VerificationRate float64 `json:"verification_rate"`
}
