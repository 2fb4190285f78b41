package classify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/retry"
)

// extractJSON strips markdown code fences the models sometimes wrap
// around their JSON output
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	return strings.TrimSpace(text)
}

type discoveryResponse struct {
	Categories []struct {
		Name             string   `json:"name"`
		Description      string   `json:"description"`
		Characteristics  []string `json:"characteristics"`
		EstimatedPercent float64  `json:"estimated_percentage"`
	} `json:"categories"`
	AnalysisSummary string `json:"analysis_summary"`
}

// parseDiscoveryResponse validates the discovery payload against the
// minimal schema: a non-empty category list, each with a non-empty name.
func parseDiscoveryResponse(text, jobID string) (*models.CategorySet, error) {
	var resp discoveryResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, retry.Validation(fmt.Errorf("failed to parse discovery response: %w", err))
	}

	if len(resp.Categories) == 0 {
		return nil, retry.Validation(fmt.Errorf("discovery response contains no categories"))
	}

	set := &models.CategorySet{
		Categories:      make([]models.Category, 0, len(resp.Categories)),
		AnalysisSummary: resp.AnalysisSummary,
	}
	for _, c := range resp.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, retry.Validation(fmt.Errorf("discovery response contains a category with an empty name"))
		}
		set.Categories = append(set.Categories, models.Category{
			ID:               "cat_" + uuid.New().String(),
			Name:             c.Name,
			Description:      c.Description,
			Characteristics:  c.Characteristics,
			EstimatedPercent: c.EstimatedPercent,
			JobID:            jobID,
		})
	}

	return set, nil
}

type batchEntry struct {
	AccountIndex int     `json:"account_index"`
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	Alternative  string  `json:"alternative"`
}

// parseBatchResponse turns a classification payload into one assignment
// per input account, keyed by position. A response that omits or misorders
// accounts is a validation error so the stage can retry or degrade.
func parseBatchResponse(text string, accounts []models.Account) ([]models.CategoryAssignment, error) {
	raw := extractJSON(text)

	var entries []batchEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// Some models wrap the array in an object
		var wrapped struct {
			Categorizations []batchEntry `json:"categorizations"`
		}
		if werr := json.Unmarshal([]byte(raw), &wrapped); werr != nil || wrapped.Categorizations == nil {
			return nil, retry.Validation(fmt.Errorf("failed to parse batch response: %w", err))
		}
		entries = wrapped.Categorizations
	}

	if len(entries) != len(accounts) {
		return nil, retry.Validation(fmt.Errorf("batch response has %d entries for %d accounts", len(entries), len(accounts)))
	}

	now := time.Now()
	assignments := make([]models.CategoryAssignment, 0, len(accounts))
	for i, entry := range entries {
		if entry.AccountIndex != 0 && entry.AccountIndex != i+1 {
			return nil, retry.Validation(fmt.Errorf("batch response misordered: entry %d has account_index %d", i, entry.AccountIndex))
		}
		if strings.TrimSpace(entry.Category) == "" {
			return nil, retry.Validation(fmt.Errorf("batch response entry %d has an empty category", i))
		}

		confidence := entry.Confidence
		if confidence < 0 {
			confidence = 0
		} else if confidence > 1 {
			confidence = 1
		}

		assignments = append(assignments, models.CategoryAssignment{
			AccountID:    accounts[i].ID,
			CategoryName: entry.Category,
			Confidence:   confidence,
			Reasoning:    entry.Reasoning,
			Alternative:  entry.Alternative,
			AssignedAt:   now,
		})
	}

	return assignments, nil
}
