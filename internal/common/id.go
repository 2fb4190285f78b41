package common

import (
	"github.com/google/uuid"
)

// NewScanJobID generates a unique scan job ID with the "scan_" prefix
// Format: scan_<uuid>
func NewScanJobID() string {
	return "scan_" + uuid.New().String()
}
