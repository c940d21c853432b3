package model

import "time"

// LeaseStatus represents the processing state of an uploaded lease.
type LeaseStatus string

const (
	LeaseStatusUploaded   LeaseStatus = "uploaded"
	LeaseStatusProcessing LeaseStatus = "processing"
	LeaseStatusCompleted  LeaseStatus = "completed"
	LeaseStatusFailed     LeaseStatus = "failed"
	LeaseStatusReviewed   LeaseStatus = "reviewed"
)

// Terminal reports whether no further extraction work is pending for the lease.
func (s LeaseStatus) Terminal() bool {
	switch s {
	case LeaseStatusCompleted, LeaseStatusFailed, LeaseStatusReviewed:
		return true
	default:
		return false
	}
}

// Lease is an uploaded source PDF and its processing state.
type Lease struct {
	ID                 int64       `json:"id"`
	Filename           string      `json:"filename"`
	OriginalFilename   string      `json:"original_filename"`
	FilePath           string      `json:"file_path,omitempty"`
	FileSize           int64       `json:"file_size"`
	Status             LeaseStatus `json:"status"`
	PageCount          *int        `json:"page_count,omitempty"`
	ErrorMessage       string      `json:"error_message,omitempty"`
	AvgConfidence      *float64    `json:"avg_confidence,omitempty"`
	MinConfidence      *float64    `json:"min_confidence,omitempty"`
	LowConfidenceCount *int        `json:"low_confidence_count,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	ProcessedAt        *time.Time  `json:"processed_at,omitempty"`
}
