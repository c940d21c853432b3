package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// FieldFeedback is a reviewer decision on one field. CorrectedValue is nil
// unless the reviewer supplied a replacement value.
type FieldFeedback struct {
	FieldPath      string `json:"fieldPath"`
	IsCorrect      bool   `json:"isCorrect"`
	CorrectedValue any    `json:"correctedValue,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// HasCorrection reports whether a replacement value was supplied.
func (f FieldFeedback) HasCorrection() bool {
	return f.CorrectedValue != nil
}

// CorrectionType derives the wire correction type for the decision.
func (f FieldFeedback) CorrectionType() CorrectionType {
	switch {
	case f.IsCorrect:
		return CorrectionAccept
	case f.HasCorrection():
		return CorrectionEdit
	default:
		return CorrectionReject
	}
}

// FeedbackMap holds at most one decision per field path.
type FeedbackMap map[string]FieldFeedback

// Clone returns a shallow copy of the map. A nil map clones to an empty one.
func (m FeedbackMap) Clone() FeedbackMap {
	out := make(FeedbackMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ProgressSnapshot is the locally persisted review state for one
// lease/extraction pair. Timestamp is epoch milliseconds of the last write.
type ProgressSnapshot struct {
	LeaseID      int64       `json:"leaseId"`
	ExtractionID int64       `json:"extractionId"`
	Timestamp    int64       `json:"timestamp"`
	Feedback     FeedbackMap `json:"feedback"`
	Version      int         `json:"version"`
}

// SavedAt returns Timestamp as a time.Time.
func (s ProgressSnapshot) SavedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// CorrectionType classifies a submitted correction.
type CorrectionType string

const (
	CorrectionAccept CorrectionType = "accept"
	CorrectionReject CorrectionType = "reject"
	CorrectionEdit   CorrectionType = "edit"
)

// Correction is the wire body for one field correction.
type Correction struct {
	FieldPath          string         `json:"field_path"`
	OriginalValue      *string        `json:"original_value"`
	CorrectedValue     *string        `json:"corrected_value"`
	CorrectionType     CorrectionType `json:"correction_type"`
	Notes              *string        `json:"notes"`
	OriginalConfidence *float64       `json:"original_confidence,omitempty"`
}

// NewCorrection builds the wire correction for a reviewed field.
func NewCorrection(field FieldValue, fb FieldFeedback) Correction {
	c := Correction{
		FieldPath:      fb.FieldPath,
		OriginalValue:  Stringify(field.Value),
		CorrectedValue: Stringify(fb.CorrectedValue),
		CorrectionType: fb.CorrectionType(),
	}
	if fb.Notes != "" {
		notes := fb.Notes
		c.Notes = &notes
	}
	if field.Path != "" {
		conf := field.Confidence
		c.OriginalConfidence = &conf
	}
	return c
}

// FieldCorrection is a stored correction record.
type FieldCorrection struct {
	ID           int64 `json:"id"`
	ExtractionID int64 `json:"extraction_id"`
	Correction
	CreatedAt time.Time `json:"created_at"`
}

// Stringify renders a value for transport: nil stays nil, strings pass
// through, everything else becomes its JSON text.
func Stringify(v any) *string {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return &s
	}
	b, err := json.Marshal(v)
	if err != nil {
		s := fmt.Sprint(v)
		return &s
	}
	s := string(b)
	return &s
}
