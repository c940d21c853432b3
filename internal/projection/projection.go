// Package projection joins extraction results against the field schema.
package projection

import (
	"github.com/leasebee/leasebee-cli/internal/model"
)

// LowConfidenceThreshold marks fields that need closer review.
const LowConfidenceThreshold = 0.70

// Project returns exactly one FieldValue per schema field, in schema order.
// Values the extraction does not mention default to nil with confidence 0;
// extraction keys absent from the schema are dropped. A missing schema or
// extraction yields an empty list.
func Project(fields []model.FieldDefinition, ext *model.Extraction) []model.FieldValue {
	out := make([]model.FieldValue, 0, len(fields))
	if ext == nil || len(fields) == 0 {
		return out
	}

	for _, f := range fields {
		fv := model.FieldValue{
			Path:       f.Path,
			Label:      f.Label,
			Category:   f.Category,
			Value:      ext.Extractions[f.Path],
			Confidence: ext.Confidence[f.Path],
			Reasoning:  ext.Reasoning[f.Path],
		}
		if c, ok := ext.Citations[f.Path]; ok {
			cite := c
			if c.BoundingBox != nil {
				box := *c.BoundingBox
				cite.BoundingBox = &box
			}
			fv.Citation = &cite
		}
		out = append(out, fv)
	}
	return out
}

// Heatmap reshapes the fields whose citation carries a bounding box into
// overlay markers. Page-only citations are left out.
func Heatmap(values []model.FieldValue) []model.HeatmapField {
	var out []model.HeatmapField
	for _, v := range values {
		if v.Citation == nil || v.Citation.BoundingBox == nil {
			continue
		}
		out = append(out, model.HeatmapField{
			FieldPath:   v.Path,
			Label:       v.Label,
			Page:        v.Citation.Page,
			Confidence:  v.Confidence,
			BoundingBox: *v.Citation.BoundingBox,
		})
	}
	return out
}

// Summary aggregates confidence across the fields that carry a value.
type Summary struct {
	Count         int     `json:"count"`
	Average       float64 `json:"avg_confidence"`
	Minimum       float64 `json:"min_confidence"`
	LowConfidence int     `json:"low_confidence_count"`
}

// Summarize computes the confidence summary for a projection.
func Summarize(values []model.FieldValue) Summary {
	var s Summary
	var total float64
	for _, v := range values {
		if !v.HasValue() {
			continue
		}
		if s.Count == 0 || v.Confidence < s.Minimum {
			s.Minimum = v.Confidence
		}
		s.Count++
		total += v.Confidence
		if v.Confidence < LowConfidenceThreshold {
			s.LowConfidence++
		}
	}
	if s.Count > 0 {
		s.Average = total / float64(s.Count)
	}
	return s
}
