package model

// FieldValue joins one schema field with its extraction result.
type FieldValue struct {
	Path       string    `json:"path"`
	Label      string    `json:"label"`
	Category   string    `json:"category"`
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Citation   *Citation `json:"citation,omitempty"`
}

// HasValue reports whether the extraction produced a value for the field.
func (f FieldValue) HasValue() bool {
	return f.Value != nil
}

// HeatmapField is the overlay shape of a field cited with a bounding box.
type HeatmapField struct {
	FieldPath   string      `json:"fieldPath"`
	Label       string      `json:"label"`
	Page        int         `json:"page"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}
