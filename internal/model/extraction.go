package model

import "time"

// BoundingBox locates a citation on a PDF page in page coordinates.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Citation points from an extracted field back to the source text.
type Citation struct {
	Page        int          `json:"page"`
	Quote       string       `json:"quote"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

// Extraction is one completed extraction run against a lease. All maps are
// keyed by field path.
type Extraction struct {
	ID           int64               `json:"id"`
	LeaseID      int64               `json:"lease_id"`
	Extractions  map[string]any      `json:"extractions"`
	Reasoning    map[string]string   `json:"reasoning,omitempty"`
	Citations    map[string]Citation `json:"citations,omitempty"`
	Confidence   map[string]float64  `json:"confidence,omitempty"`
	ModelVersion string              `json:"model_version"`
	CreatedAt    time.Time           `json:"created_at"`
}
