package model

// Trend compares the accept rate of the last 30 days with the 30 days before.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// AccuracyMetrics summarizes reviewer corrections across every lease.
// Accuracy is the share of corrections that accepted the extracted value.
type AccuracyMetrics struct {
	OverallAccuracy  float64 `json:"overallAccuracy"`
	TotalExtractions int64   `json:"totalExtractions"`
	TotalCorrections int64   `json:"totalCorrections"`
	AvgConfidence    float64 `json:"avgConfidence"`
	Trend            Trend   `json:"trend"`
}

// FieldAccuracy is the review record of one field path.
type FieldAccuracy struct {
	Field         string  `json:"field"`
	Accuracy      float64 `json:"accuracy"`
	Corrections   int64   `json:"corrections"`
	AvgConfidence float64 `json:"avgConfidence"`
}
