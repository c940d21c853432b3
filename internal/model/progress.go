package model

// Stage is a step of the server-side extraction process.
type Stage string

const (
	StageUploading      Stage = "uploading"
	StageExtractingText Stage = "extracting_text"
	StageAnalyzing      Stage = "analyzing"
	StageParsing        Stage = "parsing"
	StageValidating     Stage = "validating"
	StageSaving         Stage = "saving"
	StageComplete       Stage = "complete"
)

// ProgressDetail is the progress record reported while an extraction runs.
type ProgressDetail struct {
	OperationID               string   `json:"operation_id,omitempty"`
	Stage                     Stage    `json:"stage"`
	StageDescription          string   `json:"stage_description"`
	Percentage                int      `json:"percentage"`
	ElapsedSeconds            int      `json:"elapsed_seconds"`
	EstimatedRemainingSeconds int      `json:"estimated_remaining_seconds"`
	Tip                       string   `json:"tip"`
	CompletedStages           []string `json:"completed_stages"`
}

// Complete reports whether the record signals a finished extraction.
func (p ProgressDetail) Complete() bool {
	return p.Stage == StageComplete || p.Percentage >= 100
}
