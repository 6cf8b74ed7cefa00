package models

import "time"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Problem is a single issue the analysis flagged, paired with its remediation.
type Problem struct {
	ID           string   `json:"id"`
	Dimension    string   `json:"dimension"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	Solution     string   `json:"solution"`
	TimestampSec *float64 `json:"timestampSec,omitempty"`
}

// ProblemFrame groups flagged problems around one captured frame of a video.
type ProblemFrame struct {
	TimestampSec float64  `json:"timestampSec"`
	ObjectKey    string   `json:"objectKey"`
	ProblemIDs   []string `json:"problemIds"`
}

// Analysis is immutable once written; a re-analysis creates a new resource.
type Analysis struct {
	ResourceID    string
	Overall       int
	Dimensions    map[string]int
	Problems      []Problem
	ProblemFrames []ProblemFrame
	Summary       string
	CopiedFrom    *string
	CopiedAt      *time.Time
	AnalyzedAt    time.Time
}

func (a Analysis) Problem(id string) (Problem, bool) {
	for _, p := range a.Problems {
		if p.ID == id {
			return p, true
		}
	}
	return Problem{}, false
}
