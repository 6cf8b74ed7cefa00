// Package ai defines the inference collaborator boundary. Every call is
// fallible and rate-limited; callers wrap the client with WithRetry.
package ai

import (
	"context"

	"roomlens/internal/models"
)

// Media points the collaborator at stored content via a short-lived URL.
type Media struct {
	URL  string `json:"url"`
	MIME string `json:"mime"`
}

// FrameFinding groups problems the analysis flagged around one timestamp.
type FrameFinding struct {
	TimestampSec float64  `json:"timestampSec"`
	ProblemIDs   []string `json:"problemIds"`
}

type AnalyzeReport struct {
	Overall       int              `json:"overall"`
	Dimensions    map[string]int   `json:"dimensions"`
	Problems      []models.Problem `json:"problems"`
	Summary       string           `json:"summary"`
	ProblemFrames []FrameFinding   `json:"problemFrames,omitempty"`
}

type FixOutput struct {
	Data           []byte
	Format         string
	ChangesApplied []string
	Summary        string
}

type Moderation struct {
	Safe     bool   `json:"safe"`
	Category string `json:"category"`
}

type Client interface {
	Analyze(ctx context.Context, media Media, kind models.MediaKind) (AnalyzeReport, error)
	GenerateFix(ctx context.Context, media Media, problems []models.Problem) (FixOutput, error)
	Moderate(ctx context.Context, media Media) (Moderation, error)
}
