package models

import "time"

type FixScope string

const (
	FixScopeAll      FixScope = "all"
	FixScopeSingle   FixScope = "single"
	FixScopeMultiple FixScope = "multiple"
)

type FixStatus string

const (
	FixStatusPending    FixStatus = "pending"
	FixStatusProcessing FixStatus = "processing"
	FixStatusCompleted  FixStatus = "completed"
	FixStatusFailed     FixStatus = "failed"
)

type FixJob struct {
	ID           string
	ResourceID   string
	OwnerID      string
	Scope        FixScope
	ProblemIDs   []string
	Signature    []byte
	Version      int
	Status       FixStatus
	SourceFixID  *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FixMethod distinguishes a regenerated image from the textual fallback plan.
type FixMethod string

const (
	FixMethodRegenerated FixMethod = "regenerated"
	FixMethodPlan        FixMethod = "plan"
)

// FixedProblem is one addressed problem inside a FixResult.
type FixedProblem struct {
	ProblemID      string    `json:"problemId"`
	Method         FixMethod `json:"method"`
	ObjectKey      string    `json:"objectKey,omitempty"`
	Plan           string    `json:"plan,omitempty"`
	ChangesApplied []string  `json:"changesApplied,omitempty"`
}

// FixResult is the durable output of a completed FixJob. Never mutated.
type FixResult struct {
	FixID            string
	ResourceID       string
	Items            []FixedProblem
	BeforeOverall    int
	AfterOverall     int
	BeforeDimensions map[string]int
	AfterDimensions  map[string]int
	Summary          string
	CreatedAt        time.Time
}
