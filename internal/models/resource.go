package models

import "time"

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

type ResourceStatus string

const (
	ResourceStatusPending     ResourceStatus = "pending"
	ResourceStatusQueued      ResourceStatus = "queued"
	ResourceStatusExtracting  ResourceStatus = "extracting"
	ResourceStatusModerating  ResourceStatus = "moderating"
	ResourceStatusAnalyzing   ResourceStatus = "analyzing"
	ResourceStatusAggregating ResourceStatus = "aggregating"
	ResourceStatusCompleted   ResourceStatus = "completed"
	ResourceStatusFailed      ResourceStatus = "failed"
)

type Resource struct {
	ID               string
	OwnerID          string
	Kind             MediaKind
	Bucket           string
	ObjectKey        string
	Format           string
	SizeBytes        int64
	DurationSeconds  float64
	ContentHash      []byte
	Status           ResourceStatus
	SourceResourceID *string
	FixCount         int
	FailReason       *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
