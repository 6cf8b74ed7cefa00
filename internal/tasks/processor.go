package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"roomlens/internal/errs"
	"roomlens/internal/models"
	"roomlens/internal/pipeline"
	"roomlens/internal/queue"
	"roomlens/internal/service"
)

type ResourceStore interface {
	GetByID(ctx context.Context, id string) (models.Resource, error)
	UpdateStatus(ctx context.Context, id string, status models.ResourceStatus, failReason *string) error
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type FixJobStore interface {
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type StrikeStore interface {
	Insert(ctx context.Context, ownerID string, fixID *string, category string) error
}

// Processor routes queue messages to the matching pipeline. Errors returned
// here are for logging only; the consumer acks regardless, so every terminal
// outcome must already be persisted before Handle returns.
type Processor struct {
	resources  ResourceStore
	fixJobs    FixJobStore
	strikes    StrikeStore
	images     *pipeline.ImagePipeline
	videos     *pipeline.VideoPipeline
	fixService *service.FixService
	staleAfter time.Duration
	logger     zerolog.Logger
}

func NewProcessor(
	resources ResourceStore,
	fixJobs FixJobStore,
	strikes StrikeStore,
	images *pipeline.ImagePipeline,
	videos *pipeline.VideoPipeline,
	fixService *service.FixService,
	staleAfter time.Duration,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		resources:  resources,
		fixJobs:    fixJobs,
		strikes:    strikes,
		images:     images,
		videos:     videos,
		fixService: fixService,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload queue.Message
	if err := decodePayload(msg.Values, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch payload.Type {
	case queue.TaskAnalyze:
		return p.handleAnalyze(ctx, payload)
	case queue.TaskFix:
		return p.fixService.ProcessFix(ctx, payload.JobID)
	case queue.TaskSweep:
		return p.handleSweep(ctx)
	default:
		p.logger.Warn().Str("type", payload.Type).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *queue.Message) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}

func (p *Processor) handleAnalyze(ctx context.Context, payload queue.Message) error {
	res, err := p.resources.GetByID(ctx, payload.ResourceID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// deleted between enqueue and pickup
			return nil
		}
		return fmt.Errorf("load resource: %w", err)
	}

	switch res.Kind {
	case models.MediaKindVideo:
		err = p.videos.Run(ctx, res.ID)
	default:
		err = p.images.Run(ctx, res.ID)
	}
	if err == nil {
		return nil
	}

	reason := err.Error()
	if markErr := p.resources.UpdateStatus(ctx, res.ID, models.ResourceStatusFailed, &reason); markErr != nil {
		p.logger.Error().Err(markErr).Str("resource_id", res.ID).Msg("mark failed errored")
	}
	if errors.Is(err, errs.ErrContentPolicy) {
		if strikeErr := p.strikes.Insert(ctx, res.OwnerID, nil, policyCategory(err)); strikeErr != nil {
			p.logger.Error().Err(strikeErr).Str("owner_id", res.OwnerID).Msg("record strike errored")
		}
	}
	return err
}

// handleSweep fails jobs that have sat in a non-terminal state past the
// configured deadline, typically after a worker crash mid-stage.
func (p *Processor) handleSweep(ctx context.Context) error {
	cutoff := time.Now().Add(-p.staleAfter)

	swept, err := p.resources.FailStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep resources: %w", err)
	}
	sweptFixes, err := p.fixJobs.FailStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep fix jobs: %w", err)
	}

	if swept > 0 || sweptFixes > 0 {
		p.logger.Info().
			Int64("resources", swept).
			Int64("fix_jobs", sweptFixes).
			Msg("stale jobs swept")
	}
	return nil
}

func policyCategory(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, errs.ErrContentPolicy.Error()+": "); idx >= 0 {
		rest := msg[idx+len(errs.ErrContentPolicy.Error())+2:]
		if cut := strings.Index(rest, " at "); cut >= 0 {
			rest = rest[:cut]
		}
		return rest
	}
	return "unspecified"
}
