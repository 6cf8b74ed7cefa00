package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"roomlens/internal/ai"
	"roomlens/internal/cache"
	"roomlens/internal/config"
	"roomlens/internal/errs"
	"roomlens/internal/media/frames"
	"roomlens/internal/models"
)

type ResourceStore interface {
	GetByID(ctx context.Context, id string) (models.Resource, error)
	UpdateStatus(ctx context.Context, id string, status models.ResourceStatus, failReason *string) error
	SetDuration(ctx context.Context, id string, seconds float64) error
}

type AnalysisStore interface {
	Create(ctx context.Context, a models.Analysis) error
}

type MediaStore interface {
	PresignURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

const presignTTL = 15 * time.Minute

// VideoPipeline runs the multi-stage video analysis:
// extracting -> moderating -> analyzing -> aggregating. Every transition is
// persisted before the next stage starts so a crashed worker leaves a
// diagnosable state behind.
type VideoPipeline struct {
	resources ResourceStore
	analyses  AnalysisStore
	media     MediaStore
	extractor frames.Extractor
	ai        ai.Client
	cache     cache.Cache
	cacheTTL  time.Duration
	cfg       config.PipelineConfig
	log       zerolog.Logger
}

func NewVideoPipeline(
	resources ResourceStore,
	analyses AnalysisStore,
	media MediaStore,
	extractor frames.Extractor,
	aiClient ai.Client,
	c cache.Cache,
	cacheTTL time.Duration,
	cfg config.PipelineConfig,
	log zerolog.Logger,
) *VideoPipeline {
	return &VideoPipeline{
		resources: resources,
		analyses:  analyses,
		media:     media,
		extractor: extractor,
		ai:        aiClient,
		cache:     c,
		cacheTTL:  cacheTTL,
		cfg:       cfg,
		log:       log,
	}
}

func (p *VideoPipeline) Run(ctx context.Context, resourceID string) error {
	res, err := p.resources.GetByID(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("load resource: %w", err)
	}
	if res.Status == models.ResourceStatusCompleted || res.Status == models.ResourceStatusFailed {
		// stale or redelivered message
		return nil
	}

	src := frames.ObjectRef{Bucket: res.Bucket, Key: res.ObjectKey}

	// extracting: coarse uniform sampling for whole-video context
	if err := p.transition(ctx, res.ID, models.ResourceStatusExtracting); err != nil {
		return err
	}

	duration := res.DurationSeconds
	if duration <= 0 {
		duration, err = p.extractor.Probe(ctx, src)
		if err != nil {
			return fmt.Errorf("probe duration: %w", err)
		}
		if err := p.resources.SetDuration(ctx, res.ID, duration); err != nil {
			return fmt.Errorf("persist duration: %w", err)
		}
	}

	plan := frames.PlanTimestamps(
		time.Duration(duration*float64(time.Second)),
		p.cfg.FrameInterval,
		p.cfg.MaxFrames,
		p.cfg.FrameTolerance,
	)
	captures, err := p.extractor.Extract(ctx, src, "frames/"+res.ID+"/uniform", plan)
	if err != nil {
		return fmt.Errorf("extract frames: %w", err)
	}

	if err := p.transition(ctx, res.ID, models.ResourceStatusModerating); err != nil {
		return err
	}
	if err := p.moderateCaptures(ctx, captures); err != nil {
		return err
	}

	if err := p.transition(ctx, res.ID, models.ResourceStatusAnalyzing); err != nil {
		return err
	}
	videoURL, err := p.media.PresignURL(ctx, res.Bucket, res.ObjectKey, presignTTL)
	if err != nil {
		return fmt.Errorf("presign video: %w", err)
	}
	report, err := p.ai.Analyze(ctx, ai.Media{URL: videoURL, MIME: "video/" + res.Format}, models.MediaKindVideo)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if len(report.ProblemFrames) > p.cfg.MaxProblemFrames {
		report.ProblemFrames = report.ProblemFrames[:p.cfg.MaxProblemFrames]
	}

	// aggregating: fine targeted sampling at only the flagged timestamps
	if err := p.transition(ctx, res.ID, models.ResourceStatusAggregating); err != nil {
		return err
	}
	problemFrames, err := p.aggregateFrames(ctx, res, src, duration, report.ProblemFrames)
	if err != nil {
		return err
	}

	analysis := models.Analysis{
		ResourceID:    res.ID,
		Overall:       report.Overall,
		Dimensions:    report.Dimensions,
		Problems:      report.Problems,
		ProblemFrames: problemFrames,
		Summary:       report.Summary,
	}
	if err := p.analyses.Create(ctx, analysis); err != nil {
		return fmt.Errorf("persist analysis: %w", err)
	}
	if err := p.transition(ctx, res.ID, models.ResourceStatusCompleted); err != nil {
		return err
	}

	WarmAnalysisCache(p.cache, p.cacheTTL, analysis, p.log)

	p.log.Info().
		Str("resource_id", res.ID).
		Int("frames", len(captures)).
		Int("problems", len(report.Problems)).
		Msg("video analysis completed")
	return nil
}

func (p *VideoPipeline) transition(ctx context.Context, id string, status models.ResourceStatus) error {
	if err := p.resources.UpdateStatus(ctx, id, status, nil); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	return nil
}

// moderateCaptures checks every frame in fixed-size batches. Any rejection
// aborts the whole job: content safety is not retryable.
func (p *VideoPipeline) moderateCaptures(ctx context.Context, captures []frames.Capture) error {
	batch := p.cfg.ModerationBatch
	if batch <= 0 {
		batch = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batch)
	for _, capture := range captures {
		capture := capture
		g.Go(func() error {
			frameURL, err := p.media.PresignURL(gctx, capture.Object.Bucket, capture.Object.Key, presignTTL)
			if err != nil {
				return fmt.Errorf("presign frame: %w", err)
			}
			mod, err := p.ai.Moderate(gctx, ai.Media{URL: frameURL, MIME: "image/jpeg"})
			if err != nil {
				return fmt.Errorf("moderate frame at %.1fs: %w", capture.TimestampSec, err)
			}
			if !mod.Safe {
				return fmt.Errorf("%w: %s at %.1fs", errs.ErrContentPolicy, mod.Category, capture.TimestampSec)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *VideoPipeline) aggregateFrames(ctx context.Context, res models.Resource, src frames.ObjectRef, duration float64, findings []ai.FrameFinding) ([]models.ProblemFrame, error) {
	if len(findings) == 0 {
		return nil, nil
	}

	flagged := make([]float64, 0, len(findings))
	for _, f := range findings {
		flagged = append(flagged, f.TimestampSec)
	}
	targets := frames.TargetTimestamps(
		flagged,
		time.Duration(duration*float64(time.Second)),
		p.cfg.FrameTolerance,
		p.cfg.MaxProblemFrames,
	)

	captures, err := p.extractor.Extract(ctx, src, "frames/"+res.ID+"/flagged", targets)
	if err != nil {
		return nil, fmt.Errorf("extract flagged frames: %w", err)
	}
	if err := p.moderateCaptures(ctx, captures); err != nil {
		return nil, err
	}

	tolerance := p.cfg.FrameTolerance.Seconds()
	out := make([]models.ProblemFrame, 0, len(captures))
	for _, capture := range captures {
		frame := models.ProblemFrame{
			TimestampSec: capture.TimestampSec,
			ObjectKey:    capture.Object.Key,
		}
		for _, f := range findings {
			if math.Abs(f.TimestampSec-capture.TimestampSec) <= tolerance {
				frame.ProblemIDs = append(frame.ProblemIDs, f.ProblemIDs...)
			}
		}
		out = append(out, frame)
	}
	return out, nil
}

// WarmAnalysisCache writes the analysis through to the cache in a detached
// goroutine; a failed write only logs.
func WarmAnalysisCache(c cache.Cache, ttl time.Duration, analysis models.Analysis, log zerolog.Logger) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		payload, err := json.Marshal(analysis)
		if err != nil {
			log.Warn().Err(err).Str("resource_id", analysis.ResourceID).Msg("cache warm marshal failed")
			return
		}
		if !c.Set(ctx, AnalysisCacheKey(analysis.ResourceID), payload, ttl) {
			log.Debug().Str("resource_id", analysis.ResourceID).Msg("analysis cache warm skipped")
		}
	}()
}

func AnalysisCacheKey(resourceID string) string {
	return "analysis:" + resourceID
}
