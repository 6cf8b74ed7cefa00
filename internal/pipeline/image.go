package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"roomlens/internal/ai"
	"roomlens/internal/cache"
	"roomlens/internal/errs"
	"roomlens/internal/models"
)

// ImagePipeline is the single-shot variant: moderate, analyze, persist.
type ImagePipeline struct {
	resources ResourceStore
	analyses  AnalysisStore
	media     MediaStore
	ai        ai.Client
	cache     cache.Cache
	cacheTTL  time.Duration
	log       zerolog.Logger
}

func NewImagePipeline(
	resources ResourceStore,
	analyses AnalysisStore,
	media MediaStore,
	aiClient ai.Client,
	c cache.Cache,
	cacheTTL time.Duration,
	log zerolog.Logger,
) *ImagePipeline {
	return &ImagePipeline{
		resources: resources,
		analyses:  analyses,
		media:     media,
		ai:        aiClient,
		cache:     c,
		cacheTTL:  cacheTTL,
		log:       log,
	}
}

func (p *ImagePipeline) Run(ctx context.Context, resourceID string) error {
	res, err := p.resources.GetByID(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("load resource: %w", err)
	}
	if res.Status == models.ResourceStatusCompleted || res.Status == models.ResourceStatusFailed {
		return nil
	}

	if err := p.resources.UpdateStatus(ctx, res.ID, models.ResourceStatusModerating, nil); err != nil {
		return fmt.Errorf("transition to moderating: %w", err)
	}

	url, err := p.media.PresignURL(ctx, res.Bucket, res.ObjectKey, presignTTL)
	if err != nil {
		return fmt.Errorf("presign image: %w", err)
	}
	media := ai.Media{URL: url, MIME: "image/" + res.Format}

	mod, err := p.ai.Moderate(ctx, media)
	if err != nil {
		return fmt.Errorf("moderate: %w", err)
	}
	if !mod.Safe {
		return fmt.Errorf("%w: %s", errs.ErrContentPolicy, mod.Category)
	}

	if err := p.resources.UpdateStatus(ctx, res.ID, models.ResourceStatusAnalyzing, nil); err != nil {
		return fmt.Errorf("transition to analyzing: %w", err)
	}
	report, err := p.ai.Analyze(ctx, media, models.MediaKindImage)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	analysis := models.Analysis{
		ResourceID: res.ID,
		Overall:    report.Overall,
		Dimensions: report.Dimensions,
		Problems:   report.Problems,
		Summary:    report.Summary,
	}
	if err := p.analyses.Create(ctx, analysis); err != nil {
		return fmt.Errorf("persist analysis: %w", err)
	}
	if err := p.resources.UpdateStatus(ctx, res.ID, models.ResourceStatusCompleted, nil); err != nil {
		return fmt.Errorf("transition to completed: %w", err)
	}

	WarmAnalysisCache(p.cache, p.cacheTTL, analysis, p.log)

	p.log.Info().
		Str("resource_id", res.ID).
		Int("problems", len(report.Problems)).
		Msg("image analysis completed")
	return nil
}
