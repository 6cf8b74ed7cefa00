package service

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"roomlens/internal/ai"
	"roomlens/internal/cache"
	"roomlens/internal/config"
	"roomlens/internal/errs"
	"roomlens/internal/ids"
	"roomlens/internal/models"
	"roomlens/internal/pipeline"
	"roomlens/internal/queue"
)

type FixStore interface {
	CreateJob(ctx context.Context, job *models.FixJob) error
	GetJob(ctx context.Context, id string) (models.FixJob, error)
	CountActive(ctx context.Context, ownerID string) (int, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id, message string) error
	Complete(ctx context.Context, result models.FixResult, signatureResourceID string, signature []byte) error
	LookupSignature(ctx context.Context, resourceID string, signature []byte) (string, error)
	GetResult(ctx context.Context, fixID string) (models.FixResult, error)
}

type AnalysisGetter interface {
	GetByResource(ctx context.Context, resourceID string) (models.Analysis, error)
}

type StrikeStore interface {
	Insert(ctx context.Context, ownerID string, fixID *string, category string) error
}

type FixMediaStore interface {
	PresignURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

type CreditReserver interface {
	Reserve(ctx context.Context, ownerID string, amount int, txType models.TransactionType, resourceRef string) (int, error)
}

// FixService is the orchestrator: it validates fix requests against their
// analysis, consults the signature index, meters credit and drives the fix
// job state machine.
type FixService struct {
	resources ResourceGetter
	analyses  AnalysisGetter
	fixes     FixStore
	strikes   StrikeStore
	media     FixMediaStore
	metering  CreditReserver
	producer  Enqueuer
	ai        ai.Client
	cache     cache.Cache
	cfg       *config.AppConfig
	log       zerolog.Logger
}

func NewFixService(
	resources ResourceGetter,
	analyses AnalysisGetter,
	fixes FixStore,
	strikes StrikeStore,
	media FixMediaStore,
	metering CreditReserver,
	producer Enqueuer,
	aiClient ai.Client,
	c cache.Cache,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *FixService {
	return &FixService{
		resources: resources,
		analyses:  analyses,
		fixes:     fixes,
		strikes:   strikes,
		media:     media,
		metering:  metering,
		producer:  producer,
		ai:        aiClient,
		cache:     c,
		cfg:       cfg,
		log:       log,
	}
}

// TransformationSignature digests the canonical content hash plus the sorted
// problem-ID set; it identifies a unique fix request independent of ID-list
// ordering.
func TransformationSignature(contentHash []byte, problemIDs []string) []byte {
	sorted := append([]string(nil), problemIDs...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write(contentHash)
	for _, id := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return h.Sum(nil)
}

// CreateFix validates and persists a fix job and enqueues it. The returned
// bool reports a signature hit: the job will be completed by copying a prior
// result instead of invoking AI, but it is created and metered like any
// other.
func (s *FixService) CreateFix(ctx context.Context, ownerID, resourceID string, scope models.FixScope, problemIDs []string) (models.FixJob, bool, error) {
	res, err := s.resources.GetByID(ctx, resourceID)
	if err != nil {
		return models.FixJob{}, false, err
	}
	if res.OwnerID != ownerID {
		return models.FixJob{}, false, errs.ErrForbidden
	}
	if res.Status != models.ResourceStatusCompleted {
		return models.FixJob{}, false, fmt.Errorf("%w: resource is not analyzed yet", errs.ErrInvalidInput)
	}

	// soft fairness ceiling; racing requests may both pass, which wastes
	// compute but breaks nothing
	active, err := s.fixes.CountActive(ctx, ownerID)
	if err != nil {
		return models.FixJob{}, false, err
	}
	if active >= s.cfg.Pipeline.MaxActiveFixes {
		return models.FixJob{}, false, errs.ErrTooManyJobs
	}

	analysis, err := s.analyses.GetByResource(ctx, res.ID)
	if err != nil {
		return models.FixJob{}, false, err
	}

	resolved, err := resolveProblemIDs(analysis, scope, problemIDs)
	if err != nil {
		return models.FixJob{}, false, err
	}

	canonicalHash, canonicalID, err := s.canonical(ctx, res)
	if err != nil {
		return models.FixJob{}, false, err
	}
	signature := TransformationSignature(canonicalHash, resolved)

	sourceFixID, err := s.lookupSignature(ctx, res.ID, canonicalID, signature)
	if err != nil {
		return models.FixJob{}, false, err
	}

	if _, err := s.metering.Reserve(ctx, ownerID, s.cfg.Metering.FixCost, models.TxTypeFix, res.ID); err != nil {
		return models.FixJob{}, false, err
	}

	job := models.FixJob{
		ID:          ids.NewFix(),
		ResourceID:  res.ID,
		OwnerID:     ownerID,
		Scope:       scope,
		ProblemIDs:  resolved,
		Signature:   signature,
		Status:      models.FixStatusPending,
		SourceFixID: sourceFixID,
	}
	if err := s.fixes.CreateJob(ctx, &job); err != nil {
		return models.FixJob{}, false, err
	}

	if err := s.producer.Enqueue(ctx, queue.Message{
		Type:       queue.TaskFix,
		JobID:      job.ID,
		ResourceID: res.ID,
		OwnerID:    ownerID,
	}); err != nil {
		// the stale-job sweeper eventually fails a job nobody picks up
		s.log.Error().Err(err).Str("fix_id", job.ID).Msg("enqueue fix failed")
	}

	return job, sourceFixID != nil, nil
}

// ProcessFix is the async counterpart. It always converts failure into a
// terminal job state; the returned error is for logging only and must never
// cause a queue redelivery.
func (s *FixService) ProcessFix(ctx context.Context, jobID string) error {
	job, err := s.fixes.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// deleted while in flight
			return nil
		}
		return err
	}
	if job.Status == models.FixStatusCompleted || job.Status == models.FixStatusFailed {
		return nil
	}

	claimed, err := s.fixes.MarkProcessing(ctx, job.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if err := s.runFix(ctx, job); err != nil {
		if markErr := s.fixes.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Str("fix_id", job.ID).Msg("mark failed errored")
		}
		if errors.Is(err, errs.ErrContentPolicy) {
			if strikeErr := s.strikes.Insert(ctx, job.OwnerID, &job.ID, strikeCategory(err)); strikeErr != nil {
				s.log.Error().Err(strikeErr).Str("owner_id", job.OwnerID).Msg("record strike failed")
			}
		}
		return fmt.Errorf("fix %s: %w", job.ID, err)
	}
	return nil
}

func (s *FixService) runFix(ctx context.Context, job models.FixJob) error {
	res, err := s.resources.GetByID(ctx, job.ResourceID)
	if err != nil {
		return fmt.Errorf("load resource: %w", err)
	}
	analysis, err := s.analyses.GetByResource(ctx, job.ResourceID)
	if err != nil {
		return fmt.Errorf("load analysis: %w", err)
	}

	var result models.FixResult
	if job.SourceFixID != nil {
		result, err = s.cloneResult(ctx, job)
	} else {
		result, err = s.computeResult(ctx, job, res, analysis)
	}
	if err != nil {
		return err
	}

	// the one bundled commit: result, job status, fix counter, signature
	if err := s.fixes.Complete(ctx, result, job.ResourceID, job.Signature); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}

	s.warmResultCache(result)

	s.log.Info().
		Str("fix_id", job.ID).
		Str("resource_id", job.ResourceID).
		Bool("copied", job.SourceFixID != nil).
		Int("after_overall", result.AfterOverall).
		Msg("fix completed")
	return nil
}

// cloneResult serves a signature hit: the prior result verbatim under new
// identity. The resource's fix counter still increments in Complete; the fix
// was delivered even though nothing was computed.
func (s *FixService) cloneResult(ctx context.Context, job models.FixJob) (models.FixResult, error) {
	source, err := s.fixes.GetResult(ctx, *job.SourceFixID)
	if err != nil {
		return models.FixResult{}, fmt.Errorf("load source result: %w", err)
	}

	source.FixID = job.ID
	source.ResourceID = job.ResourceID
	source.CreatedAt = time.Time{}
	return source, nil
}

func (s *FixService) computeResult(ctx context.Context, job models.FixJob, res models.Resource, analysis models.Analysis) (models.FixResult, error) {
	originalURL, err := s.media.PresignURL(ctx, res.Bucket, res.ObjectKey, 15*time.Minute)
	if err != nil {
		return models.FixResult{}, fmt.Errorf("presign original: %w", err)
	}
	media := ai.Media{URL: originalURL, MIME: mimeFor(res)}

	items := make([]models.FixedProblem, len(job.ProblemIDs))

	parallel := s.cfg.Pipeline.FixParallel
	if parallel <= 0 {
		parallel = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, problemID := range job.ProblemIDs {
		i, problemID := i, problemID
		g.Go(func() error {
			problem, ok := analysis.Problem(problemID)
			if !ok {
				return fmt.Errorf("%w: unknown problem %s", errs.ErrInvalidInput, problemID)
			}

			item, err := s.fixProblem(gctx, job, media, problem)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.FixResult{}, err
	}

	afterOverall, afterDims := pipeline.Rescore(analysis, job.ProblemIDs, job.Scope == models.FixScopeAll)

	regenerated := 0
	for _, item := range items {
		if item.Method == models.FixMethodRegenerated {
			regenerated++
		}
	}

	return models.FixResult{
		FixID:            job.ID,
		ResourceID:       job.ResourceID,
		Items:            items,
		BeforeOverall:    analysis.Overall,
		AfterOverall:     afterOverall,
		BeforeDimensions: analysis.Dimensions,
		AfterDimensions:  afterDims,
		Summary: fmt.Sprintf("Addressed %d problem(s): %d regenerated, %d with remediation plans. Score %d -> %d.",
			len(items), regenerated, len(items)-regenerated, analysis.Overall, afterOverall),
	}, nil
}

// fixProblem tries a full AI regeneration first and degrades to a textual
// remediation plan on any non-policy failure. A single flaky AI call must not
// fail the whole job when a useful result is still obtainable.
func (s *FixService) fixProblem(ctx context.Context, job models.FixJob, media ai.Media, problem models.Problem) (models.FixedProblem, error) {
	out, err := s.ai.GenerateFix(ctx, media, []models.Problem{problem})
	if err != nil {
		if errors.Is(err, errs.ErrContentPolicy) {
			return models.FixedProblem{}, err
		}
		s.log.Warn().Err(err).
			Str("fix_id", job.ID).
			Str("problem_id", problem.ID).
			Msg("regeneration failed, falling back to remediation plan")
		return models.FixedProblem{
			ProblemID: problem.ID,
			Method:    models.FixMethodPlan,
			Plan:      remediationPlan(problem),
		}, nil
	}

	format := out.Format
	if format == "" {
		format = "jpeg"
	}
	key := fmt.Sprintf("fixed/%s/%s.%s", job.ID, problem.ID, format)
	if err := s.media.PutBytes(ctx, s.cfg.Storage.BucketFixed, key, out.Data, "image/"+format); err != nil {
		return models.FixedProblem{}, fmt.Errorf("store fixed media: %w", err)
	}

	return models.FixedProblem{
		ProblemID:      problem.ID,
		Method:         models.FixMethodRegenerated,
		ObjectKey:      key,
		ChangesApplied: out.ChangesApplied,
	}, nil
}

// GetFix serves the status poll.
func (s *FixService) GetFix(ctx context.Context, ownerID, fixID string) (models.FixJob, *models.FixResult, error) {
	job, err := s.fixes.GetJob(ctx, fixID)
	if err != nil {
		return models.FixJob{}, nil, err
	}
	if job.OwnerID != ownerID {
		return models.FixJob{}, nil, errs.ErrForbidden
	}
	if job.Status != models.FixStatusCompleted {
		return job, nil, nil
	}

	if v, ok := s.cache.Get(ctx, FixResultCacheKey(fixID)); ok {
		var result models.FixResult
		if err := json.Unmarshal(v, &result); err == nil {
			return job, &result, nil
		}
	}

	result, err := s.fixes.GetResult(ctx, fixID)
	if err != nil {
		return models.FixJob{}, nil, err
	}
	return job, &result, nil
}

func (s *FixService) canonical(ctx context.Context, res models.Resource) ([]byte, string, error) {
	if res.SourceResourceID == nil {
		return res.ContentHash, "", nil
	}
	source, err := s.resources.GetByID(ctx, *res.SourceResourceID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// canonical was deleted; this copy stands on its own hash
			return res.ContentHash, "", nil
		}
		return nil, "", err
	}
	return source.ContentHash, source.ID, nil
}

// lookupSignature checks this resource's index first, then the canonical
// resource's when this one is a dedup copy.
func (s *FixService) lookupSignature(ctx context.Context, resourceID, canonicalID string, signature []byte) (*string, error) {
	fixID, err := s.fixes.LookupSignature(ctx, resourceID, signature)
	if err == nil {
		return &fixID, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	if canonicalID == "" || canonicalID == resourceID {
		return nil, nil
	}
	fixID, err = s.fixes.LookupSignature(ctx, canonicalID, signature)
	if err == nil {
		return &fixID, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

func (s *FixService) warmResultCache(result models.FixResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		payload, err := json.Marshal(result)
		if err != nil {
			s.log.Warn().Err(err).Str("fix_id", result.FixID).Msg("result cache marshal failed")
			return
		}
		s.cache.Set(ctx, FixResultCacheKey(result.FixID), payload, s.cfg.Cache.TTL)
	}()
}

func resolveProblemIDs(analysis models.Analysis, scope models.FixScope, requested []string) ([]string, error) {
	switch scope {
	case models.FixScopeAll:
		out := make([]string, 0, len(analysis.Problems))
		for _, p := range analysis.Problems {
			out = append(out, p.ID)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: analysis has no problems to fix", errs.ErrInvalidInput)
		}
		sort.Strings(out)
		return out, nil

	case models.FixScopeSingle, models.FixScopeMultiple:
		if len(requested) == 0 {
			return nil, fmt.Errorf("%w: problem ids required for scope %s", errs.ErrInvalidInput, scope)
		}
		if scope == models.FixScopeSingle && len(requested) != 1 {
			return nil, fmt.Errorf("%w: scope single takes exactly one problem id", errs.ErrInvalidInput)
		}

		seen := make(map[string]bool, len(requested))
		out := make([]string, 0, len(requested))
		for _, id := range requested {
			if seen[id] {
				continue
			}
			seen[id] = true
			if _, ok := analysis.Problem(id); ok {
				out = append(out, id)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: no valid problem ids in request", errs.ErrInvalidInput)
		}
		sort.Strings(out)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown scope %q", errs.ErrInvalidInput, scope)
	}
}

func remediationPlan(p models.Problem) string {
	var b strings.Builder
	b.WriteString("Automatic regeneration was not possible for this problem. ")
	b.WriteString(p.Title)
	if p.Description != "" {
		b.WriteString(": ")
		b.WriteString(p.Description)
	}
	b.WriteString(" Recommended action: ")
	b.WriteString(p.Solution)
	return b.String()
}

func strikeCategory(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, errs.ErrContentPolicy.Error()+": "); idx >= 0 {
		return msg[idx+len(errs.ErrContentPolicy.Error())+2:]
	}
	return "unspecified"
}

func mimeFor(res models.Resource) string {
	if res.Kind == models.MediaKindVideo {
		return "video/" + res.Format
	}
	return "image/" + res.Format
}

func FixResultCacheKey(fixID string) string {
	return "fixresult:" + fixID
}
