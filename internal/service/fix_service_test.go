package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"roomlens/internal/ai"
	"roomlens/internal/cache"
	"roomlens/internal/config"
	"roomlens/internal/errs"
	"roomlens/internal/models"
	"roomlens/internal/queue"
)

type fakeResources struct {
	byID map[string]models.Resource
}

var _ ResourceGetter = (*fakeResources)(nil)

func (f *fakeResources) GetByID(_ context.Context, id string) (models.Resource, error) {
	res, ok := f.byID[id]
	if !ok {
		return models.Resource{}, errs.ErrNotFound
	}
	return res, nil
}

type fakeAnalyses struct {
	byResource map[string]models.Analysis
}

var _ AnalysisGetter = (*fakeAnalyses)(nil)

func (f *fakeAnalyses) GetByResource(_ context.Context, resourceID string) (models.Analysis, error) {
	a, ok := f.byResource[resourceID]
	if !ok {
		return models.Analysis{}, errs.ErrNotFound
	}
	return a, nil
}

type signatureEntry struct {
	resourceID string
	signature  []byte
	fixID      string
}

// fakeFixes mimics the durable store: the signature index only gains an
// entry through Complete, exactly like the single-transaction repository.
type fakeFixes struct {
	jobs       map[string]models.FixJob
	results    map[string]models.FixResult
	signatures []signatureEntry
	active     int

	completeErr error
	markedFail  []string
}

var _ FixStore = (*fakeFixes)(nil)

func (f *fakeFixes) CreateJob(_ context.Context, job *models.FixJob) error {
	if f.jobs == nil {
		f.jobs = map[string]models.FixJob{}
	}
	job.Version = len(f.jobs) + 1
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeFixes) GetJob(_ context.Context, id string) (models.FixJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return models.FixJob{}, errs.ErrNotFound
	}
	return job, nil
}

func (f *fakeFixes) CountActive(context.Context, string) (int, error) {
	return f.active, nil
}

func (f *fakeFixes) MarkProcessing(_ context.Context, id string) (bool, error) {
	job, ok := f.jobs[id]
	if !ok || job.Status != models.FixStatusPending {
		return false, nil
	}
	job.Status = models.FixStatusProcessing
	f.jobs[id] = job
	return true, nil
}

func (f *fakeFixes) MarkFailed(_ context.Context, id, message string) error {
	job := f.jobs[id]
	job.Status = models.FixStatusFailed
	job.ErrorMessage = &message
	f.jobs[id] = job
	f.markedFail = append(f.markedFail, id)
	return nil
}

func (f *fakeFixes) Complete(_ context.Context, result models.FixResult, signatureResourceID string, signature []byte) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	if f.results == nil {
		f.results = map[string]models.FixResult{}
	}
	f.results[result.FixID] = result
	job := f.jobs[result.FixID]
	job.Status = models.FixStatusCompleted
	f.jobs[result.FixID] = job
	f.signatures = append(f.signatures, signatureEntry{
		resourceID: signatureResourceID,
		signature:  append([]byte(nil), signature...),
		fixID:      result.FixID,
	})
	return nil
}

func (f *fakeFixes) LookupSignature(_ context.Context, resourceID string, signature []byte) (string, error) {
	for _, entry := range f.signatures {
		if entry.resourceID == resourceID && bytes.Equal(entry.signature, signature) {
			return entry.fixID, nil
		}
	}
	return "", errs.ErrNotFound
}

func (f *fakeFixes) GetResult(_ context.Context, fixID string) (models.FixResult, error) {
	result, ok := f.results[fixID]
	if !ok {
		return models.FixResult{}, errs.ErrNotFound
	}
	return result, nil
}

type fakeStrikes struct {
	entries []string
}

var _ StrikeStore = (*fakeStrikes)(nil)

func (f *fakeStrikes) Insert(_ context.Context, ownerID string, _ *string, category string) error {
	f.entries = append(f.entries, ownerID+"/"+category)
	return nil
}

type fakeMedia struct {
	stored map[string][]byte
}

var _ FixMediaStore = (*fakeMedia)(nil)

func (f *fakeMedia) PresignURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://store.local/" + bucket + "/" + key, nil
}

func (f *fakeMedia) PutBytes(_ context.Context, bucket, key string, data []byte, _ string) error {
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[bucket+"/"+key] = data
	return nil
}

type fakeReserver struct {
	remaining int
	calls     int
}

var _ CreditReserver = (*fakeReserver)(nil)

func (f *fakeReserver) Reserve(_ context.Context, _ string, amount int, _ models.TransactionType, _ string) (int, error) {
	f.calls++
	if f.remaining < amount {
		return 0, errs.ErrLimitReached
	}
	f.remaining -= amount
	return f.remaining, nil
}

type fakeProducer struct {
	messages []queue.Message
	err      error
}

var _ Enqueuer = (*fakeProducer)(nil)

func (f *fakeProducer) Enqueue(_ context.Context, msg queue.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

type fakeAI struct {
	fixErr   error
	fixCalls int
}

var _ ai.Client = (*fakeAI)(nil)

func (f *fakeAI) Analyze(context.Context, ai.Media, models.MediaKind) (ai.AnalyzeReport, error) {
	return ai.AnalyzeReport{}, errors.New("not used")
}

func (f *fakeAI) GenerateFix(_ context.Context, _ ai.Media, problems []models.Problem) (ai.FixOutput, error) {
	f.fixCalls++
	if f.fixErr != nil {
		return ai.FixOutput{}, f.fixErr
	}
	return ai.FixOutput{
		Data:           []byte("fixed-" + problems[0].ID),
		Format:         "jpeg",
		ChangesApplied: []string{"adjusted " + problems[0].Dimension},
	}, nil
}

func (f *fakeAI) Moderate(context.Context, ai.Media) (ai.Moderation, error) {
	return ai.Moderation{Safe: true}, nil
}

type fixHarness struct {
	svc       *FixService
	resources *fakeResources
	analyses  *fakeAnalyses
	fixes     *fakeFixes
	strikes   *fakeStrikes
	metering  *fakeReserver
	producer  *fakeProducer
	ai        *fakeAI
}

func newFixHarness(t *testing.T) *fixHarness {
	t.Helper()

	resources := &fakeResources{byID: map[string]models.Resource{
		"res_1": {
			ID:          "res_1",
			OwnerID:     "owner_1",
			Kind:        models.MediaKindImage,
			Bucket:      "originals",
			ObjectKey:   "owner_1/res_1.jpeg",
			Format:      "jpeg",
			ContentHash: []byte("content-hash-1"),
			Status:      models.ResourceStatusCompleted,
		},
	}}
	analyses := &fakeAnalyses{byResource: map[string]models.Analysis{
		"res_1": {
			ResourceID: "res_1",
			Overall:    60,
			Dimensions: map[string]int{"lighting": 55, "clutter": 65},
			Problems: []models.Problem{
				{ID: "pa", Dimension: "lighting", Title: "Dim corners", Severity: models.SeverityHigh, Solution: "Add a floor lamp"},
				{ID: "pb", Dimension: "clutter", Title: "Crowded shelf", Severity: models.SeverityLow, Solution: "Remove half the items"},
			},
		},
	}}
	fixes := &fakeFixes{jobs: map[string]models.FixJob{}}
	strikes := &fakeStrikes{}
	metering := &fakeReserver{remaining: 10}
	producer := &fakeProducer{}
	aiClient := &fakeAI{}

	cfg := &config.AppConfig{}
	cfg.Metering.FixCost = 1
	cfg.Pipeline.MaxActiveFixes = 3
	cfg.Pipeline.FixParallel = 2
	cfg.Storage.BucketFixed = "fixed"
	cfg.Cache.TTL = time.Minute

	svc := NewFixService(
		resources, analyses, fixes, strikes,
		&fakeMedia{}, metering, producer, aiClient,
		cache.Noop{}, cfg, zerolog.Nop(),
	)
	return &fixHarness{
		svc:       svc,
		resources: resources,
		analyses:  analyses,
		fixes:     fixes,
		strikes:   strikes,
		metering:  metering,
		producer:  producer,
		ai:        aiClient,
	}
}

func TestTransformationSignature_OrderIndependent(t *testing.T) {
	hash := []byte("hash")

	a := TransformationSignature(hash, []string{"p1", "p2", "p3"})
	b := TransformationSignature(hash, []string{"p3", "p1", "p2"})
	require.Equal(t, a, b)

	c := TransformationSignature(hash, []string{"p1", "p2"})
	require.NotEqual(t, a, c)

	d := TransformationSignature([]byte("other"), []string{"p1", "p2", "p3"})
	require.NotEqual(t, a, d)
}

func TestCreateFix_HappyPath(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	job, cached, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, models.FixStatusPending, job.Status)
	require.Equal(t, []string{"pa", "pb"}, job.ProblemIDs)
	require.Nil(t, job.SourceFixID)
	require.NotEmpty(t, job.Signature)

	require.Equal(t, 1, h.metering.calls)
	require.Equal(t, 9, h.metering.remaining)
	require.Len(t, h.producer.messages, 1)
	require.Equal(t, queue.TaskFix, h.producer.messages[0].Type)
	require.Equal(t, job.ID, h.producer.messages[0].JobID)
}

func TestCreateFix_Preconditions(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	_, _, err := h.svc.CreateFix(ctx, "owner_2", "res_1", models.FixScopeAll, nil)
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, _, err = h.svc.CreateFix(ctx, "owner_1", "res_missing", models.FixScopeAll, nil)
	require.ErrorIs(t, err, errs.ErrNotFound)

	res := h.resources.byID["res_1"]
	res.Status = models.ResourceStatusAnalyzing
	h.resources.byID["res_1"] = res
	_, _, err = h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.ErrorIs(t, err, errs.ErrInvalidInput)
	res.Status = models.ResourceStatusCompleted
	h.resources.byID["res_1"] = res

	h.fixes.active = 3
	_, _, err = h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.ErrorIs(t, err, errs.ErrTooManyJobs)
	h.fixes.active = 0

	require.Zero(t, h.metering.calls, "rejected requests must not consume credit")
	require.Empty(t, h.fixes.jobs)
}

func TestCreateFix_ProblemIDValidation(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	_, _, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeSingle, nil)
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, _, err = h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeSingle, []string{"pa", "pb"})
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, _, err = h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeMultiple, []string{"nope", "also-nope"})
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	// unknown ids are dropped as long as at least one is valid
	job, _, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeMultiple, []string{"pb", "nope", "pb"})
	require.NoError(t, err)
	require.Equal(t, []string{"pb"}, job.ProblemIDs)
}

func TestCreateFix_LimitReachedCreatesNothing(t *testing.T) {
	h := newFixHarness(t)
	h.metering.remaining = 0

	_, _, err := h.svc.CreateFix(context.Background(), "owner_1", "res_1", models.FixScopeAll, nil)
	require.ErrorIs(t, err, errs.ErrLimitReached)
	require.Empty(t, h.fixes.jobs)
	require.Empty(t, h.producer.messages)
}

func TestFixLifecycle_SecondIdenticalRequestIsCached(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	first, cached, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.NoError(t, err)
	require.False(t, cached)

	require.NoError(t, h.svc.ProcessFix(ctx, first.ID))
	require.Equal(t, models.FixStatusCompleted, h.fixes.jobs[first.ID].Status)
	require.Len(t, h.fixes.signatures, 1)

	second, cached, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.NoError(t, err)
	require.True(t, cached)
	require.NotNil(t, second.SourceFixID)
	require.Equal(t, first.ID, *second.SourceFixID)

	// identical request is still metered
	require.Equal(t, 2, h.metering.calls)

	aiCallsBefore := h.ai.fixCalls
	require.NoError(t, h.svc.ProcessFix(ctx, second.ID))
	require.Equal(t, aiCallsBefore, h.ai.fixCalls, "signature hit must not re-run AI")

	result, ok := h.fixes.results[second.ID]
	require.True(t, ok)
	require.Equal(t, second.ID, result.FixID)
	require.Equal(t, h.fixes.results[first.ID].AfterOverall, result.AfterOverall)
}

func TestFixLifecycle_DifferentSubsetDifferentSignature(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	all, _, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.ProcessFix(ctx, all.ID))

	single, cached, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeSingle, []string{"pa"})
	require.NoError(t, err)
	require.False(t, cached, "a different problem subset is new work")
	require.Nil(t, single.SourceFixID)
	require.NotEqual(t, all.Signature, single.Signature)
}

func TestProcessFix_FailureLeavesNoSignature(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	job, _, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.NoError(t, err)

	h.ai.fixErr = fmt.Errorf("%w: unsafe_request", errs.ErrContentPolicy)
	err = h.svc.ProcessFix(ctx, job.ID)
	require.Error(t, err)

	require.Equal(t, models.FixStatusFailed, h.fixes.jobs[job.ID].Status)
	require.Empty(t, h.fixes.signatures, "failed jobs must not poison the signature index")
	require.Equal(t, []string{"owner_1/unsafe_request"}, h.strikes.entries)

	// the next identical request recomputes instead of copying the failure
	h.ai.fixErr = nil
	retry, cached, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.NoError(t, err)
	require.False(t, cached)
	require.NoError(t, h.svc.ProcessFix(ctx, retry.ID))
	require.Equal(t, models.FixStatusCompleted, h.fixes.jobs[retry.ID].Status)
}

func TestProcessFix_TerminalAndMissingJobsAreNoops(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.ProcessFix(ctx, "fix_missing"))

	h.fixes.jobs["fix_done"] = models.FixJob{ID: "fix_done", Status: models.FixStatusCompleted}
	require.NoError(t, h.svc.ProcessFix(ctx, "fix_done"))
	require.Empty(t, h.fixes.markedFail)
}

func TestProcessFix_FallbackPlanOnFlakyAI(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	job, _, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeSingle, []string{"pa"})
	require.NoError(t, err)

	h.ai.fixErr = errs.ErrTransient
	require.NoError(t, h.svc.ProcessFix(ctx, job.ID))

	result := h.fixes.results[job.ID]
	require.Len(t, result.Items, 1)
	require.Equal(t, models.FixMethodPlan, result.Items[0].Method)
	require.Contains(t, result.Items[0].Plan, "Add a floor lamp")
	require.Equal(t, models.FixStatusCompleted, h.fixes.jobs[job.ID].Status)
}

func TestProcessFix_RescoreAppliedToResult(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	job, _, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.ProcessFix(ctx, job.ID))

	result := h.fixes.results[job.ID]
	require.Equal(t, 60, result.BeforeOverall)
	require.GreaterOrEqual(t, result.AfterOverall, 95)
	require.Equal(t, 95, result.AfterDimensions["lighting"])
	require.Equal(t, 95, result.AfterDimensions["clutter"])

	require.Len(t, result.Items, 2)
	for _, item := range result.Items {
		require.Equal(t, models.FixMethodRegenerated, item.Method)
		require.NotEmpty(t, item.ObjectKey)
	}
}

func TestGetFix_OwnershipAndResult(t *testing.T) {
	h := newFixHarness(t)
	ctx := context.Background()

	job, _, err := h.svc.CreateFix(ctx, "owner_1", "res_1", models.FixScopeAll, nil)
	require.NoError(t, err)

	_, _, err = h.svc.GetFix(ctx, "owner_2", job.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	got, result, err := h.svc.GetFix(ctx, "owner_1", job.ID)
	require.NoError(t, err)
	require.Equal(t, models.FixStatusPending, got.Status)
	require.Nil(t, result, "no result until completion")

	require.NoError(t, h.svc.ProcessFix(ctx, job.ID))
	_, result, err = h.svc.GetFix(ctx, "owner_1", job.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, job.ID, result.FixID)
}
