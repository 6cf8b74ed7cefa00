package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"

	"roomlens/internal/cache"
	"roomlens/internal/config"
	"roomlens/internal/errs"
	"roomlens/internal/ids"
	"roomlens/internal/media/sniffer"
	"roomlens/internal/models"
	"roomlens/internal/pipeline"
	"roomlens/internal/queue"
	"roomlens/internal/repository"
	"roomlens/internal/storage"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, msg queue.Message) error
}

type UploadInput struct {
	OwnerID string
	File    multipart.File
	Header  *multipart.FileHeader
}

type UploadResult struct {
	Resource    models.Resource
	IsDuplicate bool
}

// UploadService ingests media: sniff, meter, store, dedup-consult, enqueue.
type UploadService struct {
	resources *repository.ResourceRepository
	fixes     *repository.FixRepository
	store     *storage.ObjectStore
	metering  *MeteringService
	dedup     *DedupService
	producer  Enqueuer
	cache     cache.Cache
	cfg       *config.AppConfig
	log       zerolog.Logger
}

func NewUploadService(
	resources *repository.ResourceRepository,
	fixes *repository.FixRepository,
	store *storage.ObjectStore,
	metering *MeteringService,
	dedup *DedupService,
	producer Enqueuer,
	c cache.Cache,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *UploadService {
	return &UploadService{
		resources: resources,
		fixes:     fixes,
		store:     store,
		metering:  metering,
		dedup:     dedup,
		producer:  producer,
		cache:     c,
		cfg:       cfg,
		log:       log,
	}
}

func (s *UploadService) Upload(ctx context.Context, input UploadInput) (UploadResult, error) {
	if input.File == nil || input.Header == nil {
		return UploadResult{}, fmt.Errorf("%w: missing file payload", errs.ErrInvalidInput)
	}

	data, err := io.ReadAll(input.File)
	if err != nil {
		return UploadResult{}, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("%w: empty file", errs.ErrInvalidInput)
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	detected, err := sniffer.DetectHead(head)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: unsupported media type", errs.ErrInvalidInput)
	}
	declared := sniffer.MimeTypeFromHTTP(http.Header(input.Header.Header))
	if declared != "" && declared != detected.MIME {
		return UploadResult{}, fmt.Errorf("%w: content type mismatch: declared %s, actual %s",
			errs.ErrInvalidInput, declared, detected.MIME)
	}

	kind := models.MediaKindImage
	if detected.IsVideo() {
		kind = models.MediaKindVideo
	}

	resourceID := ids.NewResource()

	// credit is reserved before any work; a duplicate still pays, dedup only
	// saves the AI cost
	if _, err := s.metering.Reserve(ctx, input.OwnerID, s.cfg.Metering.UploadCost, models.TxTypeUpload, resourceID); err != nil {
		return UploadResult{}, err
	}

	dup, err := s.dedup.CheckDuplicate(ctx, input.OwnerID, data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("dedup check: %w", err)
	}

	objectKey := s.buildObjectKey(resourceID, string(detected.Type))
	if err := s.store.PutBytes(ctx, s.cfg.Storage.BucketOriginals, objectKey, data, detected.MIME); err != nil {
		return UploadResult{}, err
	}

	res := models.Resource{
		ID:          resourceID,
		OwnerID:     input.OwnerID,
		Kind:        kind,
		Bucket:      s.cfg.Storage.BucketOriginals,
		ObjectKey:   objectKey,
		Format:      string(detected.Type),
		SizeBytes:   int64(len(data)),
		ContentHash: dup.Hash,
		Status:      models.ResourceStatusPending,
	}
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now

	if err := s.resources.Create(ctx, res); err != nil {
		return UploadResult{}, fmt.Errorf("save resource: %w", err)
	}

	if dup.IsDuplicate {
		if err := s.dedup.CopyAnalysis(ctx, dup.SourceResourceID, res.ID, input.OwnerID); err != nil {
			return UploadResult{}, fmt.Errorf("copy analysis: %w", err)
		}
		res.Status = models.ResourceStatusCompleted
		res.SourceResourceID = &dup.SourceResourceID
		return UploadResult{Resource: res, IsDuplicate: true}, nil
	}

	if err := s.dedup.RecordHash(ctx, input.OwnerID, res.ID, dup.Hash); err != nil {
		return UploadResult{}, fmt.Errorf("record hash: %w", err)
	}

	if err := s.resources.UpdateStatus(ctx, res.ID, models.ResourceStatusQueued, nil); err != nil {
		return UploadResult{}, err
	}
	res.Status = models.ResourceStatusQueued

	if err := s.producer.Enqueue(ctx, queue.Message{
		Type:       queue.TaskAnalyze,
		ResourceID: res.ID,
		OwnerID:    input.OwnerID,
	}); err != nil {
		s.log.Warn().Err(err).Str("resource_id", res.ID).Msg("enqueue analysis failed")
	}

	return UploadResult{Resource: res}, nil
}

// Delete removes the resource, its jobs and index entries, then best-effort
// cleans storage and cache.
func (s *UploadService) Delete(ctx context.Context, ownerID, resourceID string) error {
	res, err := s.resources.GetByID(ctx, resourceID)
	if err != nil {
		return err
	}
	if res.OwnerID != ownerID {
		return errs.ErrForbidden
	}

	jobs, err := s.fixes.ListByResource(ctx, resourceID)
	if err != nil {
		return err
	}

	if err := s.resources.Delete(ctx, resourceID, ownerID); err != nil {
		return err
	}

	go func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.store.Remove(cleanupCtx, res.Bucket, res.ObjectKey); err != nil {
			s.log.Warn().Err(err).Str("resource_id", resourceID).Msg("remove original failed")
		}
		s.cache.Delete(cleanupCtx, pipeline.AnalysisCacheKey(resourceID))
		for _, job := range jobs {
			s.cache.Delete(cleanupCtx, FixResultCacheKey(job.ID))
		}
	}()

	return nil
}

func (s *UploadService) buildObjectKey(resourceID, ext string) string {
	datePrefix := time.Now().UTC().Format("2006/01/02")
	return path.Join(datePrefix, fmt.Sprintf("%s.%s", resourceID, ext))
}
