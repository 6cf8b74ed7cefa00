package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"roomlens/internal/cache"
	"roomlens/internal/errs"
	"roomlens/internal/models"
)

type HashIndex interface {
	Lookup(ctx context.Context, ownerID string, hash []byte) (string, error)
	Record(ctx context.Context, ownerID, resourceID string, hash []byte) error
}

type AnalysisCopier interface {
	Copy(ctx context.Context, sourceResourceID, targetResourceID string) error
}

type ResourceGetter interface {
	GetByID(ctx context.Context, id string) (models.Resource, error)
}

type DupCheck struct {
	IsDuplicate      bool
	Hash             []byte
	SourceResourceID string
}

// DedupService is the content dedup index: byte-identical uploads under the
// same owner reuse the canonical resource's analysis instead of re-invoking
// AI.
type DedupService struct {
	hashes    HashIndex
	analyses  AnalysisCopier
	resources ResourceGetter
	cache     cache.Cache
	cacheTTL  time.Duration
	log       zerolog.Logger
}

func NewDedupService(hashes HashIndex, analyses AnalysisCopier, resources ResourceGetter, c cache.Cache, cacheTTL time.Duration, log zerolog.Logger) *DedupService {
	return &DedupService{
		hashes:    hashes,
		analyses:  analyses,
		resources: resources,
		cache:     c,
		cacheTTL:  cacheTTL,
		log:       log,
	}
}

// CheckDuplicate digests the content and resolves it against the cache and
// the durable index. A hit only counts when the canonical resource's analysis
// is completed; anything in flight or failed is a miss.
func (s *DedupService) CheckDuplicate(ctx context.Context, ownerID string, content []byte) (DupCheck, error) {
	sum := sha256.Sum256(content)
	hash := sum[:]
	check := DupCheck{Hash: hash}

	key := dedupCacheKey(ownerID, hash)
	if v, ok := s.cache.Get(ctx, key); ok {
		if sourceID, ok := s.verifyCompleted(ctx, string(v), ownerID); ok {
			check.IsDuplicate = true
			check.SourceResourceID = sourceID
			return check, nil
		}
	}

	resourceID, err := s.hashes.Lookup(ctx, ownerID, hash)
	if errors.Is(err, errs.ErrNotFound) {
		return check, nil
	}
	if err != nil {
		return DupCheck{}, err
	}

	sourceID, ok := s.verifyCompleted(ctx, resourceID, ownerID)
	if !ok {
		return check, nil
	}

	check.IsDuplicate = true
	check.SourceResourceID = sourceID
	s.cache.Set(ctx, key, []byte(sourceID), s.cacheTTL)
	return check, nil
}

// RecordHash registers this resource as the canonical holder of the hash if
// nobody beat it there.
func (s *DedupService) RecordHash(ctx context.Context, ownerID, resourceID string, hash []byte) error {
	return s.hashes.Record(ctx, ownerID, resourceID, hash)
}

// CopyAnalysis clones the canonical analysis under the target resource and
// completes it, skipping the AI call. The upload was still metered; dedup
// saves compute, not user credit.
func (s *DedupService) CopyAnalysis(ctx context.Context, sourceResourceID, targetResourceID, ownerID string) error {
	if err := s.analyses.Copy(ctx, sourceResourceID, targetResourceID); err != nil {
		return err
	}
	s.log.Info().
		Str("owner_id", ownerID).
		Str("source_resource_id", sourceResourceID).
		Str("resource_id", targetResourceID).
		Msg("analysis copied from duplicate content")
	return nil
}

func (s *DedupService) verifyCompleted(ctx context.Context, resourceID, ownerID string) (string, bool) {
	res, err := s.resources.GetByID(ctx, resourceID)
	if err != nil {
		return "", false
	}
	if res.OwnerID != ownerID || res.Status != models.ResourceStatusCompleted {
		return "", false
	}
	return res.ID, true
}

func dedupCacheKey(ownerID string, hash []byte) string {
	return "dedup:" + ownerID + ":" + hex.EncodeToString(hash)
}
