package service

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"roomlens/internal/cache"
	"roomlens/internal/errs"
	"roomlens/internal/models"
)

type fakeHashIndex struct {
	mu      sync.Mutex
	entries map[string]string // owner:hex(hash) -> resourceID
	lookups int
}

var _ HashIndex = (*fakeHashIndex)(nil)

func (f *fakeHashIndex) Lookup(_ context.Context, ownerID string, hash []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	id, ok := f.entries[dedupCacheKey(ownerID, hash)]
	if !ok {
		return "", errs.ErrNotFound
	}
	return id, nil
}

func (f *fakeHashIndex) Record(_ context.Context, ownerID, resourceID string, hash []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[string]string{}
	}
	key := dedupCacheKey(ownerID, hash)
	// first writer wins, like ON CONFLICT DO NOTHING
	if _, exists := f.entries[key]; !exists {
		f.entries[key] = resourceID
	}
	return nil
}

type fakeCopier struct {
	copies [][2]string
}

var _ AnalysisCopier = (*fakeCopier)(nil)

func (f *fakeCopier) Copy(_ context.Context, sourceResourceID, targetResourceID string) error {
	f.copies = append(f.copies, [2]string{sourceResourceID, targetResourceID})
	return nil
}

// memCache is an always-available Cache for tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string][]byte{}
	}
	m.entries[key] = value
	return true
}

func (m *memCache) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return true
}

var _ cache.Cache = (*memCache)(nil)

func newDedupHarness(sourceStatus models.ResourceStatus) (*DedupService, *fakeHashIndex, *fakeCopier, *memCache) {
	content := []byte("room photo bytes")
	sum := sha256.Sum256(content)

	hashes := &fakeHashIndex{}
	_ = hashes.Record(context.Background(), "owner_1", "res_src", sum[:])

	resources := &fakeResources{byID: map[string]models.Resource{
		"res_src": {ID: "res_src", OwnerID: "owner_1", Status: sourceStatus},
	}}
	copier := &fakeCopier{}
	c := &memCache{}

	svc := NewDedupService(hashes, copier, resources, c, time.Minute, zerolog.Nop())
	return svc, hashes, copier, c
}

func TestCheckDuplicate_HitOnlyWhenCompleted(t *testing.T) {
	content := []byte("room photo bytes")
	ctx := context.Background()

	svc, _, _, _ := newDedupHarness(models.ResourceStatusAnalyzing)
	check, err := svc.CheckDuplicate(ctx, "owner_1", content)
	require.NoError(t, err)
	require.False(t, check.IsDuplicate, "in-flight canonical is a miss")
	require.NotEmpty(t, check.Hash)

	svc, _, _, _ = newDedupHarness(models.ResourceStatusFailed)
	check, err = svc.CheckDuplicate(ctx, "owner_1", content)
	require.NoError(t, err)
	require.False(t, check.IsDuplicate, "failed canonical is a miss")

	svc, _, _, _ = newDedupHarness(models.ResourceStatusCompleted)
	check, err = svc.CheckDuplicate(ctx, "owner_1", content)
	require.NoError(t, err)
	require.True(t, check.IsDuplicate)
	require.Equal(t, "res_src", check.SourceResourceID)
}

func TestCheckDuplicate_ScopedPerOwner(t *testing.T) {
	svc, _, _, _ := newDedupHarness(models.ResourceStatusCompleted)

	check, err := svc.CheckDuplicate(context.Background(), "owner_2", []byte("room photo bytes"))
	require.NoError(t, err)
	require.False(t, check.IsDuplicate, "another owner's identical content is not a duplicate")
}

func TestCheckDuplicate_CacheWarmedOnVerifiedHit(t *testing.T) {
	svc, hashes, _, c := newDedupHarness(models.ResourceStatusCompleted)
	ctx := context.Background()
	content := []byte("room photo bytes")

	check, err := svc.CheckDuplicate(ctx, "owner_1", content)
	require.NoError(t, err)
	require.True(t, check.IsDuplicate)
	require.Equal(t, 1, hashes.lookups)

	cached, ok := c.Get(ctx, dedupCacheKey("owner_1", check.Hash))
	require.True(t, ok)
	require.Equal(t, "res_src", string(cached))

	// the second check is served from cache without touching the index
	check, err = svc.CheckDuplicate(ctx, "owner_1", content)
	require.NoError(t, err)
	require.True(t, check.IsDuplicate)
	require.Equal(t, 1, hashes.lookups)
}

func TestCheckDuplicate_StaleCacheEntryFallsThrough(t *testing.T) {
	svc, hashes, _, c := newDedupHarness(models.ResourceStatusCompleted)
	ctx := context.Background()
	content := []byte("room photo bytes")
	sum := sha256.Sum256(content)

	// cache points at a resource that no longer exists
	c.Set(ctx, dedupCacheKey("owner_1", sum[:]), []byte("res_gone"), time.Minute)

	check, err := svc.CheckDuplicate(ctx, "owner_1", content)
	require.NoError(t, err)
	require.True(t, check.IsDuplicate)
	require.Equal(t, "res_src", check.SourceResourceID)
	require.Equal(t, 1, hashes.lookups, "stale cache entry falls back to the durable index")
}

func TestRecordHash_FirstWriterWins(t *testing.T) {
	hashes := &fakeHashIndex{}
	svc := NewDedupService(hashes, &fakeCopier{}, &fakeResources{}, cache.Noop{}, time.Minute, zerolog.Nop())
	ctx := context.Background()
	hash := []byte{1, 2, 3}

	require.NoError(t, svc.RecordHash(ctx, "owner_1", "res_a", hash))
	require.NoError(t, svc.RecordHash(ctx, "owner_1", "res_b", hash))

	id, err := hashes.Lookup(ctx, "owner_1", hash)
	require.NoError(t, err)
	require.Equal(t, "res_a", id)
}

func TestCopyAnalysis_Delegates(t *testing.T) {
	svc, _, copier, _ := newDedupHarness(models.ResourceStatusCompleted)

	require.NoError(t, svc.CopyAnalysis(context.Background(), "res_src", "res_new", "owner_1"))
	require.Equal(t, [][2]string{{"res_src", "res_new"}}, copier.copies)
}
