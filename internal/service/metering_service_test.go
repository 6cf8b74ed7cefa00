package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"roomlens/internal/errs"
	"roomlens/internal/models"
)

type fakeMeteringStore struct {
	mu       sync.Mutex
	consumed int
	limit    int
	audited  []models.MeteringTransaction
	auditErr error
}

var _ MeteringStore = (*fakeMeteringStore)(nil)

func (f *fakeMeteringStore) EnsureAccount(_ context.Context, _ string, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit == 0 {
		f.limit = limit
	}
	return nil
}

func (f *fakeMeteringStore) Reserve(_ context.Context, _ string, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumed+amount > f.limit {
		return 0, errs.ErrLimitReached
	}
	f.consumed += amount
	return f.limit - f.consumed, nil
}

func (f *fakeMeteringStore) AppendTransaction(_ context.Context, tx models.MeteringTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audited = append(f.audited, tx)
	return nil
}

func (f *fakeMeteringStore) Get(_ context.Context, ownerID string) (models.MeteringAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.MeteringAccount{OwnerID: ownerID, Consumed: f.consumed, Limit: f.limit}, nil
}

func (f *fakeMeteringStore) ListTransactions(context.Context, string, int) ([]models.MeteringTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MeteringTransaction(nil), f.audited...), nil
}

func (f *fakeMeteringStore) auditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audited)
}

func TestMeteringService_Reserve(t *testing.T) {
	store := &fakeMeteringStore{limit: 2}
	svc := NewMeteringService(store, zerolog.Nop())
	ctx := context.Background()

	remaining, err := svc.Reserve(ctx, "owner_1", 1, models.TxTypeUpload, "res_1")
	require.NoError(t, err)
	require.Equal(t, 1, remaining)

	remaining, err = svc.Reserve(ctx, "owner_1", 1, models.TxTypeFix, "res_1")
	require.NoError(t, err)
	require.Equal(t, 0, remaining)

	_, err = svc.Reserve(ctx, "owner_1", 1, models.TxTypeFix, "res_1")
	require.ErrorIs(t, err, errs.ErrLimitReached)

	// audit trail lands asynchronously, only for granted reservations
	require.Eventually(t, func() bool {
		return store.auditCount() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestMeteringService_AuditFailureDoesNotBlockReserve(t *testing.T) {
	store := &fakeMeteringStore{limit: 5, auditErr: errs.ErrTransient}
	svc := NewMeteringService(store, zerolog.Nop())

	remaining, err := svc.Reserve(context.Background(), "owner_1", 1, models.TxTypeUpload, "res_1")
	require.NoError(t, err)
	require.Equal(t, 4, remaining)
}

func TestMeteringService_Account(t *testing.T) {
	store := &fakeMeteringStore{limit: 20, consumed: 3}
	svc := NewMeteringService(store, zerolog.Nop())

	account, _, err := svc.Account(context.Background(), "owner_1")
	require.NoError(t, err)
	require.Equal(t, 3, account.Consumed)
	require.Equal(t, 17, account.Remaining())
}
