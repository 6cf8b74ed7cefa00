package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roomlens/internal/models"
)

type MeteringStore interface {
	EnsureAccount(ctx context.Context, ownerID string, limit int) error
	Reserve(ctx context.Context, ownerID string, amount int) (int, error)
	AppendTransaction(ctx context.Context, tx models.MeteringTransaction) error
	Get(ctx context.Context, ownerID string) (models.MeteringAccount, error)
	ListTransactions(ctx context.Context, ownerID string, limit int) ([]models.MeteringTransaction, error)
}

// MeteringService fronts the usage ledger. Reserve is the one place in the
// system that needs a true atomic gate; the audit trail behind it is
// best-effort and never blocks a reservation.
type MeteringService struct {
	store MeteringStore
	log   zerolog.Logger
}

func NewMeteringService(store MeteringStore, log zerolog.Logger) *MeteringService {
	return &MeteringService{store: store, log: log}
}

func (s *MeteringService) EnsureAccount(ctx context.Context, ownerID string, limit int) error {
	return s.store.EnsureAccount(ctx, ownerID, limit)
}

// Reserve atomically consumes amount from the owner's balance and returns the
// remainder. The audit entry is appended from a detached goroutine; its
// failure only logs.
func (s *MeteringService) Reserve(ctx context.Context, ownerID string, amount int, txType models.TransactionType, resourceRef string) (int, error) {
	remaining, err := s.store.Reserve(ctx, ownerID, amount)
	if err != nil {
		return 0, err
	}

	go func() {
		auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		tx := models.MeteringTransaction{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			Type:         txType,
			Amount:       amount,
			ResourceRef:  resourceRef,
			BalanceAfter: remaining,
		}
		if err := s.store.AppendTransaction(auditCtx, tx); err != nil {
			s.log.Warn().Err(err).
				Str("owner_id", ownerID).
				Str("tx_type", string(txType)).
				Msg("audit append failed")
		}
	}()

	return remaining, nil
}

func (s *MeteringService) Account(ctx context.Context, ownerID string) (models.MeteringAccount, []models.MeteringTransaction, error) {
	account, err := s.store.Get(ctx, ownerID)
	if err != nil {
		return models.MeteringAccount{}, nil, err
	}
	txs, err := s.store.ListTransactions(ctx, ownerID, 50)
	if err != nil {
		return models.MeteringAccount{}, nil, err
	}
	return account, txs, nil
}
