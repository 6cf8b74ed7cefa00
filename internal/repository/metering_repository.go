package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"roomlens/internal/errs"
	"roomlens/internal/models"
)

type MeteringRepository struct {
	db DB
}

func NewMeteringRepository(db DB) *MeteringRepository {
	return &MeteringRepository{db: db}
}

func (r *MeteringRepository) EnsureAccount(ctx context.Context, ownerID string, limit int) error {
	const query = `
		INSERT INTO metering_accounts (owner_id, consumed, credit_limit)
		VALUES ($1, 0, $2)
		ON CONFLICT (owner_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, ownerID, limit)
	return err
}

// Reserve adds amount to the consumed counter only if the result stays under
// the limit, in a single conditional UPDATE. Concurrent reservations for the
// same account therefore cannot both slip under the limit: there is no
// read-then-write window.
func (r *MeteringRepository) Reserve(ctx context.Context, ownerID string, amount int) (int, error) {
	const query = `
		UPDATE metering_accounts
		SET consumed = consumed + $2, updated_at = NOW()
		WHERE owner_id = $1 AND consumed + $2 <= credit_limit
		RETURNING credit_limit - consumed
	`

	var remaining int
	if err := r.db.QueryRow(ctx, query, ownerID, amount).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrLimitReached
		}
		return 0, err
	}
	return remaining, nil
}

func (r *MeteringRepository) AppendTransaction(ctx context.Context, tx models.MeteringTransaction) error {
	const query = `
		INSERT INTO metering_transactions (id, owner_id, tx_type, amount, resource_ref, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID,
		tx.OwnerID,
		tx.Type,
		tx.Amount,
		tx.ResourceRef,
		tx.BalanceAfter,
	)
	return err
}

func (r *MeteringRepository) Get(ctx context.Context, ownerID string) (models.MeteringAccount, error) {
	const query = `SELECT owner_id, consumed, credit_limit, updated_at FROM metering_accounts WHERE owner_id = $1`

	var account models.MeteringAccount
	row := r.db.QueryRow(ctx, query, ownerID)
	if err := row.Scan(&account.OwnerID, &account.Consumed, &account.Limit, &account.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.MeteringAccount{}, errs.ErrNotFound
		}
		return models.MeteringAccount{}, err
	}
	return account, nil
}

func (r *MeteringRepository) ListTransactions(ctx context.Context, ownerID string, limit int) ([]models.MeteringTransaction, error) {
	const query = `
		SELECT id, owner_id, tx_type, amount, resource_ref, balance_after, created_at
		FROM metering_transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.MeteringTransaction
	for rows.Next() {
		var tx models.MeteringTransaction
		if err := rows.Scan(
			&tx.ID,
			&tx.OwnerID,
			&tx.Type,
			&tx.Amount,
			&tx.ResourceRef,
			&tx.BalanceAfter,
			&tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
