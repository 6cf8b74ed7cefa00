package repository

import (
	"context"

	"github.com/google/uuid"

	"roomlens/internal/models"
)

// StrikeRepository records moderation rejections against accounts.
type StrikeRepository struct {
	db DB
}

func NewStrikeRepository(db DB) *StrikeRepository {
	return &StrikeRepository{db: db}
}

func (r *StrikeRepository) Insert(ctx context.Context, ownerID string, fixID *string, category string) error {
	const query = `INSERT INTO policy_strikes (id, owner_id, fix_id, category) VALUES ($1, $2, $3, $4)`
	_, err := r.db.Exec(ctx, query, uuid.New(), ownerID, fixID, category)
	return err
}

func (r *StrikeRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.PolicyStrike, error) {
	const query = `
		SELECT id, owner_id, fix_id, category, created_at
		FROM policy_strikes
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strikes []models.PolicyStrike
	for rows.Next() {
		var s models.PolicyStrike
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.FixID, &s.Category, &s.CreatedAt); err != nil {
			return nil, err
		}
		strikes = append(strikes, s)
	}
	return strikes, rows.Err()
}
