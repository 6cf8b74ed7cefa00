package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"roomlens/internal/errs"
)

// HashRepository is the durable content dedup index: (owner, content hash)
// maps to the canonical resource that first carried that content.
type HashRepository struct {
	db DB
}

func NewHashRepository(db DB) *HashRepository {
	return &HashRepository{db: db}
}

func (r *HashRepository) Lookup(ctx context.Context, ownerID string, hash []byte) (string, error) {
	const query = `SELECT resource_id FROM content_hashes WHERE owner_id = $1 AND hash = $2`

	var resourceID string
	if err := r.db.QueryRow(ctx, query, ownerID, hash).Scan(&resourceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return resourceID, nil
}

// Record writes the mapping only if absent; the first writer for a hash wins
// and later duplicate uploads never move the canonical pointer.
func (r *HashRepository) Record(ctx context.Context, ownerID, resourceID string, hash []byte) error {
	const query = `
		INSERT INTO content_hashes (owner_id, hash, resource_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, hash) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, ownerID, hash, resourceID)
	return err
}
