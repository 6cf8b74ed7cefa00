package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"roomlens/internal/errs"
	"roomlens/internal/models"
)

type ResourceRepository struct {
	db DB
}

func NewResourceRepository(db DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

const resourceColumns = `id, owner_id, kind, bucket, object_key, format, size_bytes, duration_seconds,
	       content_hash, status, source_resource_id, fix_count, fail_reason, created_at, updated_at`

func (r *ResourceRepository) Create(ctx context.Context, res models.Resource) error {
	const query = `
		INSERT INTO resources (
			id, owner_id, kind, bucket, object_key, format, size_bytes, duration_seconds,
			content_hash, status, source_resource_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		res.ID,
		res.OwnerID,
		res.Kind,
		res.Bucket,
		res.ObjectKey,
		res.Format,
		res.SizeBytes,
		res.DurationSeconds,
		res.ContentHash,
		res.Status,
		res.SourceResourceID,
	)
	return err
}

func (r *ResourceRepository) GetByID(ctx context.Context, id string) (models.Resource, error) {
	row := r.db.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
	return scanResource(row)
}

func (r *ResourceRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Resource, error) {
	const query = `SELECT ` + resourceColumns + `
		FROM resources
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []models.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, rows.Err()
}

// UpdateStatus persists one state-machine transition.
func (r *ResourceRepository) UpdateStatus(ctx context.Context, id string, status models.ResourceStatus, failReason *string) error {
	const query = `
		UPDATE resources
		SET status = $2,
		    fail_reason = $3,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, status, failReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *ResourceRepository) SetDuration(ctx context.Context, id string, seconds float64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE resources SET duration_seconds = $2, updated_at = NOW() WHERE id = $1`,
		id, seconds)
	return err
}

// Delete removes the resource; fix jobs, results, analyses and both index
// entries go with it through the schema's cascades.
func (r *ResourceRepository) Delete(ctx context.Context, id, ownerID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM resources WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// FailStale marks resources stuck mid-pipeline past the cutoff as failed so
// crashed workers leave a diagnosable terminal state.
func (r *ResourceRepository) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE resources
		SET status = 'failed', fail_reason = 'worker deadline exceeded', updated_at = NOW()
		WHERE status NOT IN ('pending', 'completed', 'failed') AND updated_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanResource(row pgx.Row) (models.Resource, error) {
	var res models.Resource
	if err := row.Scan(
		&res.ID,
		&res.OwnerID,
		&res.Kind,
		&res.Bucket,
		&res.ObjectKey,
		&res.Format,
		&res.SizeBytes,
		&res.DurationSeconds,
		&res.ContentHash,
		&res.Status,
		&res.SourceResourceID,
		&res.FixCount,
		&res.FailReason,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Resource{}, errs.ErrNotFound
		}
		return models.Resource{}, err
	}
	return res, nil
}
