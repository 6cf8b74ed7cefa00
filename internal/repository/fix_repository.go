package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"roomlens/internal/errs"
	"roomlens/internal/models"
)

// FixRepository owns fix jobs, fix results and the transformation signature
// index. The signature index is only ever written inside Complete, so an
// entry always resolves to a completed job.
type FixRepository struct {
	db DB
}

func NewFixRepository(db DB) *FixRepository {
	return &FixRepository{db: db}
}

// CreateJob persists a new job, assigning the next version in the resource's
// fix history.
func (r *FixRepository) CreateJob(ctx context.Context, job *models.FixJob) error {
	problemIDs, err := json.Marshal(job.ProblemIDs)
	if err != nil {
		return fmt.Errorf("marshal problem ids: %w", err)
	}

	const query = `
		INSERT INTO fix_jobs (id, resource_id, owner_id, scope, problem_ids, signature, version, status, source_fix_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM fix_jobs WHERE resource_id = $2),
			$7, $8, NOW(), NOW())
		RETURNING version
	`
	return r.db.QueryRow(ctx, query,
		job.ID,
		job.ResourceID,
		job.OwnerID,
		job.Scope,
		problemIDs,
		job.Signature,
		job.Status,
		job.SourceFixID,
	).Scan(&job.Version)
}

const fixJobColumns = `id, resource_id, owner_id, scope, problem_ids, signature, version, status, source_fix_id, error_message, created_at, updated_at`

func (r *FixRepository) GetJob(ctx context.Context, id string) (models.FixJob, error) {
	row := r.db.QueryRow(ctx, `SELECT `+fixJobColumns+` FROM fix_jobs WHERE id = $1`, id)
	return scanFixJob(row)
}

func (r *FixRepository) ListByResource(ctx context.Context, resourceID string) ([]models.FixJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+fixJobColumns+` FROM fix_jobs WHERE resource_id = $1 ORDER BY version DESC`,
		resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.FixJob
	for rows.Next() {
		job, err := scanFixJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountActive counts the owner's non-terminal jobs. Eventually consistent by
// design; the ceiling built on it is a fairness control, not an invariant.
func (r *FixRepository) CountActive(ctx context.Context, ownerID string) (int, error) {
	const query = `SELECT COUNT(*) FROM fix_jobs WHERE owner_id = $1 AND status IN ('pending', 'processing')`

	var count int
	if err := r.db.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// MarkProcessing transitions pending -> processing; reports false when the
// job already left pending, so redelivered messages become no-ops.
func (r *FixRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE fix_jobs SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *FixRepository) MarkFailed(ctx context.Context, id, message string) error {
	const query = `UPDATE fix_jobs SET status = 'failed', error_message = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, message)
	return err
}

// Complete bundles the one cross-collection commit of the system: result row,
// job status, resource fix counter and signature entry land together or not
// at all. signatureResourceID is the canonical resource the signature was
// computed against.
func (r *FixRepository) Complete(ctx context.Context, result models.FixResult, signatureResourceID string, signature []byte) error {
	items, err := json.Marshal(result.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	beforeDims, err := json.Marshal(result.BeforeDimensions)
	if err != nil {
		return fmt.Errorf("marshal before dimensions: %w", err)
	}
	afterDims, err := json.Marshal(result.AfterDimensions)
	if err != nil {
		return fmt.Errorf("marshal after dimensions: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertResult = `
		INSERT INTO fix_results (fix_id, resource_id, items, before_overall, after_overall, before_dimensions, after_dimensions, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	if _, err := tx.Exec(ctx, insertResult,
		result.FixID,
		result.ResourceID,
		items,
		result.BeforeOverall,
		result.AfterOverall,
		beforeDims,
		afterDims,
		result.Summary,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE fix_jobs SET status = 'completed', updated_at = NOW() WHERE id = $1`,
		result.FixID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE resources SET fix_count = fix_count + 1, updated_at = NOW() WHERE id = $1`,
		result.ResourceID); err != nil {
		return err
	}

	// first completed job for a signature wins; a racing duplicate keeps the
	// existing pointer
	if _, err := tx.Exec(ctx,
		`INSERT INTO fix_signatures (resource_id, signature, fix_id) VALUES ($1, $2, $3) ON CONFLICT (resource_id, signature) DO NOTHING`,
		signatureResourceID, signature, result.FixID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// LookupSignature resolves a signature to a completed fix job.
func (r *FixRepository) LookupSignature(ctx context.Context, resourceID string, signature []byte) (string, error) {
	const query = `
		SELECT s.fix_id
		FROM fix_signatures s
		JOIN fix_jobs j ON j.id = s.fix_id
		WHERE s.resource_id = $1 AND s.signature = $2 AND j.status = 'completed'
	`

	var fixID string
	if err := r.db.QueryRow(ctx, query, resourceID, signature).Scan(&fixID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return fixID, nil
}

func (r *FixRepository) GetResult(ctx context.Context, fixID string) (models.FixResult, error) {
	const query = `
		SELECT fix_id, resource_id, items, before_overall, after_overall, before_dimensions, after_dimensions, summary, created_at
		FROM fix_results WHERE fix_id = $1
	`

	var (
		result     models.FixResult
		itemsRaw   []byte
		beforeRaw  []byte
		afterRaw   []byte
	)
	row := r.db.QueryRow(ctx, query, fixID)
	if err := row.Scan(
		&result.FixID,
		&result.ResourceID,
		&itemsRaw,
		&result.BeforeOverall,
		&result.AfterOverall,
		&beforeRaw,
		&afterRaw,
		&result.Summary,
		&result.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FixResult{}, errs.ErrNotFound
		}
		return models.FixResult{}, err
	}

	if err := json.Unmarshal(itemsRaw, &result.Items); err != nil {
		return models.FixResult{}, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(beforeRaw, &result.BeforeDimensions); err != nil {
		return models.FixResult{}, fmt.Errorf("decode before dimensions: %w", err)
	}
	if err := json.Unmarshal(afterRaw, &result.AfterDimensions); err != nil {
		return models.FixResult{}, fmt.Errorf("decode after dimensions: %w", err)
	}

	return result, nil
}

// DeleteJob removes a job on explicit user action; the signature entry and
// result cascade with it.
func (r *FixRepository) DeleteJob(ctx context.Context, id, ownerID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM fix_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// FailStale marks jobs stuck processing past the cutoff as failed.
func (r *FixRepository) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE fix_jobs
		SET status = 'failed', error_message = 'worker deadline exceeded', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanFixJob(row pgx.Row) (models.FixJob, error) {
	var (
		job    models.FixJob
		idsRaw []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.ResourceID,
		&job.OwnerID,
		&job.Scope,
		&idsRaw,
		&job.Signature,
		&job.Version,
		&job.Status,
		&job.SourceFixID,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FixJob{}, errs.ErrNotFound
		}
		return models.FixJob{}, err
	}
	if err := json.Unmarshal(idsRaw, &job.ProblemIDs); err != nil {
		return models.FixJob{}, fmt.Errorf("decode problem ids: %w", err)
	}
	return job, nil
}
