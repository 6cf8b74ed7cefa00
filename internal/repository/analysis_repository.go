package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"roomlens/internal/errs"
	"roomlens/internal/models"
)

type AnalysisRepository struct {
	db DB
}

func NewAnalysisRepository(db DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(ctx context.Context, a models.Analysis) error {
	dimensions, err := json.Marshal(a.Dimensions)
	if err != nil {
		return fmt.Errorf("marshal dimensions: %w", err)
	}
	problems, err := json.Marshal(a.Problems)
	if err != nil {
		return fmt.Errorf("marshal problems: %w", err)
	}
	frames, err := json.Marshal(a.ProblemFrames)
	if err != nil {
		return fmt.Errorf("marshal problem frames: %w", err)
	}

	const query = `
		INSERT INTO analyses (resource_id, overall, dimensions, problems, problem_frames, summary, copied_from, copied_at, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err = r.db.Exec(ctx, query,
		a.ResourceID,
		a.Overall,
		dimensions,
		problems,
		frames,
		a.Summary,
		a.CopiedFrom,
		a.CopiedAt,
	)
	return err
}

func (r *AnalysisRepository) GetByResource(ctx context.Context, resourceID string) (models.Analysis, error) {
	const query = `
		SELECT resource_id, overall, dimensions, problems, problem_frames, summary, copied_from, copied_at, analyzed_at
		FROM analyses WHERE resource_id = $1
	`

	var (
		a         models.Analysis
		dimsRaw   []byte
		probsRaw  []byte
		framesRaw []byte
	)
	row := r.db.QueryRow(ctx, query, resourceID)
	if err := row.Scan(
		&a.ResourceID,
		&a.Overall,
		&dimsRaw,
		&probsRaw,
		&framesRaw,
		&a.Summary,
		&a.CopiedFrom,
		&a.CopiedAt,
		&a.AnalyzedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Analysis{}, errs.ErrNotFound
		}
		return models.Analysis{}, err
	}

	if err := json.Unmarshal(dimsRaw, &a.Dimensions); err != nil {
		return models.Analysis{}, fmt.Errorf("decode dimensions: %w", err)
	}
	if err := json.Unmarshal(probsRaw, &a.Problems); err != nil {
		return models.Analysis{}, fmt.Errorf("decode problems: %w", err)
	}
	frames, err := DecodeProblemFrames(framesRaw)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("decode problem frames: %w", err)
	}
	a.ProblemFrames = frames

	return a, nil
}

// Copy clones the source resource's analysis under the target resource with
// lineage stamps and completes the target, in one transaction. The duplicate
// upload skips the AI call entirely.
func (r *AnalysisRepository) Copy(ctx context.Context, sourceResourceID, targetResourceID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const clone = `
		INSERT INTO analyses (resource_id, overall, dimensions, problems, problem_frames, summary, copied_from, copied_at, analyzed_at)
		SELECT $2, overall, dimensions, problems, problem_frames, summary, $1, NOW(), analyzed_at
		FROM analyses WHERE resource_id = $1
	`
	tag, err := tx.Exec(ctx, clone, sourceResourceID, targetResourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}

	const complete = `
		UPDATE resources
		SET status = 'completed', source_resource_id = $1, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := tx.Exec(ctx, complete, sourceResourceID, targetResourceID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type legacyFrame struct {
	Timestamp float64  `json:"timestamp"`
	Frame     string   `json:"frame"`
	Problems  []string `json:"problems"`
}

// DecodeProblemFrames handles both the current shape and the pre-rewrite
// flat frame_specific array, converted once here at the storage boundary.
func DecodeProblemFrames(raw []byte) ([]models.ProblemFrame, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var frames []models.ProblemFrame
	if err := json.Unmarshal(raw, &frames); err != nil {
		return nil, err
	}
	if !looksLegacy(raw, frames) {
		return frames, nil
	}

	var legacy []legacyFrame
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}
	out := make([]models.ProblemFrame, 0, len(legacy))
	for _, lf := range legacy {
		out = append(out, models.ProblemFrame{
			TimestampSec: lf.Timestamp,
			ObjectKey:    lf.Frame,
			ProblemIDs:   lf.Problems,
		})
	}
	return out, nil
}

func looksLegacy(raw []byte, decoded []models.ProblemFrame) bool {
	if len(decoded) == 0 {
		return false
	}
	for _, f := range decoded {
		if f.ObjectKey != "" || len(f.ProblemIDs) > 0 {
			return false
		}
	}
	return bytes.Contains(raw, []byte(`"frame"`)) || bytes.Contains(raw, []byte(`"problems"`))
}
