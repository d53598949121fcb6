package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itstheanurag/executioner/internal/apperr"
	"github.com/itstheanurag/executioner/internal/domain"
	"github.com/jackc/pgx/v5"
)

// SubmissionRepository is the durable Submission Store: the exclusive owner
// of Submission records on disk.
type SubmissionRepository struct {
	db *Database
}

func NewSubmissionRepository(db *Database) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS submissions (
	id                UUID PRIMARY KEY,
	language_id       INTEGER NOT NULL,
	source_code       BYTEA NOT NULL,
	stdin             BYTEA,
	expected_output   BYTEA,
	has_expected_out  BOOLEAN NOT NULL DEFAULT FALSE,
	additional_files  JSONB,
	limits            JSONB NOT NULL,
	status            TEXT NOT NULL,
	stdout            BYTEA,
	stderr            BYTEA,
	compile_output    BYTEA,
	meta              JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS submissions_created_at_idx ON submissions (created_at DESC);
`

// EnsureSchema creates the submissions table if it does not already exist.
func (r *SubmissionRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, createSchemaSQL)
	if err != nil {
		return fmt.Errorf("failed to ensure submissions schema: %w", err)
	}
	return nil
}

// Create allocates an id, writes the record with status PENDING, and
// returns it. Atomicity with the Job Queue enqueue step is the caller's
// (Submission Service's) responsibility.
func (r *SubmissionRepository) Create(ctx context.Context, sub *domain.Submission) error {
	sub.ID = uuid.New()
	sub.Status = domain.StatusPending
	sub.CreatedAt = time.Now()

	additionalFiles, err := json.Marshal(sub.AdditionalFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal additional files: %w", err)
	}
	limits, err := json.Marshal(sub.Limits)
	if err != nil {
		return fmt.Errorf("failed to marshal limits: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO submissions
			(id, language_id, source_code, stdin, expected_output, has_expected_out,
			 additional_files, limits, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		sub.ID, sub.LanguageID, sub.SourceCode, nullableBytes(sub.Stdin), nullableBytes(sub.ExpectedOutput),
		sub.HasExpectedOut, additionalFiles, limits, string(sub.Status), sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

const selectColumns = `
	id, language_id, source_code, stdin, expected_output, has_expected_out,
	additional_files, limits, status, stdout, stderr, compile_output, meta, created_at
`

func (r *SubmissionRepository) scanRow(row pgx.Row) (*domain.Submission, error) {
	var sub domain.Submission
	var additionalFiles, limits, meta []byte
	var status string

	err := row.Scan(
		&sub.ID, &sub.LanguageID, &sub.SourceCode, &sub.Stdin, &sub.ExpectedOutput, &sub.HasExpectedOut,
		&additionalFiles, &limits, &status, &sub.Stdout, &sub.Stderr, &sub.CompileOutput, &meta, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Status = domain.Status(status)

	if len(additionalFiles) > 0 {
		if err := json.Unmarshal(additionalFiles, &sub.AdditionalFiles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal additional files: %w", err)
		}
	}
	if err := json.Unmarshal(limits, &sub.Limits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
	}
	if len(meta) > 0 {
		var m domain.Meta
		if err := json.Unmarshal(meta, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
		}
		sub.Meta = &m
	}

	return &sub, nil
}

// Get fetches a submission by id.
func (r *SubmissionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	row := r.db.Pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM submissions WHERE id = $1", id)
	sub, err := r.scanRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("submission not found")
		}
		return nil, fmt.Errorf("failed to fetch submission: %w", err)
	}
	return sub, nil
}

// GetMany returns only existing submissions, in input order, with missing
// entries dropped and duplicate input ids collapsed.
func (r *SubmissionRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.Submission, error) {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return []domain.Submission{}, nil
	}

	rows, err := r.db.Pool.Query(ctx, "SELECT "+selectColumns+" FROM submissions WHERE id = ANY($1)", unique)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]domain.Submission, len(unique))
	for rows.Next() {
		sub, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		byID[sub.ID] = *sub
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]domain.Submission, 0, len(unique))
	for _, id := range unique {
		if sub, ok := byID[id]; ok {
			result = append(result, sub)
		}
	}
	return result, nil
}

// List returns a page of submissions ordered by created_at descending.
func (r *SubmissionRepository) List(ctx context.Context, page, pageSize int) (*domain.Page, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, "SELECT count(*) FROM submissions").Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+selectColumns+" FROM submissions ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		pageSize, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Submission, 0, pageSize)
	for rows.Next() {
		sub, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		items = append(items, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := 1
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
		if totalPages < 1 {
			totalPages = 1
		}
	}

	return &domain.Page{
		Items:       items,
		TotalItems:  total,
		TotalPages:  totalPages,
		CurrentPage: page,
		PageSize:    pageSize,
	}, nil
}

// UpdateResult applies the monotonic status transition, returning
// apperr.Conflict if the row exists but is no longer in a non-terminal state
// (an illegal transition), and apperr.NotFound if the row is gone (a
// mid-flight delete).
func (r *SubmissionRepository) UpdateResult(ctx context.Context, id uuid.UUID, status domain.Status, stdout, stderr, compileOutput []byte, meta *domain.Meta) error {
	var metaJSON []byte
	var err error
	if meta != nil {
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE submissions
		SET status = $1, stdout = $2, stderr = $3, compile_output = $4, meta = $5
		WHERE id = $6 AND status IN ('PENDING', 'PROCESSING')
	`, string(status), nullableBytes(stdout), nullableBytes(stderr), nullableBytes(compileOutput), metaJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update submission result: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return apperr.Conflict("submission is no longer in a pending or processing state")
	}
	return nil
}

// MarkProcessing transitions PENDING -> PROCESSING. Returns apperr.Conflict
// if the row was not PENDING (e.g. already claimed, or deleted).
func (r *SubmissionRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE submissions SET status = $1 WHERE id = $2 AND status = $3",
		string(domain.StatusProcessing), id, string(domain.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark submission processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("submission is no longer pending")
	}
	return nil
}

// Delete removes a submission. Best-effort: a submission currently being
// processed is still deleted here; the worker's later UpdateResult call
// will observe the row missing (or no longer pending/processing) and
// discard its result.
func (r *SubmissionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM submissions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("submission not found")
	}
	return nil
}
