package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapsell/api/internal/model"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const jobColumns = `id, user_id, operation, image_url, selfie_url, parameters, status, provider, first_item,
       result_url, error_kind, error_message, credits_deducted, allowance_consumed, created_at, completed_at`

func (s *PostgresStore) Create(ctx context.Context, job *model.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return err
	}
	if job.Parameters == nil {
		params = []byte("{}")
	}

	query := `
INSERT INTO photo_jobs (id, user_id, operation, image_url, selfie_url, parameters, status, provider, first_item, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10);
`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		string(job.Operation),
		job.ImageURL,
		job.SelfieURL,
		params,
		string(job.Status),
		string(job.Provider),
		job.FirstItem,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, jobID string, done model.JobCompletion) error {
	query := `
UPDATE photo_jobs
SET status = 'completed',
    result_url = $2,
    credits_deducted = $3,
    allowance_consumed = $4,
    completed_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := s.pool.Exec(ctx, query, jobID, done.ResultURL, done.CreditsDeducted, done.AllowanceConsumed)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return s.checkTransition(ctx, jobID, tag.RowsAffected())
}

func (s *PostgresStore) MarkFailed(ctx context.Context, jobID string, jobErr model.JobError) error {
	query := `
UPDATE photo_jobs
SET status = 'failed',
    error_kind = $2,
    error_message = $3,
    completed_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := s.pool.Exec(ctx, query, jobID, string(jobErr.Kind), jobErr.Message)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return s.checkTransition(ctx, jobID, tag.RowsAffected())
}

// checkTransition tells a missing job from a terminal one when an update
// matched no rows.
func (s *PostgresStore) checkTransition(ctx context.Context, jobID string, affected int64) error {
	if affected == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM photo_jobs WHERE id = $1);`, jobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyTerminal
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM photo_jobs WHERE id = $1;`, jobID)
	return scanJob(row)
}

func (s *PostgresStore) GetForUser(ctx context.Context, jobID, userID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM photo_jobs WHERE id = $1 AND user_id = $2;`, jobID, userID)
	return scanJob(row)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM photo_jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`,
		userID, ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		job          model.Job
		operation    string
		status       string
		provider     string
		selfieURL    *string
		params       []byte
		resultURL    *string
		errorKind    *string
		errorMessage *string
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&operation,
		&job.ImageURL,
		&selfieURL,
		&params,
		&status,
		&provider,
		&job.FirstItem,
		&resultURL,
		&errorKind,
		&errorMessage,
		&job.CreditsDeducted,
		&job.AllowanceConsumed,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Operation = model.OperationID(operation)
	job.Status = model.JobStatus(status)
	job.Provider = model.Family(provider)
	if selfieURL != nil {
		job.SelfieURL = *selfieURL
	}
	if resultURL != nil {
		job.ResultURL = *resultURL
	}
	if errorKind != nil {
		job.Error = &model.JobError{Kind: model.FailureKind(*errorKind)}
		if errorMessage != nil {
			job.Error.Message = *errorMessage
		}
	}
	if len(params) > 0 && string(params) != "{}" {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode parameters: %w", err)
		}
	}
	return &job, nil
}
