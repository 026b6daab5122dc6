package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidyahub/school-api/internal/models"
)

const exportJobColumns = "id, params, status, result_url, created_by, created_at, finished_at, error_message"

// ExportJobRepository manages persistence for timetable export jobs.
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository constructs an ExportJobRepository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// Create inserts a queued job.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	job.CreatedAt = time.Now().UTC()

	const query = `INSERT INTO export_jobs (id, params, status, result_url, created_by, created_at, finished_at, error_message)
VALUES (:id, :params, :status, :result_url, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// FindByID fetches a job by ID.
func (r *ExportJobRepository) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	query := fmt.Sprintf("SELECT %s FROM export_jobs WHERE id = $1", exportJobColumns)
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkProcessing transitions a job into PROCESSING.
func (r *ExportJobRepository) MarkProcessing(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE export_jobs SET status = $2 WHERE id = $1", id, models.ExportStatusProcessing); err != nil {
		return fmt.Errorf("mark export job processing: %w", err)
	}
	return nil
}

// MarkFinished records a completed job and its result URL.
func (r *ExportJobRepository) MarkFinished(ctx context.Context, id, resultURL string) error {
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, "UPDATE export_jobs SET status = $2, result_url = $3, finished_at = $4 WHERE id = $1", id, models.ExportStatusFinished, resultURL, now); err != nil {
		return fmt.Errorf("mark export job finished: %w", err)
	}
	return nil
}

// MarkFailed records a failed job with its error message.
func (r *ExportJobRepository) MarkFailed(ctx context.Context, id, message string) error {
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, "UPDATE export_jobs SET status = $2, error_message = $3, finished_at = $4 WHERE id = $1", id, models.ExportStatusFailed, message, now); err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	return nil
}
