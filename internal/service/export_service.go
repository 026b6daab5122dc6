package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vidyahub/school-api/internal/models"
	appErrors "github.com/vidyahub/school-api/pkg/errors"
	"github.com/vidyahub/school-api/pkg/export"
	"github.com/vidyahub/school-api/pkg/jobs"
	"github.com/vidyahub/school-api/pkg/storage"
)

type exportJobRepository interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id, resultURL string) error
	MarkFailed(ctx context.Context, id, message string) error
}

type exportTimetableSource interface {
	List(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableSlot, int, error)
}

type exportNameSource interface {
	ListBySchool(ctx context.Context, schoolID string) ([]models.Subject, error)
}

type exportTeacherSource interface {
	ListActiveBySchool(ctx context.Context, schoolID string) ([]models.Teacher, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService renders section timetables to downloadable files through a
// background queue.
type ExportService struct {
	repo      exportJobRepository
	timetable exportTimetableSource
	subjects  exportNameSource
	teachers  exportTeacherSource
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	queue     *jobs.Queue
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService. Call BindQueue before
// enqueueing work.
func NewExportService(repo exportJobRepository, timetable exportTimetableSource, subjects exportNameSource, teachers exportTeacherSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &ExportService{
		repo:      repo,
		timetable: timetable,
		subjects:  subjects,
		teachers:  teachers,
		storage:   store,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
	}
}

// BindQueue attaches the started queue used for background processing.
func (s *ExportService) BindQueue(queue *jobs.Queue) {
	s.queue = queue
}

// Request persists a queued job and schedules it for processing.
func (s *ExportService) Request(ctx context.Context, params models.ExportJobParams, createdBy string) (*models.ExportJob, error) {
	if params.SchoolID == "" || params.SectionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "school_id and section_id are required")
	}
	if params.Format != models.ExportFormatCSV && params.Format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	job := models.ExportJob{
		Params:    params,
		Status:    models.ExportStatusQueued,
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(ctx, &job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export queue not running")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "timetable_export"}); err != nil {
		_ = s.repo.MarkFailed(ctx, job.ID, "failed to enqueue")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return &job, nil
}

// Status fetches a job by id.
func (s *ExportService) Status(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

// HandleJob is the queue handler: it renders the export and records the
// outcome on the job row.
func (s *ExportService) HandleJob(ctx context.Context, job jobs.Job) error {
	record, err := s.repo.FindByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", job.ID, err)
	}
	if err := s.repo.MarkProcessing(ctx, record.ID); err != nil {
		s.logger.Warn("failed to mark export processing", zap.String("job_id", record.ID), zap.Error(err))
	}

	url, err := s.generate(ctx, record)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			s.logger.Warn("failed to mark export failed", zap.String("job_id", record.ID), zap.Error(markErr))
		}
		return err
	}
	if err := s.repo.MarkFinished(ctx, record.ID, url); err != nil {
		return fmt.Errorf("mark export finished: %w", err)
	}
	s.logger.Info("export finished", zap.String("job_id", record.ID), zap.String("format", string(record.Params.Format)))
	return nil
}

// OpenDownload validates a signed token and opens the exported file.
func (s *ExportService) OpenDownload(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	return file, nil
}

// Cleanup removes exported files older than the result TTL.
func (s *ExportService) Cleanup() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("export cleanup removed files", zap.Int("count", len(removed)))
	}
}

func (s *ExportService) generate(ctx context.Context, job *models.ExportJob) (string, error) {
	dataset, title, err := s.buildDataset(ctx, job.Params)
	if err != nil {
		return "", err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("timetable_%s_%s.%s", job.Params.SectionID, time.Now().UTC().Format("20060102T150405"), job.Params.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return "", err
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/exports/download/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token), nil
}

func (s *ExportService) buildDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	slots, _, err := s.timetable.List(ctx, models.TimetableFilter{
		SchoolID:  params.SchoolID,
		SectionID: params.SectionID,
		PageSize:  200,
	})
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("load timetable: %w", err)
	}

	subjectNames := map[string]string{}
	if subjects, err := s.subjects.ListBySchool(ctx, params.SchoolID); err == nil {
		for _, subject := range subjects {
			subjectNames[subject.ID] = subject.Name
		}
	}
	teacherNames := map[string]string{}
	if teachers, err := s.teachers.ListActiveBySchool(ctx, params.SchoolID); err == nil {
		for _, teacher := range teachers {
			teacherNames[teacher.ID] = teacher.FullName
		}
	}

	rows := make([]map[string]string, 0, len(slots))
	for _, slot := range slots {
		subject := subjectNames[slot.SubjectID]
		if subject == "" {
			subject = slot.SubjectID
		}
		teacher := teacherNames[slot.TeacherID]
		if teacher == "" {
			teacher = slot.TeacherID
		}
		rows = append(rows, map[string]string{
			"Day":     dayName(slot.DayOfWeek),
			"Start":   export.MinuteLabel(slot.StartMinute),
			"End":     export.MinuteLabel(slot.EndMinute),
			"Subject": subject,
			"Teacher": teacher,
		})
	}

	dataset := export.Dataset{
		Headers: []string{"Day", "Start", "End", "Subject", "Teacher"},
		Rows:    rows,
	}
	title := fmt.Sprintf("Weekly Timetable - Section %s", params.SectionID)
	return dataset, title, nil
}

func dayName(dayOfWeek int) string {
	names := [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	if dayOfWeek < 1 || dayOfWeek > 7 {
		return fmt.Sprintf("Day %d", dayOfWeek)
	}
	return names[dayOfWeek-1]
}
