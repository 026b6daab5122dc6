package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vidyahub/school-api/internal/models"
	"github.com/vidyahub/school-api/internal/repository"
	appErrors "github.com/vidyahub/school-api/pkg/errors"
)

type teachingAssignmentRepository interface {
	List(ctx context.Context, filter models.TeachingAssignmentFilter) ([]models.TeachingAssignment, int, error)
	FindByID(ctx context.Context, id string) (*models.TeachingAssignment, error)
	Create(ctx context.Context, assignment *models.TeachingAssignment) error
	Update(ctx context.Context, assignment *models.TeachingAssignment) error
	Deactivate(ctx context.Context, id string) error
}

type assignmentTeacherLookup interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type assignmentSectionLookup interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

type assignmentSubjectLookup interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

// CreateTeachingAssignmentRequest binds a teacher to a (section, subject)
// pair for an academic year.
type CreateTeachingAssignmentRequest struct {
	SchoolID     string `json:"school_id" validate:"required"`
	AcademicYear string `json:"academic_year" validate:"required"`
	SectionID    string `json:"section_id" validate:"required"`
	SubjectID    string `json:"subject_id" validate:"required"`
	TeacherID    string `json:"teacher_id" validate:"required"`
}

// UpdateTeachingAssignmentRequest swaps the teacher of record or toggles
// the active flag.
type UpdateTeachingAssignmentRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
	Active    *bool  `json:"active"`
}

// TeachingAssignmentService manages the teacher-of-record mapping.
type TeachingAssignmentService struct {
	repo      teachingAssignmentRepository
	teachers  assignmentTeacherLookup
	sections  assignmentSectionLookup
	subjects  assignmentSubjectLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeachingAssignmentService instantiates TeachingAssignmentService.
func NewTeachingAssignmentService(repo teachingAssignmentRepository, teachers assignmentTeacherLookup, sections assignmentSectionLookup, subjects assignmentSubjectLookup, validate *validator.Validate, logger *zap.Logger) *TeachingAssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeachingAssignmentService{repo: repo, teachers: teachers, sections: sections, subjects: subjects, validator: validate, logger: logger}
}

// List returns assignments with pagination metadata.
func (s *TeachingAssignmentService) List(ctx context.Context, filter models.TeachingAssignmentFilter) ([]models.TeachingAssignment, *models.Pagination, error) {
	assignments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teaching assignments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return assignments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get fetches a single assignment.
func (s *TeachingAssignmentService) Get(ctx context.Context, id string) (*models.TeachingAssignment, error) {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	return assignment, nil
}

// Create inserts an assignment after validating every referenced record
// exists and belongs to the same school.
func (s *TeachingAssignmentService) Create(ctx context.Context, req CreateTeachingAssignmentRequest) (*models.TeachingAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teaching assignment payload")
	}

	teacher, err := s.loadTeacher(ctx, req.TeacherID)
	if err != nil {
		return nil, err
	}
	if teacher.SchoolID != req.SchoolID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher belongs to a different school")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher is inactive")
	}

	section, err := s.sections.FindByID(ctx, req.SectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if section.SchoolID != req.SchoolID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section belongs to a different school")
	}

	subject, err := s.subjects.FindByID(ctx, req.SubjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if subject.SchoolID != req.SchoolID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject belongs to a different school")
	}

	assignment := models.TeachingAssignment{
		SchoolID:     req.SchoolID,
		AcademicYear: req.AcademicYear,
		SectionID:    req.SectionID,
		SubjectID:    req.SubjectID,
		TeacherID:    req.TeacherID,
		Active:       true,
	}
	if err := s.repo.Create(ctx, &assignment); err != nil {
		if errors.Is(err, repository.ErrAssignmentExists) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "section and subject already have a teacher for this year")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create teaching assignment")
	}
	return &assignment, nil
}

// Update swaps the teacher of record.
func (s *TeachingAssignmentService) Update(ctx context.Context, id string, req UpdateTeachingAssignmentRequest) (*models.TeachingAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teaching assignment payload")
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}

	teacher, err := s.loadTeacher(ctx, req.TeacherID)
	if err != nil {
		return nil, err
	}
	if teacher.SchoolID != existing.SchoolID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher belongs to a different school")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher is inactive")
	}

	existing.TeacherID = req.TeacherID
	if req.Active != nil {
		existing.Active = *req.Active
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		if errors.Is(err, repository.ErrAssignmentExists) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "section and subject already have a teacher for this year")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update teaching assignment")
	}
	return existing, nil
}

// Deactivate retires an assignment without deleting its history.
func (s *TeachingAssignmentService) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate teaching assignment")
	}
	return nil
}

func (s *TeachingAssignmentService) loadTeacher(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, err := s.teachers.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return teacher, nil
}
