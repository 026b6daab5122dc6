package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidyahub/school-api/internal/models"
	"github.com/vidyahub/school-api/pkg/database"
)

const teachingAssignmentColumns = "id, school_id, academic_year, section_id, subject_id, teacher_id, active, created_at, updated_at"

// ErrAssignmentExists reports a duplicate (section, subject, academic year) assignment.
var ErrAssignmentExists = fmt.Errorf("teaching assignment already exists for section, subject and year")

// TeachingAssignmentRepository manages persistence for teaching assignments.
type TeachingAssignmentRepository struct {
	db *sqlx.DB
}

// NewTeachingAssignmentRepository constructs a TeachingAssignmentRepository.
func NewTeachingAssignmentRepository(db *sqlx.DB) *TeachingAssignmentRepository {
	return &TeachingAssignmentRepository{db: db}
}

// List returns assignments matching the filter along with total count.
func (r *TeachingAssignmentRepository) List(ctx context.Context, filter models.TeachingAssignmentFilter) ([]models.TeachingAssignment, int, error) {
	base := "FROM teaching_assignments WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}

	var conditions []string
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", teachingAssignmentColumns, base, size, offset)
	var assignments []models.TeachingAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teaching assignments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count teaching assignments: %w", err)
	}

	return assignments, total, nil
}

// FindByID fetches an assignment by ID.
func (r *TeachingAssignmentRepository) FindByID(ctx context.Context, id string) (*models.TeachingAssignment, error) {
	query := fmt.Sprintf("SELECT %s FROM teaching_assignments WHERE id = $1", teachingAssignmentColumns)
	var assignment models.TeachingAssignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Create inserts an assignment. A duplicate (section, subject, academic year)
// surfaces as ErrAssignmentExists via the unique constraint.
func (r *TeachingAssignmentRepository) Create(ctx context.Context, assignment *models.TeachingAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now

	const query = `INSERT INTO teaching_assignments (id, school_id, academic_year, section_id, subject_id, teacher_id, active, created_at, updated_at)
VALUES (:id, :school_id, :academic_year, :section_id, :subject_id, :teacher_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAssignmentExists
		}
		return fmt.Errorf("create teaching assignment: %w", err)
	}
	return nil
}

// Update applies mutable fields of an assignment.
func (r *TeachingAssignmentRepository) Update(ctx context.Context, assignment *models.TeachingAssignment) error {
	assignment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE teaching_assignments
SET teacher_id = :teacher_id, active = :active, updated_at = :updated_at
WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, assignment)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAssignmentExists
		}
		return fmt.Errorf("update teaching assignment: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// Deactivate marks an assignment inactive.
func (r *TeachingAssignmentRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE teaching_assignments SET active = FALSE, updated_at = $2 WHERE id = $1", id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate teaching assignment: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
