package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidyahub/school-api/internal/models"
	"github.com/vidyahub/school-api/pkg/database"
)

const substitutionColumns = "id, school_id, academic_year, teaching_assignment_id, date, absent_teacher_id, substitute_teacher_id, assigned_by_id, reason, is_active, created_at, updated_at"

// ErrSubstitutionExists reports a violation of the one-active-substitution
// invariant per (teaching_assignment_id, date).
var ErrSubstitutionExists = fmt.Errorf("substitution already exists for assignment and date")

// SubstitutionRepository manages persistence for substitution assignments.
type SubstitutionRepository struct {
	db *sqlx.DB
}

// NewSubstitutionRepository constructs a SubstitutionRepository.
func NewSubstitutionRepository(db *sqlx.DB) *SubstitutionRepository {
	return &SubstitutionRepository{db: db}
}

// Create inserts a substitution. The partial unique index on
// (teaching_assignment_id, date) WHERE is_active backstops the service-level
// lock; its violation surfaces as ErrSubstitutionExists.
func (r *SubstitutionRepository) Create(ctx context.Context, sub *models.SubstitutionAssignment) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	const query = `INSERT INTO substitution_assignments (id, school_id, academic_year, teaching_assignment_id, date, absent_teacher_id, substitute_teacher_id, assigned_by_id, reason, is_active, created_at, updated_at)
VALUES (:id, :school_id, :academic_year, :teaching_assignment_id, :date, :absent_teacher_id, :substitute_teacher_id, :assigned_by_id, :reason, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrSubstitutionExists
		}
		return fmt.Errorf("create substitution: %w", err)
	}
	return nil
}

// FindByID fetches a substitution by ID.
func (r *SubstitutionRepository) FindByID(ctx context.Context, id string) (*models.SubstitutionAssignment, error) {
	query := fmt.Sprintf("SELECT %s FROM substitution_assignments WHERE id = $1", substitutionColumns)
	var sub models.SubstitutionAssignment
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindActiveByAssignmentDate returns the active substitution covering an
// assignment on a date, or nil when none exists.
func (r *SubstitutionRepository) FindActiveByAssignmentDate(ctx context.Context, assignmentID string, date time.Time) (*models.SubstitutionAssignment, error) {
	query := fmt.Sprintf("SELECT %s FROM substitution_assignments WHERE teaching_assignment_id = $1 AND date = $2 AND is_active LIMIT 1", substitutionColumns)
	var subs []models.SubstitutionAssignment
	if err := r.db.SelectContext(ctx, &subs, query, assignmentID, date); err != nil {
		return nil, fmt.Errorf("find substitution by assignment/date: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

// ListByDate returns a school's active substitutions for a date.
func (r *SubstitutionRepository) ListByDate(ctx context.Context, schoolID string, date time.Time) ([]models.SubstitutionAssignment, error) {
	query := fmt.Sprintf("SELECT %s FROM substitution_assignments WHERE school_id = $1 AND date = $2 AND is_active ORDER BY created_at ASC", substitutionColumns)
	var subs []models.SubstitutionAssignment
	if err := r.db.SelectContext(ctx, &subs, query, schoolID, date); err != nil {
		return nil, fmt.Errorf("list substitutions by date: %w", err)
	}
	return subs, nil
}

// ListBySection returns active substitutions whose underlying teaching
// assignment belongs to the section.
func (r *SubstitutionRepository) ListBySection(ctx context.Context, schoolID, sectionID string) ([]models.SubstitutionAssignment, error) {
	const query = `SELECT s.id, s.school_id, s.academic_year, s.teaching_assignment_id, s.date, s.absent_teacher_id, s.substitute_teacher_id, s.assigned_by_id, s.reason, s.is_active, s.created_at, s.updated_at
FROM substitution_assignments s
JOIN teaching_assignments ta ON ta.id = s.teaching_assignment_id
WHERE s.school_id = $1 AND ta.section_id = $2 AND s.is_active
ORDER BY s.date ASC, s.created_at ASC`
	var subs []models.SubstitutionAssignment
	if err := r.db.SelectContext(ctx, &subs, query, schoolID, sectionID); err != nil {
		return nil, fmt.Errorf("list substitutions by section: %w", err)
	}
	return subs, nil
}

// BusySubstituteIDs returns the distinct teacher ids already substituting in
// the school on a date (active assignments only).
func (r *SubstitutionRepository) BusySubstituteIDs(ctx context.Context, schoolID string, date time.Time) ([]string, error) {
	const query = `SELECT DISTINCT substitute_teacher_id FROM substitution_assignments WHERE school_id = $1 AND date = $2 AND is_active`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, schoolID, date); err != nil {
		return nil, fmt.Errorf("list busy substitutes: %w", err)
	}
	return ids, nil
}

// SetActive toggles the is_active flag and returns the updated row. Flipping
// a row back on can trip the partial unique index; that surfaces as
// ErrSubstitutionExists just like a duplicate insert.
func (r *SubstitutionRepository) SetActive(ctx context.Context, id string, active bool) (*models.SubstitutionAssignment, error) {
	query := fmt.Sprintf(`UPDATE substitution_assignments SET is_active = $2, updated_at = $3 WHERE id = $1 RETURNING %s`, substitutionColumns)
	var sub models.SubstitutionAssignment
	if err := r.db.GetContext(ctx, &sub, query, id, active, time.Now().UTC()); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrSubstitutionExists
		}
		return nil, err
	}
	return &sub, nil
}
