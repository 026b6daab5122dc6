package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidyahub/school-api/internal/models"
)

const timetableColumns = "id, school_id, section_id, subject_id, teacher_id, day_of_week, start_minute, end_minute, created_at, updated_at"

// TimetableRepository provides persistence for timetable slots.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository creates a new timetable repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

// List returns slots for a school ordered by day then start minute.
func (r *TimetableRepository) List(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableSlot, int, error) {
	base := "FROM timetable_slots WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}

	var conditions []string
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.DayOfWeek >= 1 && filter.DayOfWeek <= 7 {
		conditions = append(conditions, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, filter.DayOfWeek)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 100
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY day_of_week ASC, start_minute ASC LIMIT %d OFFSET %d", timetableColumns, base, size, offset)
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list timetable slots: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count timetable slots: %w", err)
	}

	return slots, total, nil
}

// FindByID fetches a slot by ID.
func (r *TimetableRepository) FindByID(ctx context.Context, id string) (*models.TimetableSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM timetable_slots WHERE id = $1", timetableColumns)
	var slot models.TimetableSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// FindBySectionDay returns the section's slots for one weekday ordered by start.
func (r *TimetableRepository) FindBySectionDay(ctx context.Context, schoolID, sectionID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM timetable_slots WHERE school_id = $1 AND section_id = $2 AND day_of_week = $3 ORDER BY start_minute ASC", timetableColumns)
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, schoolID, sectionID, dayOfWeek); err != nil {
		return nil, fmt.Errorf("find slots by section/day: %w", err)
	}
	return slots, nil
}

// ListByDay returns every slot of the school on one weekday, unpaginated.
// Availability screening walks the whole day at once.
func (r *TimetableRepository) ListByDay(ctx context.Context, schoolID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM timetable_slots WHERE school_id = $1 AND day_of_week = $2 ORDER BY start_minute ASC", timetableColumns)
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, schoolID, dayOfWeek); err != nil {
		return nil, fmt.Errorf("list slots by day: %w", err)
	}
	return slots, nil
}

// FindByTeacherDay returns the teacher's slots for one weekday ordered by start.
func (r *TimetableRepository) FindByTeacherDay(ctx context.Context, schoolID, teacherID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM timetable_slots WHERE school_id = $1 AND teacher_id = $2 AND day_of_week = $3 ORDER BY start_minute ASC", timetableColumns)
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, schoolID, teacherID, dayOfWeek); err != nil {
		return nil, fmt.Errorf("find slots by teacher/day: %w", err)
	}
	return slots, nil
}

// FindSectionOverlap returns the first slot of the section overlapping the
// half-open window on the given day, excluding excludeID when non-empty.
func (r *TimetableRepository) FindSectionOverlap(ctx context.Context, schoolID, sectionID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error) {
	return r.findOverlap(ctx, "section_id", schoolID, sectionID, dayOfWeek, startMinute, endMinute, excludeID)
}

// FindTeacherOverlap returns the first slot of the teacher overlapping the
// half-open window on the given day, excluding excludeID when non-empty.
func (r *TimetableRepository) FindTeacherOverlap(ctx context.Context, schoolID, teacherID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error) {
	return r.findOverlap(ctx, "teacher_id", schoolID, teacherID, dayOfWeek, startMinute, endMinute, excludeID)
}

func (r *TimetableRepository) findOverlap(ctx context.Context, keyColumn, schoolID, keyID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error) {
	// Half-open intervals: [a,b) and [c,d) overlap iff a < d AND c < b.
	query := fmt.Sprintf(`SELECT %s FROM timetable_slots
WHERE school_id = $1 AND %s = $2 AND day_of_week = $3
  AND start_minute < $4 AND end_minute > $5`, timetableColumns, keyColumn)
	args := []interface{}{schoolID, keyID, dayOfWeek, endMinute, startMinute}
	if excludeID != "" {
		query += " AND id <> $6"
		args = append(args, excludeID)
	}
	query += " ORDER BY start_minute ASC LIMIT 1"

	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("find overlapping slot: %w", err)
	}
	if len(slots) == 0 {
		return nil, nil
	}
	return &slots[0], nil
}

// Create inserts a slot.
func (r *TimetableRepository) Create(ctx context.Context, slot *models.TimetableSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now

	const query = `INSERT INTO timetable_slots (id, school_id, section_id, subject_id, teacher_id, day_of_week, start_minute, end_minute, created_at, updated_at)
VALUES (:id, :school_id, :section_id, :subject_id, :teacher_id, :day_of_week, :start_minute, :end_minute, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("create timetable slot: %w", err)
	}
	return nil
}

// Update applies all mutable fields of a slot.
func (r *TimetableRepository) Update(ctx context.Context, slot *models.TimetableSlot) error {
	slot.UpdatedAt = time.Now().UTC()
	const query = `UPDATE timetable_slots
SET section_id = :section_id, subject_id = :subject_id, teacher_id = :teacher_id,
    day_of_week = :day_of_week, start_minute = :start_minute, end_minute = :end_minute,
    updated_at = :updated_at
WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, slot)
	if err != nil {
		return fmt.Errorf("update timetable slot: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// Delete removes a slot. The returned flag reports whether a row existed.
func (r *TimetableRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM timetable_slots WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete timetable slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete timetable slot: %w", err)
	}
	return affected > 0, nil
}
