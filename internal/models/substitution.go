package models

import "time"

// SubstitutionAssignment is a dated override of a teaching assignment's
// teacher. At most one active substitution may exist per
// (teaching_assignment_id, date); reverted substitutions are deactivated,
// never deleted.
type SubstitutionAssignment struct {
	ID                   string    `db:"id" json:"id"`
	SchoolID             string    `db:"school_id" json:"school_id"`
	AcademicYear         string    `db:"academic_year" json:"academic_year"`
	TeachingAssignmentID string    `db:"teaching_assignment_id" json:"teaching_assignment_id"`
	Date                 time.Time `db:"date" json:"date"`
	AbsentTeacherID      string    `db:"absent_teacher_id" json:"absent_teacher_id"`
	SubstituteTeacherID  string    `db:"substitute_teacher_id" json:"substitute_teacher_id"`
	AssignedByID         string    `db:"assigned_by_id" json:"assigned_by_id"`
	Reason               *string   `db:"reason" json:"reason,omitempty"`
	Active               bool      `db:"is_active" json:"is_active"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// SubstitutionFilter captures listing criteria.
type SubstitutionFilter struct {
	SchoolID   string
	Date       *time.Time
	SectionID  string
	ActiveOnly bool
}
