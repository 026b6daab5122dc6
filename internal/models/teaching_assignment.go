package models

import "time"

// TeachingAssignment maps a (section, subject) pair to its teacher of record
// for one academic year. Substitutions reference it to know which standing
// lesson is being covered.
type TeachingAssignment struct {
	ID           string    `db:"id" json:"id"`
	SchoolID     string    `db:"school_id" json:"school_id"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	SectionID    string    `db:"section_id" json:"section_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TeachingAssignmentFilter captures listing criteria.
type TeachingAssignmentFilter struct {
	SchoolID     string
	SectionID    string
	SubjectID    string
	TeacherID    string
	AcademicYear string
	Active       *bool
	Page         int
	PageSize     int
}
