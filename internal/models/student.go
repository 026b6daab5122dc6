package models

import "time"

// Student is a roster entry belonging to a section.
type Student struct {
	ID             string    `db:"id" json:"id"`
	SchoolID       string    `db:"school_id" json:"school_id"`
	SectionID      string    `db:"section_id" json:"section_id"`
	AdmissionNo    string    `db:"admission_no" json:"admission_no"`
	FullName       string    `db:"full_name" json:"full_name"`
	GuardianName   *string   `db:"guardian_name" json:"guardian_name,omitempty"`
	GuardianPhone  *string   `db:"guardian_phone" json:"guardian_phone,omitempty"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter captures listing criteria for students.
type StudentFilter struct {
	SchoolID  string
	SectionID string
	Search    string
	Active    *bool
	Page      int
	PageSize  int
}
