package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// TeacherRole enumerates the capabilities a teacher may hold.
type TeacherRole string

const (
	TeacherRoleClass      TeacherRole = "class_teacher"
	TeacherRoleSubject    TeacherRole = "subject_teacher"
	TeacherRoleSubstitute TeacherRole = "substitute_teacher"
)

// GradeRange is an inclusive range of grades a teacher can teach.
type GradeRange struct {
	From int `json:"from" validate:"required,min=1,max=12"`
	To   int `json:"to" validate:"required,min=1,max=12,gtefield=From"`
}

// Contains reports whether grade falls inside the range.
func (r GradeRange) Contains(grade int) bool {
	return r.From <= grade && grade <= r.To
}

// GradeRanges is stored as a JSONB column.
type GradeRanges []GradeRange

// Value marshals the ranges for persistence.
func (g GradeRanges) Value() (driver.Value, error) {
	if g == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(g)
}

// Scan unmarshals the JSONB column.
func (g *GradeRanges) Scan(src interface{}) error {
	if src == nil {
		*g = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported grade ranges type %T", src)
	}
	return json.Unmarshal(raw, g)
}

// Covers reports whether any range contains the grade. An empty set covers
// nothing.
func (g GradeRanges) Covers(grade int) bool {
	for _, r := range g {
		if r.Contains(grade) {
			return true
		}
	}
	return false
}

// Teacher represents an instructor employed by a school.
type Teacher struct {
	ID              string         `db:"id" json:"id"`
	SchoolID        string         `db:"school_id" json:"school_id"`
	Username        string         `db:"username" json:"username"`
	Email           string         `db:"email" json:"email"`
	PasswordHash    string         `db:"password_hash" json:"-"`
	FullName        string         `db:"full_name" json:"full_name"`
	Roles           pq.StringArray `db:"roles" json:"roles"`
	TeachableGrades GradeRanges    `db:"teachable_grades" json:"teachable_grades"`
	Active          bool           `db:"active" json:"active"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// HasTeachingRole reports whether the teacher can stand in front of a class
// as a subject or substitute teacher.
func (t Teacher) HasTeachingRole() bool {
	for _, role := range t.Roles {
		if TeacherRole(role) == TeacherRoleSubject || TeacherRole(role) == TeacherRoleSubstitute {
			return true
		}
	}
	return false
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	SchoolID  string
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
