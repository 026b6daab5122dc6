package models

import "time"

// Conflict dimensions reported when a proposed slot collides with an
// existing one. When both dimensions collide the section conflict wins.
const (
	ConflictKindSection = "section"
	ConflictKindTeacher = "teacher"
)

// TimetableSlot is a weekly recurring booking of a section, subject and
// teacher. Times are minutes since midnight, the interval is half-open
// [start_minute, end_minute) so back-to-back lessons never collide.
type TimetableSlot struct {
	ID          string    `db:"id" json:"id"`
	SchoolID    string    `db:"school_id" json:"school_id"`
	SectionID   string    `db:"section_id" json:"section_id"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	DayOfWeek   int       `db:"day_of_week" json:"day_of_week"`
	StartMinute int       `db:"start_minute" json:"start_minute"`
	EndMinute   int       `db:"end_minute" json:"end_minute"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Overlaps reports whether two half-open minute intervals on the same day
// intersect. Touching endpoints do not overlap.
func (s TimetableSlot) Overlaps(other TimetableSlot) bool {
	if s.DayOfWeek != other.DayOfWeek {
		return false
	}
	return s.StartMinute < other.EndMinute && other.StartMinute < s.EndMinute
}

// TimetableFilter describes query params for listing timetable slots.
type TimetableFilter struct {
	SchoolID  string
	SectionID string
	TeacherID string
	DayOfWeek int
	Page      int
	PageSize  int
}

// SlotConflict describes the existing slot a proposal collided with.
type SlotConflict struct {
	Kind              string `json:"kind"`
	ConflictingSlotID string `json:"conflicting_slot_id"`
	SectionID         string `json:"section_id"`
	TeacherID         string `json:"teacher_id"`
	DayOfWeek         int    `json:"day_of_week"`
	StartMinute       int    `json:"start_minute"`
	EndMinute         int    `json:"end_minute"`
}

// SlotConflictError is returned when a proposed slot double-books a section
// or a teacher.
type SlotConflictError struct {
	Message  string       `json:"message"`
	Conflict SlotConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *SlotConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
