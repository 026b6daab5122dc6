package models

import "time"

// NoticeAudience restricts who a notice is shown to.
type NoticeAudience string

const (
	NoticeAudienceAll      NoticeAudience = "all"
	NoticeAudienceTeachers NoticeAudience = "teachers"
	NoticeAudienceStudents NoticeAudience = "students"
)

// Notice is a dated school announcement.
type Notice struct {
	ID        string         `db:"id" json:"id"`
	SchoolID  string         `db:"school_id" json:"school_id"`
	Title     string         `db:"title" json:"title"`
	Body      string         `db:"body" json:"body"`
	Audience  NoticeAudience `db:"audience" json:"audience"`
	CreatedBy string         `db:"created_by" json:"created_by"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// NoticeFilter captures listing criteria for notices.
type NoticeFilter struct {
	SchoolID string
	Audience string
	Page     int
	PageSize int
}
