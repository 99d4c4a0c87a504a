package models

import "time"

// Course represents a course offering. The enrolled count is never stored on
// this record; it is derived from the registration ledger whenever needed.
type Course struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	Credits     int    `db:"credits" json:"credits"`
	Instructor  string `db:"instructor" json:"instructor"`
	Room        string `db:"room" json:"room"`
	Capacity    int    `db:"capacity" json:"capacity"`
	Schedule
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseSummary enriches Course with the derived active enrollment count.
type CourseSummary struct {
	Course
	Enrolled       int `db:"enrolled" json:"enrolled"`
	SeatsRemaining int `db:"-" json:"seats_remaining"`
}

// CourseRequest is the payload for creating or replacing a course. The ID is
// an optional course code on create; when omitted one is generated.
type CourseRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Credits     int      `json:"credits" validate:"gte=0,lte=12"`
	Instructor  string   `json:"instructor" validate:"required"`
	Room        string   `json:"room"`
	Capacity    int      `json:"capacity" validate:"gte=0"`
	Days        []string `json:"days" validate:"required,min=1"`
	StartTime   string   `json:"start_time" validate:"required"`
	EndTime     string   `json:"end_time" validate:"required"`
}

// CourseFilter describes query params for listing courses. Search matches a
// case-insensitive substring of id, name or instructor.
type CourseFilter struct {
	Search        string
	IncludeClosed bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// RosterEntry is one student row in a course roster report.
type RosterEntry struct {
	RegistrationID string    `db:"registration_id" json:"registration_id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	Username       string    `db:"username" json:"username"`
	FullName       string    `db:"full_name" json:"full_name"`
	EnrolledAt     time.Time `db:"enrolled_at" json:"enrolled_at"`
}
