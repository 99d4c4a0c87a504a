package models

import "time"

// RegistrationStatus represents the lifecycle of a registration. DROPPED is
// terminal for the record; re-enrollment creates a fresh registration.
type RegistrationStatus string

// Possible registration statuses.
const (
	RegistrationStatusActive  RegistrationStatus = "ACTIVE"
	RegistrationStatusDropped RegistrationStatus = "DROPPED"
)

// Registration links a student to a course. Records are retained forever for
// reporting; a drop flips the status instead of deleting the row.
type Registration struct {
	ID         string             `db:"id" json:"id"`
	StudentID  string             `db:"student_id" json:"student_id"`
	CourseID   string             `db:"course_id" json:"course_id"`
	Status     RegistrationStatus `db:"status" json:"status"`
	EnrolledAt time.Time          `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt  *time.Time         `db:"dropped_at" json:"dropped_at,omitempty"`
}

// RegistrationDetail enriches Registration with student and course info.
type RegistrationDetail struct {
	Registration
	StudentName string `db:"student_name" json:"student_name"`
	CourseName  string `db:"course_name" json:"course_name"`
	Instructor  string `db:"instructor" json:"instructor"`
}

// EnrollRequest is the enrollment payload. StudentID is optional for
// students, who may only enroll themselves; administrators must provide it.
type EnrollRequest struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id" validate:"required"`
}

// RegistrationFilter provides filters for listing registrations.
type RegistrationFilter struct {
	StudentID string
	CourseID  string
	Status    RegistrationStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// RegistrationStats summarises the ledger for admin reporting.
type RegistrationStats struct {
	Total   int `db:"total" json:"total"`
	Active  int `db:"active" json:"active"`
	Dropped int `db:"dropped" json:"dropped"`
}

// StudentSchedule is a student's current course load plus a diagnostic
// conflict report. In a correctly enforced ledger the report is empty.
type StudentSchedule struct {
	StudentID string         `json:"student_id"`
	Courses   []Course       `json:"courses"`
	Conflicts []ConflictPair `json:"conflicts"`
}
