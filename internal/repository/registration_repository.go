package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencampus/registrar-api/internal/models"
	appErrors "github.com/opencampus/registrar-api/pkg/errors"
)

// RegistrationRepository is the sole writer of registration records and the
// authority for derived enrollment counts. Every mutation runs inside a
// transaction that takes the course row lock first and the student row lock
// second; the fixed order prevents deadlock between two students enrolling
// into each other's other course.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `id, student_id, course_id, status, enrolled_at, dropped_at`

// Enroll creates an active registration after validating every ledger
// invariant against the locked snapshot: the course exists and is open, no
// duplicate active registration, a free seat remains, and the candidate
// schedule clashes with none of the student's active courses. The checks and
// the insert commit atomically.
func (r *RegistrationRepository) Enroll(ctx context.Context, studentID, courseID string) (*models.Registration, error) {
	var created *models.Registration
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		created = nil

		var course models.Course
		lockQuery := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &course, lockQuery, courseID); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return fmt.Errorf("lock course: %w", err)
		}
		if !course.Active {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}

		// Student lock serialises this student's duplicate and conflict
		// checks against concurrent enrolls into other courses.
		var studentLock string
		if err := tx.GetContext(ctx, &studentLock, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, studentID); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return fmt.Errorf("lock student: %w", err)
		}

		var duplicate int
		err := tx.GetContext(ctx, &duplicate, `SELECT 1 FROM registrations WHERE student_id = $1 AND course_id = $2 AND status = 'ACTIVE' LIMIT 1`, studentID, courseID)
		if err == nil {
			return appErrors.Clone(appErrors.ErrDuplicate, fmt.Sprintf("already registered for course %s", courseID))
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check duplicate registration: %w", err)
		}

		var active int
		if err := tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM registrations WHERE course_id = $1 AND status = 'ACTIVE'`, courseID); err != nil {
			return fmt.Errorf("count active registrations: %w", err)
		}
		if active >= course.Capacity {
			return appErrors.Clone(appErrors.ErrCapacityFull, fmt.Sprintf("course %s is full (%d/%d)", courseID, active, course.Capacity))
		}

		existingQuery := `SELECT c.` + strings.ReplaceAll(courseColumns, ", ", ", c.") + `
            FROM courses c
            JOIN registrations reg ON reg.course_id = c.id
            WHERE reg.student_id = $1 AND reg.status = 'ACTIVE'`
		var existing []models.Course
		if err := tx.SelectContext(ctx, &existing, existingQuery, studentID); err != nil {
			return fmt.Errorf("load student courses: %w", err)
		}
		if clash := models.ConflictsWithAny(course.Schedule, existing); clash != nil {
			return appErrors.Clone(appErrors.ErrScheduleConflict, fmt.Sprintf("schedule conflicts with course %s (%s)", clash.ID, clash.Name))
		}

		registration := &models.Registration{
			ID:         uuid.NewString(),
			StudentID:  studentID,
			CourseID:   courseID,
			Status:     models.RegistrationStatusActive,
			EnrolledAt: time.Now().UTC(),
		}
		const insertQuery = `INSERT INTO registrations (id, student_id, course_id, status, enrolled_at)
            VALUES (:id, :student_id, :course_id, :status, :enrolled_at)`
		if _, err := tx.NamedExecContext(ctx, insertQuery, registration); err != nil {
			return fmt.Errorf("create registration: %w", err)
		}
		created = registration
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Drop transitions a registration to DROPPED. The course row lock is taken
// first so the derived count a concurrent enroll reads is never stale.
// Dropping a missing or already-dropped registration fails with NotFound and
// changes nothing.
func (r *RegistrationRepository) Drop(ctx context.Context, registrationID string) (*models.Registration, error) {
	var dropped *models.Registration
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		dropped = nil

		var peek models.Registration
		peekQuery := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
		if err := tx.GetContext(ctx, &peek, peekQuery, registrationID); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
			}
			return fmt.Errorf("load registration: %w", err)
		}

		var courseLock string
		if err := tx.GetContext(ctx, &courseLock, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, peek.CourseID); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("lock course: %w", err)
		}

		// Re-read under the lock; the status may have flipped since the peek.
		var current models.Registration
		if err := tx.GetContext(ctx, &current, peekQuery+` FOR UPDATE`, registrationID); err != nil {
			return fmt.Errorf("relock registration: %w", err)
		}
		if current.Status != models.RegistrationStatusActive {
			return appErrors.Clone(appErrors.ErrNotFound, "registration already dropped")
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE registrations SET status = 'DROPPED', dropped_at = $2 WHERE id = $1`, registrationID, now); err != nil {
			return fmt.Errorf("drop registration: %w", err)
		}
		current.Status = models.RegistrationStatusDropped
		current.DroppedAt = &now
		dropped = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dropped, nil
}

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1 LIMIT 1`
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return &registration, nil
}

// List returns registration history filtered by the provided criteria.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := `FROM registrations reg
LEFT JOIN users u ON u.id = reg.student_id
LEFT JOIN courses c ON c.id = reg.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("reg.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("reg.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("reg.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "reg.enrolled_at",
		"student_name": "u.full_name",
		"course_name":  "c.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "reg.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT reg.id, reg.student_id, reg.course_id, reg.status, reg.enrolled_at, reg.dropped_at,
        u.full_name AS student_name, c.name AS course_name, c.instructor
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var registrations []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &registrations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return registrations, total, nil
}

// ActiveCoursesForStudent returns the courses behind a student's active
// registrations, the baseline set for conflict checks and schedule display.
func (r *RegistrationRepository) ActiveCoursesForStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	query := `SELECT c.` + strings.ReplaceAll(courseColumns, ", ", ", c.") + `
        FROM courses c
        JOIN registrations reg ON reg.course_id = c.id
        WHERE reg.student_id = $1 AND reg.status = 'ACTIVE'
        ORDER BY c.name ASC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, studentID); err != nil {
		return nil, fmt.Errorf("load student schedule: %w", err)
	}
	return courses, nil
}

// Stats summarises the ledger for reporting.
func (r *RegistrationRepository) Stats(ctx context.Context) (*models.RegistrationStats, error) {
	const query = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = 'ACTIVE') AS active,
        COUNT(*) FILTER (WHERE status = 'DROPPED') AS dropped
        FROM registrations`
	var stats models.RegistrationStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("registration stats: %w", err)
	}
	return &stats, nil
}
