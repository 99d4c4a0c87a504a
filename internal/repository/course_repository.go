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

// CourseRepository handles persistence for the course catalog. Mutations that
// interact with the derived enrollment count run inside a transaction holding
// the course row lock, so they never race the registration ledger.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, name, description, credits, instructor, room, capacity, schedule_days, start_minutes, end_minutes, active, created_at, updated_at`

// activeCountExpr derives the live enrollment count from the ledger. The
// count is never stored on the course row.
const activeCountExpr = `(SELECT COUNT(*) FROM registrations r WHERE r.course_id = c.id AND r.status = 'ACTIVE')`

// List returns course summaries matching the filter, each with its derived
// enrollment count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error) {
	baseQuery := `FROM courses c WHERE 1=1`
	var conditions []string
	var args []interface{}

	if !filter.IncludeClosed {
		conditions = append(conditions, "c.active = TRUE")
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf("(c.id ILIKE $%d OR c.name ILIKE $%d OR c.instructor ILIKE $%d)", idx, idx, idx))
		args = append(args, "%"+filter.Search+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"name":       "c.name",
		"instructor": "c.instructor",
		"created_at": "c.created_at",
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "c.name"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT c.*, %s AS enrolled %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		activeCountExpr, baseQuery, orderBy, sortOrder, pageSize, offset)

	var courses []models.CourseSummary
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	for i := range courses {
		courses[i].SeatsRemaining = courses[i].Capacity - courses[i].Enrolled
		if courses[i].SeatsRemaining < 0 {
			courses[i].SeatsRemaining = 0
		}
	}

	countQuery := "SELECT COUNT(*) " + baseQuery
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 LIMIT 1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// FindSummaryByID returns a course with its derived enrollment count.
func (r *CourseRepository) FindSummaryByID(ctx context.Context, id string) (*models.CourseSummary, error) {
	query := fmt.Sprintf(`SELECT c.*, %s AS enrolled FROM courses c WHERE c.id = $1 LIMIT 1`, activeCountExpr)
	var summary models.CourseSummary
	if err := r.db.GetContext(ctx, &summary, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course summary: %w", err)
	}
	summary.SeatsRemaining = summary.Capacity - summary.Enrolled
	if summary.SeatsRemaining < 0 {
		summary.SeatsRemaining = 0
	}
	return &summary, nil
}

// Create persists a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, name, description, credits, instructor, room, capacity, schedule_days, start_minutes, end_minutes, active, created_at, updated_at)
        VALUES (:id, :name, :description, :credits, :instructor, :room, :capacity, :schedule_days, :start_minutes, :end_minutes, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update applies a course edit. The course row is locked first; when the new
// capacity falls below the live enrollment the update fails with
// ErrCapacityFull unless force is set, in which case the newest overflow
// registrations are dropped within the same transaction.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course, force bool) (int, error) {
	dropped := 0
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		dropped = 0
		var locked models.Course
		lockQuery := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &locked, lockQuery, course.ID); err != nil {
			return err
		}
		// The locked row decides whether the course is live. An edit racing a
		// cascade delete must not write a stale active flag back.
		course.Active = locked.Active
		course.CreatedAt = locked.CreatedAt

		var active int
		if err := tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM registrations WHERE course_id = $1 AND status = 'ACTIVE'`, course.ID); err != nil {
			return fmt.Errorf("count active registrations: %w", err)
		}

		if course.Capacity < active {
			if !force {
				return appErrors.Clone(appErrors.ErrCapacityFull, fmt.Sprintf("capacity %d is below current enrollment %d", course.Capacity, active))
			}
			overflow := active - course.Capacity
			const dropQuery = `UPDATE registrations SET status = 'DROPPED', dropped_at = $2
                WHERE id IN (SELECT id FROM registrations WHERE course_id = $1 AND status = 'ACTIVE' ORDER BY enrolled_at DESC LIMIT $3)`
			res, err := tx.ExecContext(ctx, dropQuery, course.ID, time.Now().UTC(), overflow)
			if err != nil {
				return fmt.Errorf("drop overflow registrations: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				dropped = int(n)
			}
		}

		course.UpdatedAt = time.Now().UTC()
		const query = `UPDATE courses SET name = :name, description = :description, credits = :credits, instructor = :instructor,
            room = :room, capacity = :capacity, schedule_days = :schedule_days, start_minutes = :start_minutes,
            end_minutes = :end_minutes, active = :active, updated_at = :updated_at WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, query, course); err != nil {
			return fmt.Errorf("update course: %w", err)
		}
		return nil
	})
	return dropped, err
}

// Delete deactivates a course. While active registrations reference it the
// delete fails with ErrConflict unless cascade is set, which drops them all
// first. The course row itself is retained for history.
func (r *CourseRepository) Delete(ctx context.Context, id string, cascade bool) (int, error) {
	dropped := 0
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		dropped = 0
		var locked models.Course
		lockQuery := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &locked, lockQuery, id); err != nil {
			return err
		}

		var active int
		if err := tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM registrations WHERE course_id = $1 AND status = 'ACTIVE'`, id); err != nil {
			return fmt.Errorf("count active registrations: %w", err)
		}
		if active > 0 {
			if !cascade {
				return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("course has %d active registrations", active))
			}
			res, err := tx.ExecContext(ctx, `UPDATE registrations SET status = 'DROPPED', dropped_at = $2 WHERE course_id = $1 AND status = 'ACTIVE'`, id, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("cascade drop registrations: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				dropped = int(n)
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE courses SET active = FALSE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
			return fmt.Errorf("deactivate course: %w", err)
		}
		return nil
	})
	return dropped, err
}

// Roster lists the active students of a course for reporting.
func (r *CourseRepository) Roster(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	const query = `SELECT r.id AS registration_id, r.student_id, u.username, u.full_name, r.enrolled_at
        FROM registrations r
        JOIN users u ON u.id = r.student_id
        WHERE r.course_id = $1 AND r.status = 'ACTIVE'
        ORDER BY r.enrolled_at ASC`
	var roster []models.RosterEntry
	if err := r.db.SelectContext(ctx, &roster, query, courseID); err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return roster, nil
}
