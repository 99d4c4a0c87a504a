package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/registrar-api/internal/models"
	appErrors "github.com/opencampus/registrar-api/pkg/errors"
)

func summaryRow(id string, capacity, enrolled int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(append(courseRowColumns, "enrolled")).
		AddRow(id, "Course "+id, "", 3, "Dr. Test", "R1", capacity, "Monday", 540, 630, true, now, now, enrolled)
}

func TestListCoursesDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses c WHERE 1=1 AND c.active = TRUE ORDER BY c.name ASC LIMIT 20 OFFSET 0")).
		WillReturnRows(summaryRow("CS101", 30, 28))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses c WHERE 1=1 AND c.active = TRUE")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	courses, total, err := repo.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, 28, courses[0].Enrolled)
	assert.Equal(t, 2, courses[0].SeatsRemaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCoursesSeatsNeverNegative(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses c WHERE 1=1")).
		WillReturnRows(summaryRow("CS101", 25, 27))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	courses, _, err := repo.List(context.Background(), models.CourseFilter{IncludeClosed: true})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, 0, courses[0].SeatsRemaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCoursesSearchAndSort(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("(c.id ILIKE $1 OR c.name ILIKE $1 OR c.instructor ILIKE $1)")).
		WithArgs("%hopper%").
		WillReturnRows(summaryRow("CS101", 30, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("%hopper%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, _, err := repo.List(context.Background(), models.CourseFilter{
		Search:    "hopper",
		SortBy:    "instructor",
		SortOrder: "desc",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCourseByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1 LIMIT 1")).
		WithArgs("CS101").
		WillReturnRows(courseRow("CS101", 30, true, "Monday,Wednesday", 540, 630))

	course, err := repo.FindByID(context.Background(), "CS101")
	require.NoError(t, err)
	assert.Equal(t, "CS101", course.ID)
	assert.True(t, course.Schedule.Days.Contains("Monday"))
	assert.Equal(t, "09:00", course.Schedule.Start.String())
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1 LIMIT 1")).
		WithArgs("GHOST").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "GHOST")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateCourseCapacityBelowEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "CS101", courseRow("CS101", 30, true, "Monday", 540, 630))
	expectActiveCount(mock, "CS101", 12)
	mock.ExpectRollback()

	course := &models.Course{ID: "CS101", Capacity: 10}
	dropped, err := repo.Update(context.Background(), course, false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCapacityFull))
	assert.Zero(t, dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCourseForceDropsOverflow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "CS101", courseRow("CS101", 30, true, "Monday", 540, 630))
	expectActiveCount(mock, "CS101", 12)
	mock.ExpectExec(regexp.QuoteMeta("ORDER BY enrolled_at DESC LIMIT $3")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE courses SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	course := &models.Course{ID: "CS101", Name: "Intro CS", Capacity: 10, Active: true}
	dropped, err := repo.Update(context.Background(), course, true)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCourseKeepsDeactivatedFlag(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "CS101", courseRow("CS101", 30, false, "Monday", 540, 630))
	expectActiveCount(mock, "CS101", 0)
	mock.ExpectExec("UPDATE courses SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Caller holds a snapshot taken before a concurrent cascade delete.
	course := &models.Course{ID: "CS101", Name: "Intro CS", Capacity: 30, Active: true}
	_, err := repo.Update(context.Background(), course, false)
	require.NoError(t, err)
	assert.False(t, course.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCourseWithActiveRegistrations(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "CS101", courseRow("CS101", 30, true, "Monday", 540, 630))
	expectActiveCount(mock, "CS101", 3)
	mock.ExpectRollback()

	dropped, err := repo.Delete(context.Background(), "CS101", false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
	assert.Zero(t, dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCourseCascade(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "CS101", courseRow("CS101", 30, true, "Monday", 540, 630))
	expectActiveCount(mock, "CS101", 3)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET status = 'DROPPED', dropped_at = $2 WHERE course_id = $1 AND status = 'ACTIVE'")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET active = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dropped, err := repo.Delete(context.Background(), "CS101", true)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoster(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"registration_id", "student_id", "username", "full_name", "enrolled_at"}).
		AddRow("reg-1", "stu-1", "aokafor", "Amara Okafor", time.Now()).
		AddRow("reg-2", "stu-2", "jchen", "Jun Chen", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("JOIN users u ON u.id = r.student_id")).
		WithArgs("CS101").
		WillReturnRows(rows)

	roster, err := repo.Roster(context.Background(), "CS101")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "aokafor", roster[0].Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}
