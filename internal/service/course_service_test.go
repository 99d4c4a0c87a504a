package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/registrar-api/internal/models"
	appErrors "github.com/opencampus/registrar-api/pkg/errors"
	"github.com/opencampus/registrar-api/pkg/export"
)

type mockCourseRepo struct {
	courses    map[string]*models.Course
	summaries  []models.CourseSummary
	roster     []models.RosterEntry
	listCalls  int
	updateErr  error
	deleteErr  error
	dropped    int
	lastForce  bool
	lastDelete bool
}

func newMockCourseRepo(courses ...*models.Course) *mockCourseRepo {
	m := &mockCourseRepo{courses: make(map[string]*models.Course)}
	for _, c := range courses {
		m.courses[c.ID] = c
	}
	return m
}

func (m *mockCourseRepo) List(_ context.Context, _ models.CourseFilter) ([]models.CourseSummary, int, error) {
	m.listCalls++
	return m.summaries, len(m.summaries), nil
}

func (m *mockCourseRepo) FindByID(_ context.Context, id string) (*models.Course, error) {
	course, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return course, nil
}

func (m *mockCourseRepo) FindSummaryByID(_ context.Context, id string) (*models.CourseSummary, error) {
	course, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.CourseSummary{Course: *course}, nil
}

func (m *mockCourseRepo) Create(_ context.Context, course *models.Course) error {
	m.courses[course.ID] = course
	return nil
}

func (m *mockCourseRepo) Update(_ context.Context, course *models.Course, force bool) (int, error) {
	m.lastForce = force
	if m.updateErr != nil {
		return 0, m.updateErr
	}
	m.courses[course.ID] = course
	return m.dropped, nil
}

func (m *mockCourseRepo) Delete(_ context.Context, id string, cascade bool) (int, error) {
	m.lastDelete = cascade
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	if _, ok := m.courses[id]; !ok {
		return 0, sql.ErrNoRows
	}
	return m.dropped, nil
}

func (m *mockCourseRepo) Roster(_ context.Context, _ string) ([]models.RosterEntry, error) {
	return m.roster, nil
}

func validCourseRequest() models.CourseRequest {
	return models.CourseRequest{
		Name:       "Intro to Computer Science",
		Credits:    3,
		Instructor: "Dr. Hopper",
		Room:       "SCI-101",
		Capacity:   30,
		Days:       []string{"Monday", "Wednesday"},
		StartTime:  "09:00",
		EndTime:    "10:30",
	}
}

func newCourseService(repo *mockCourseRepo, cache CourseCache) (*CourseService, *stubAudit) {
	audit := &stubAudit{}
	svc := NewCourseService(repo, cache, audit, export.NewCSVExporter(), export.NewPDFExporter(), nil, nil, CatalogConfig{CacheEnabled: cache != nil})
	return svc, audit
}

func TestCourseListCachesResults(t *testing.T) {
	repo := newMockCourseRepo()
	repo.summaries = []models.CourseSummary{{Course: *testCourse(t, "CS101", 30), Enrolled: 4, SeatsRemaining: 26}}
	cache := &stubCache{}
	svc, _ := newCourseService(repo, cache)

	courses, pagination, err := svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 1, repo.listCalls)
	assert.Equal(t, 1, cache.setCalls)

	courses, _, err = svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "CS101", courses[0].ID)
	assert.Equal(t, 1, repo.listCalls)
}

func TestCourseCreateInvalidatesCache(t *testing.T) {
	repo := newMockCourseRepo()
	cache := &stubCache{}
	svc, audit := newCourseService(repo, cache)

	course, err := svc.Create(context.Background(), "admin-1", validCourseRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, course.ID)
	assert.True(t, course.Active)
	assert.Equal(t, []string{"catalog:courses:*"}, cache.deleted)
	assert.Equal(t, 1, audit.count())
}

func TestCourseCreateDuplicateID(t *testing.T) {
	repo := newMockCourseRepo(testCourse(t, "CS101", 30))
	svc, _ := newCourseService(repo, nil)

	req := validCourseRequest()
	req.ID = "CS101"
	_, err := svc.Create(context.Background(), "admin-1", req)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
}

func TestCourseCreateValidation(t *testing.T) {
	svc, _ := newCourseService(newMockCourseRepo(), nil)

	cases := []struct {
		name   string
		mutate func(*models.CourseRequest)
	}{
		{"missing name", func(r *models.CourseRequest) { r.Name = "" }},
		{"negative capacity", func(r *models.CourseRequest) { r.Capacity = -1 }},
		{"no meeting days", func(r *models.CourseRequest) { r.Days = nil }},
		{"bad start time", func(r *models.CourseRequest) { r.StartTime = "25:00" }},
		{"end before start", func(r *models.CourseRequest) { r.StartTime = "11:00"; r.EndTime = "10:00" }},
		{"end equals start", func(r *models.CourseRequest) { r.StartTime = "10:00"; r.EndTime = "10:00" }},
		{"unknown weekday", func(r *models.CourseRequest) { r.Days = []string{"Funday"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCourseRequest()
			tc.mutate(&req)
			_, err := svc.Create(context.Background(), "admin-1", req)
			require.Error(t, err)
			assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
		})
	}
}

func TestCourseUpdateKeepsIdentityFields(t *testing.T) {
	existing := testCourse(t, "CS101", 30)
	existing.CreatedAt = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	repo := newMockCourseRepo(existing)
	repo.dropped = 2
	svc, _ := newCourseService(repo, nil)

	req := validCourseRequest()
	req.Capacity = 10
	updated, dropped, err := svc.Update(context.Background(), "admin-1", "CS101", req, true)
	require.NoError(t, err)
	assert.Equal(t, "CS101", updated.ID)
	assert.Equal(t, existing.CreatedAt, updated.CreatedAt)
	assert.Equal(t, 2, dropped)
	assert.True(t, repo.lastForce)
}

func TestCourseUpdatePropagatesCapacityError(t *testing.T) {
	repo := newMockCourseRepo(testCourse(t, "CS101", 30))
	repo.updateErr = appErrors.Clone(appErrors.ErrCapacityFull, "capacity 10 is below current enrollment 12")
	svc, _ := newCourseService(repo, nil)

	req := validCourseRequest()
	req.Capacity = 10
	_, _, err := svc.Update(context.Background(), "admin-1", "CS101", req, false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCapacityFull))
}

func TestCourseUpdateNotFound(t *testing.T) {
	svc, _ := newCourseService(newMockCourseRepo(), nil)
	_, _, err := svc.Update(context.Background(), "admin-1", "GHOST", validCourseRequest(), false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestCourseDelete(t *testing.T) {
	repo := newMockCourseRepo(testCourse(t, "CS101", 30))
	repo.dropped = 3
	cache := &stubCache{}
	svc, audit := newCourseService(repo, cache)

	dropped, err := svc.Delete(context.Background(), "admin-1", "CS101", true)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.True(t, repo.lastDelete)
	assert.Equal(t, []string{"catalog:courses:*"}, cache.deleted)
	assert.Equal(t, 1, audit.count())

	_, err = svc.Delete(context.Background(), "admin-1", "GHOST", false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestExportRosterCSV(t *testing.T) {
	repo := newMockCourseRepo(testCourse(t, "CS101", 30))
	repo.roster = []models.RosterEntry{{
		RegistrationID: "reg-1",
		StudentID:      "stu-1",
		Username:       "aokafor",
		FullName:       "Amara Okafor",
		EnrolledAt:     time.Date(2026, 8, 20, 15, 4, 5, 0, time.UTC),
	}}
	svc, _ := newCourseService(repo, nil)

	payload, contentType, err := svc.ExportRoster(context.Background(), "CS101", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Contains(t, string(payload), "aokafor")
	assert.Contains(t, string(payload), "registration_id")
}

func TestExportRosterPDF(t *testing.T) {
	repo := newMockCourseRepo(testCourse(t, "CS101", 30))
	svc, _ := newCourseService(repo, nil)

	payload, contentType, err := svc.ExportRoster(context.Background(), "CS101", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.NotEmpty(t, payload)
}

func TestExportRosterUnsupportedFormat(t *testing.T) {
	repo := newMockCourseRepo(testCourse(t, "CS101", 30))
	svc, _ := newCourseService(repo, nil)

	_, _, err := svc.ExportRoster(context.Background(), "CS101", "xlsx")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestExportRosterDisabled(t *testing.T) {
	repo := newMockCourseRepo(testCourse(t, "CS101", 30))
	audit := &stubAudit{}
	svc := NewCourseService(repo, nil, audit, nil, nil, nil, nil, CatalogConfig{})

	_, _, err := svc.ExportRoster(context.Background(), "CS101", "csv")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestGetCourseNotFound(t *testing.T) {
	svc, _ := newCourseService(newMockCourseRepo(), nil)
	_, err := svc.Get(context.Background(), "GHOST")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
