package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalmiddleware "github.com/opencampus/registrar-api/internal/middleware"
	"github.com/opencampus/registrar-api/internal/models"
	"github.com/opencampus/registrar-api/internal/service"
	appErrors "github.com/opencampus/registrar-api/pkg/errors"
)

// ledgerStub mirrors the transactional store's duplicate, capacity and
// conflict rules in memory.
type ledgerStub struct {
	mu       sync.Mutex
	courses  map[string]*models.Course
	regs     map[string]*models.Registration
	courseOf map[string][]models.Course
	seq      int
}

func newLedgerStub(courses ...*models.Course) *ledgerStub {
	l := &ledgerStub{
		courses:  make(map[string]*models.Course),
		regs:     make(map[string]*models.Registration),
		courseOf: make(map[string][]models.Course),
	}
	for _, c := range courses {
		l.courses[c.ID] = c
	}
	return l
}

func (l *ledgerStub) Enroll(_ context.Context, studentID, courseID string) (*models.Registration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	course, ok := l.courses[courseID]
	if !ok || !course.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	active := 0
	for _, reg := range l.regs {
		if reg.Status != models.RegistrationStatusActive || reg.CourseID != courseID {
			continue
		}
		if reg.StudentID == studentID {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "already registered")
		}
		active++
	}
	if active >= course.Capacity {
		return nil, appErrors.Clone(appErrors.ErrCapacityFull, "course is full")
	}
	if clash := models.ConflictsWithAny(course.Schedule, l.courseOf[studentID]); clash != nil {
		return nil, appErrors.Clone(appErrors.ErrScheduleConflict, "schedule conflict with "+clash.ID)
	}
	l.seq++
	reg := &models.Registration{
		ID:         fmt.Sprintf("reg-%d", l.seq),
		StudentID:  studentID,
		CourseID:   courseID,
		Status:     models.RegistrationStatusActive,
		EnrolledAt: time.Now().UTC(),
	}
	l.regs[reg.ID] = reg
	l.courseOf[studentID] = append(l.courseOf[studentID], *course)
	return reg, nil
}

func (l *ledgerStub) Drop(_ context.Context, registrationID string) (*models.Registration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reg, ok := l.regs[registrationID]
	if !ok || reg.Status != models.RegistrationStatusActive {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	now := time.Now().UTC()
	reg.Status = models.RegistrationStatusDropped
	reg.DroppedAt = &now
	return reg, nil
}

func (l *ledgerStub) FindByID(_ context.Context, id string) (*models.Registration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reg, ok := l.regs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return reg, nil
}

func (l *ledgerStub) List(_ context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.RegistrationDetail
	for _, reg := range l.regs {
		if filter.StudentID != "" && reg.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.RegistrationDetail{Registration: *reg})
	}
	return out, len(out), nil
}

func (l *ledgerStub) ActiveCoursesForStudent(_ context.Context, studentID string) ([]models.Course, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.courseOf[studentID], nil
}

func (l *ledgerStub) Stats(_ context.Context) (*models.RegistrationStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := &models.RegistrationStats{}
	for _, reg := range l.regs {
		stats.Total++
		if reg.Status == models.RegistrationStatusActive {
			stats.Active++
		} else {
			stats.Dropped++
		}
	}
	return stats, nil
}

type studentDirectoryStub struct {
	users map[string]*models.User
}

func (s *studentDirectoryStub) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func stubCourse(id string, capacity int, days []string, start, end models.ClockMinutes) *models.Course {
	return &models.Course{
		ID:       id,
		Name:     "Course " + id,
		Credits:  3,
		Capacity: capacity,
		Active:   true,
		Schedule: models.Schedule{Days: models.DayList(days), Start: start, End: end},
	}
}

func buildRegistrationRouter(ledger *ledgerStub, users map[string]*models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
				UserID: c.GetHeader("X-Test-User"),
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})

	svc := service.NewRegistrationService(ledger, &studentDirectoryStub{users: users}, nil, nil, nil, nil)
	h := NewRegistrationHandler(svc, nil)

	router.POST("/registrations", h.Enroll)
	router.GET("/registrations", h.List)
	router.GET("/registrations/stats", internalmiddleware.RBAC(string(models.RoleAdministrator)), h.Stats)
	router.DELETE("/registrations/:id", h.Drop)
	router.GET("/students/:id/schedule", internalmiddleware.RBAC(string(models.RoleAdministrator), "SELF"), h.Schedule)
	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func enrollRequest(body, userID, role string) *http.Request {
	req, _ := http.NewRequest(http.MethodPost, "/registrations", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Test-Role", role)
		req.Header.Set("X-Test-User", userID)
	}
	return req
}

func activeStudent(id string) *models.User {
	return &models.User{ID: id, Username: "u-" + id, Role: models.RoleStudent, Active: true}
}

func TestRegistrationRoutes(t *testing.T) {
	nineOClock := models.ClockMinutes(9 * 60)
	halfTen := models.ClockMinutes(10*60 + 30)
	ten := models.ClockMinutes(10 * 60)
	eleven := models.ClockMinutes(11 * 60)

	newRouter := func(t *testing.T) (*gin.Engine, *ledgerStub) {
		t.Helper()
		ledger := newLedgerStub(
			stubCourse("CS101", 30, []string{"Monday", "Wednesday"}, nineOClock, halfTen),
			stubCourse("BIO110", 30, []string{"Wednesday", "Friday"}, ten, eleven),
			stubCourse("SEM500", 1, []string{"Tuesday"}, ten, eleven),
		)
		users := map[string]*models.User{
			"stu-1": activeStudent("stu-1"),
			"stu-2": activeStudent("stu-2"),
		}
		return buildRegistrationRouter(ledger, users), ledger
	}

	t.Run("enroll requires authentication", func(t *testing.T) {
		router, _ := newRouter(t)
		resp := performRequest(router, enrollRequest(`{"course_id":"CS101"}`, "", ""))
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("student enrolls self", func(t *testing.T) {
		router, _ := newRouter(t)
		resp := performRequest(router, enrollRequest(`{"course_id":"CS101"}`, "stu-1", "STUDENT"))
		require.Equal(t, http.StatusCreated, resp.Code)

		var envelope struct {
			Data models.Registration `json:"data"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
		assert.Equal(t, "stu-1", envelope.Data.StudentID)
		assert.Equal(t, models.RegistrationStatusActive, envelope.Data.Status)
	})

	t.Run("duplicate enrollment", func(t *testing.T) {
		router, _ := newRouter(t)
		performRequest(router, enrollRequest(`{"course_id":"CS101"}`, "stu-1", "STUDENT"))
		resp := performRequest(router, enrollRequest(`{"course_id":"CS101"}`, "stu-1", "STUDENT"))
		require.Equal(t, http.StatusConflict, resp.Code)
		assert.Contains(t, resp.Body.String(), "DUPLICATE_REGISTRATION")
	})

	t.Run("capacity full", func(t *testing.T) {
		router, _ := newRouter(t)
		performRequest(router, enrollRequest(`{"course_id":"SEM500"}`, "stu-1", "STUDENT"))
		resp := performRequest(router, enrollRequest(`{"course_id":"SEM500"}`, "stu-2", "STUDENT"))
		require.Equal(t, http.StatusConflict, resp.Code)
		assert.Contains(t, resp.Body.String(), "CAPACITY_FULL")
	})

	t.Run("schedule conflict", func(t *testing.T) {
		router, _ := newRouter(t)
		performRequest(router, enrollRequest(`{"course_id":"CS101"}`, "stu-1", "STUDENT"))
		resp := performRequest(router, enrollRequest(`{"course_id":"BIO110"}`, "stu-1", "STUDENT"))
		require.Equal(t, http.StatusConflict, resp.Code)
		assert.Contains(t, resp.Body.String(), "SCHEDULE_CONFLICT")
	})

	t.Run("student cannot enroll another student", func(t *testing.T) {
		router, _ := newRouter(t)
		resp := performRequest(router, enrollRequest(`{"student_id":"stu-2","course_id":"CS101"}`, "stu-1", "STUDENT"))
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("admin enrolls on behalf of a student", func(t *testing.T) {
		router, _ := newRouter(t)
		resp := performRequest(router, enrollRequest(`{"student_id":"stu-2","course_id":"CS101"}`, "admin-1", "ADMINISTRATOR"))
		require.Equal(t, http.StatusCreated, resp.Code)
	})

	t.Run("drop is owner only", func(t *testing.T) {
		router, ledger := newRouter(t)
		performRequest(router, enrollRequest(`{"course_id":"CS101"}`, "stu-1", "STUDENT"))

		var regID string
		for id := range ledger.regs {
			regID = id
		}

		req, _ := http.NewRequest(http.MethodDelete, "/registrations/"+regID, nil)
		req.Header.Set("X-Test-Role", "STUDENT")
		req.Header.Set("X-Test-User", "stu-2")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)

		req, _ = http.NewRequest(http.MethodDelete, "/registrations/"+regID, nil)
		req.Header.Set("X-Test-Role", "STUDENT")
		req.Header.Set("X-Test-User", "stu-1")
		resp = performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), "DROPPED")
	})

	t.Run("stats is admin only", func(t *testing.T) {
		router, _ := newRouter(t)

		req, _ := http.NewRequest(http.MethodGet, "/registrations/stats", nil)
		req.Header.Set("X-Test-Role", "STUDENT")
		req.Header.Set("X-Test-User", "stu-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)

		req, _ = http.NewRequest(http.MethodGet, "/registrations/stats", nil)
		req.Header.Set("X-Test-Role", "ADMINISTRATOR")
		req.Header.Set("X-Test-User", "admin-1")
		resp = performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"total"`)
	})

	t.Run("schedule allows self and admin", func(t *testing.T) {
		router, _ := newRouter(t)
		performRequest(router, enrollRequest(`{"course_id":"CS101"}`, "stu-1", "STUDENT"))

		req, _ := http.NewRequest(http.MethodGet, "/students/stu-1/schedule", nil)
		req.Header.Set("X-Test-Role", "STUDENT")
		req.Header.Set("X-Test-User", "stu-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), "CS101")

		req, _ = http.NewRequest(http.MethodGet, "/students/stu-1/schedule", nil)
		req.Header.Set("X-Test-Role", "STUDENT")
		req.Header.Set("X-Test-User", "stu-2")
		resp = performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)

		req, _ = http.NewRequest(http.MethodGet, "/students/stu-1/schedule", nil)
		req.Header.Set("X-Test-Role", "ADMINISTRATOR")
		req.Header.Set("X-Test-User", "admin-1")
		resp = performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("list scopes students to their own records", func(t *testing.T) {
		router, _ := newRouter(t)
		performRequest(router, enrollRequest(`{"course_id":"CS101"}`, "stu-1", "STUDENT"))
		performRequest(router, enrollRequest(`{"course_id":"SEM500"}`, "stu-2", "STUDENT"))

		req, _ := http.NewRequest(http.MethodGet, "/registrations?student_id=stu-2", nil)
		req.Header.Set("X-Test-Role", "STUDENT")
		req.Header.Set("X-Test-User", "stu-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)

		var envelope struct {
			Data []models.RegistrationDetail `json:"data"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
		require.Len(t, envelope.Data, 1)
		assert.Equal(t, "stu-1", envelope.Data[0].StudentID)
	})
}
