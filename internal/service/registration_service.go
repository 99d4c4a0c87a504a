package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opencampus/registrar-api/internal/models"
	appErrors "github.com/opencampus/registrar-api/pkg/errors"
)

// registrationLedger is the transactional store enforcing the seat capacity,
// duplicate and schedule conflict invariants at commit time.
type registrationLedger interface {
	Enroll(ctx context.Context, studentID, courseID string) (*models.Registration, error)
	Drop(ctx context.Context, registrationID string) (*models.Registration, error)
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	ActiveCoursesForStudent(ctx context.Context, studentID string) ([]models.Course, error)
	Stats(ctx context.Context) (*models.RegistrationStats, error)
}

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RegistrationService provides enrollment use cases on top of the ledger.
type RegistrationService struct {
	ledger    registrationLedger
	users     studentLookup
	cache     CourseCache
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs a RegistrationService instance.
func NewRegistrationService(ledger registrationLedger, users studentLookup, cache CourseCache, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RegistrationService{ledger: ledger, users: users, cache: cache, audit: audit, validator: validate, logger: logger}
}

// Enroll registers a student into a course. Students may only enroll
// themselves; administrators enroll any student by ID. The ledger decides
// capacity, duplicates and schedule conflicts atomically.
func (s *RegistrationService) Enroll(ctx context.Context, actor *models.JWTClaims, req models.EnrollRequest) (*models.Registration, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	studentID := req.StudentID
	switch {
	case actor.IsAdministrator():
		if studentID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
		}
	case studentID == "":
		studentID = actor.UserID
	case studentID != actor.UserID:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only manage their own registrations")
	}

	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active || student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	registration, err := s.ledger.Enroll(ctx, studentID, req.CourseID)
	if err != nil {
		return nil, err
	}

	s.invalidateCatalog(ctx)
	s.writeAudit(ctx, actor.UserID, models.AuditActionEnroll, registration.ID,
		fmt.Sprintf(`{"student_id":%q,"course_id":%q}`, studentID, req.CourseID))

	s.logger.Info("student enrolled",
		zap.String("registration_id", registration.ID),
		zap.String("student_id", studentID),
		zap.String("course_id", req.CourseID))

	return registration, nil
}

// Drop transitions a registration to DROPPED. Students may drop only their
// own registrations; administrators may drop any.
func (s *RegistrationService) Drop(ctx context.Context, actor *models.JWTClaims, registrationID string) (*models.Registration, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	registration, err := s.ledger.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	if !actor.IsAdministrator() && registration.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only manage their own registrations")
	}

	dropped, err := s.ledger.Drop(ctx, registrationID)
	if err != nil {
		return nil, err
	}

	s.invalidateCatalog(ctx)
	s.writeAudit(ctx, actor.UserID, models.AuditActionDrop, dropped.ID,
		fmt.Sprintf(`{"student_id":%q,"course_id":%q}`, dropped.StudentID, dropped.CourseID))

	s.logger.Info("registration dropped",
		zap.String("registration_id", dropped.ID),
		zap.String("student_id", dropped.StudentID),
		zap.String("course_id", dropped.CourseID))

	return dropped, nil
}

// List returns registration history. Students see only their own records;
// administrators may filter freely.
func (s *RegistrationService) List(ctx context.Context, actor *models.JWTClaims, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !actor.IsAdministrator() {
		filter.StudentID = actor.UserID
	}

	registrations, total, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return registrations, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Schedule returns a student's active courses with a conflict report. The
// report is a diagnostic; the ledger should never let a conflict commit.
func (s *RegistrationService) Schedule(ctx context.Context, actor *models.JWTClaims, studentID string) (*models.StudentSchedule, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !actor.IsAdministrator() && studentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own schedule")
	}

	if _, err := s.users.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	courses, err := s.ledger.ActiveCoursesForStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	return &models.StudentSchedule{
		StudentID: studentID,
		Courses:   courses,
		Conflicts: models.ConflictPairs(courses),
	}, nil
}

// Stats summarises the ledger for administrators.
func (s *RegistrationService) Stats(ctx context.Context) (*models.RegistrationStats, error) {
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration stats")
	}
	return stats, nil
}

func (s *RegistrationService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, courseCachePrefix+":*"); err != nil {
		s.logger.Warn("failed to invalidate course cache", zap.Error(err))
	}
}

func (s *RegistrationService) writeAudit(ctx context.Context, actorID, action, resourceID, payload string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "registrations",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}); err != nil {
		s.logger.Warn("failed to record registration audit log", zap.Error(err))
	}
}
