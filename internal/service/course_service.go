package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencampus/registrar-api/internal/models"
	appErrors "github.com/opencampus/registrar-api/pkg/errors"
	"github.com/opencampus/registrar-api/pkg/export"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindSummaryByID(ctx context.Context, id string) (*models.CourseSummary, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course, force bool) (int, error)
	Delete(ctx context.Context, id string, cascade bool) (int, error)
	Roster(ctx context.Context, courseID string) ([]models.RosterEntry, error)
}

// CourseCache is the catalog listing cache, satisfied by the Redis cache
// repository. A nil cache disables caching.
type CourseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type rosterRenderer interface {
	Render(table export.Table) ([]byte, error)
}

type rosterPDFRenderer interface {
	Render(table export.Table, title string) ([]byte, error)
}

const (
	courseCachePrefix = "catalog:courses"
	courseCacheTTL    = 5 * time.Minute
)

// CatalogConfig tunes the course catalog cache.
type CatalogConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

type courseListCacheEntry struct {
	Courses    []models.CourseSummary `json:"courses"`
	Pagination models.Pagination      `json:"pagination"`
}

// CourseService provides the course catalog use cases.
type CourseService struct {
	repo      courseRepository
	cache     CourseCache
	audit     auditWriter
	csv       rosterRenderer
	pdf       rosterPDFRenderer
	validator *validator.Validate
	logger    *zap.Logger
	config    CatalogConfig
}

// NewCourseService constructs a CourseService instance. The cache and the
// exporters may be nil; the service degrades to uncached, export-disabled
// behaviour.
func NewCourseService(repo courseRepository, cache CourseCache, audit auditWriter, csv rosterRenderer, pdf rosterPDFRenderer, validate *validator.Validate, logger *zap.Logger, config CatalogConfig) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = courseCacheTTL
	}
	return &CourseService{repo: repo, cache: cache, audit: audit, csv: csv, pdf: pdf, validator: validate, logger: logger, config: config}
}

// List returns courses matching the filter. Results for the common anonymous
// listing are cached; any mutation invalidates the whole prefix.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, *models.Pagination, error) {
	cacheKey := s.listCacheKey(filter)
	if s.cacheEnabled() {
		var cached courseListCacheEntry
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached.Courses, &cached.Pagination, nil
		} else if !appErrors.HasCode(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course list cache read failed", zap.Error(err))
		}
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	pagination := models.Pagination{Page: page, PageSize: size, TotalCount: total}

	if s.cacheEnabled() {
		entry := courseListCacheEntry{Courses: courses, Pagination: pagination}
		if err := s.cache.Set(ctx, cacheKey, entry, s.config.CacheTTL); err != nil {
			s.logger.Warn("course list cache write failed", zap.Error(err))
		}
	}

	return courses, &pagination, nil
}

// Get returns a single course with its derived seat counts.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseSummary, error) {
	course, err := s.repo.FindSummaryByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create adds a new course to the catalog.
func (s *CourseService) Create(ctx context.Context, actorID string, req models.CourseRequest) (*models.Course, error) {
	course, err := s.buildCourse(req)
	if err != nil {
		return nil, err
	}

	if course.ID == "" {
		course.ID = uuid.NewString()
	} else if existing, err := s.repo.FindByID(ctx, course.ID); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("course %s already exists", course.ID))
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course id")
	}

	now := time.Now().UTC()
	course.Active = true
	course.CreatedAt = now
	course.UpdatedAt = now

	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.invalidateCatalog(ctx)
	s.writeAudit(ctx, actorID, models.AuditActionCourseCreate, course.ID, fmt.Sprintf(`{"name":%q}`, course.Name))

	return course, nil
}

// Update replaces a course's attributes. Shrinking capacity below the current
// active enrollment is rejected unless force is set, in which case the newest
// overflow registrations are dropped. The returned count reports how many
// registrations that removed.
func (s *CourseService) Update(ctx context.Context, actorID, id string, req models.CourseRequest, force bool) (*models.Course, int, error) {
	course, err := s.buildCourse(req)
	if err != nil {
		return nil, 0, err
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	course.ID = id
	// Active and CreatedAt come back from the row locked inside Update; the
	// values read above are only a pre-check.
	course.Active = current.Active
	course.CreatedAt = current.CreatedAt
	course.UpdatedAt = time.Now().UTC()

	droppedCount, err := s.repo.Update(ctx, course, force)
	if err != nil {
		return nil, 0, err
	}

	s.invalidateCatalog(ctx)
	s.writeAudit(ctx, actorID, models.AuditActionCourseUpdate, id, fmt.Sprintf(`{"capacity":%d,"force_dropped":%d}`, course.Capacity, droppedCount))

	return course, droppedCount, nil
}

// Delete deactivates a course. A course with active registrations is
// protected unless cascade is set, which drops every active registration
// before deactivating. The returned count reports the cascaded drops.
func (s *CourseService) Delete(ctx context.Context, actorID, id string, cascade bool) (int, error) {
	droppedCount, err := s.repo.Delete(ctx, id, cascade)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return 0, err
	}

	s.invalidateCatalog(ctx)
	s.writeAudit(ctx, actorID, models.AuditActionCourseDelete, id, fmt.Sprintf(`{"cascade_dropped":%d}`, droppedCount))

	return droppedCount, nil
}

// Roster returns the active students of a course.
func (s *CourseService) Roster(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	if _, err := s.repo.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	roster, err := s.repo.Roster(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return roster, nil
}

// ExportRoster renders the roster as csv or pdf.
func (s *CourseService) ExportRoster(ctx context.Context, courseID, format string) ([]byte, string, error) {
	course, err := s.repo.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	roster, err := s.repo.Roster(ctx, courseID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	table := export.Table{
		Headers: []string{"registration_id", "student_id", "username", "full_name", "enrolled_at"},
	}
	for _, entry := range roster {
		table.Rows = append(table.Rows, map[string]string{
			"registration_id": entry.RegistrationID,
			"student_id":      entry.StudentID,
			"username":        entry.Username,
			"full_name":       entry.FullName,
			"enrolled_at":     entry.EnrolledAt.Format(time.RFC3339),
		})
	}

	switch strings.ToLower(format) {
	case "csv", "":
		if s.csv == nil {
			return nil, "", appErrors.Clone(appErrors.ErrValidation, "csv export is disabled")
		}
		payload, err := s.csv.Render(table)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv roster")
		}
		return payload, "text/csv", nil
	case "pdf":
		if s.pdf == nil {
			return nil, "", appErrors.Clone(appErrors.ErrValidation, "pdf export is disabled")
		}
		payload, err := s.pdf.Render(table, fmt.Sprintf("Roster - %s (%s)", course.Name, course.ID))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf roster")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func (s *CourseService) buildCourse(req models.CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	start, err := models.ParseClock(req.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start time")
	}
	end, err := models.ParseClock(req.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end time")
	}

	course := &models.Course{
		ID:          strings.TrimSpace(req.ID),
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Credits:     req.Credits,
		Instructor:  strings.TrimSpace(req.Instructor),
		Room:        strings.TrimSpace(req.Room),
		Capacity:    req.Capacity,
		Schedule: models.Schedule{
			Days:  models.DayList(req.Days),
			Start: start,
			End:   end,
		},
	}

	if err := course.Schedule.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule")
	}

	return course, nil
}

func (s *CourseService) cacheEnabled() bool {
	return s.config.CacheEnabled && s.cache != nil
}

func (s *CourseService) listCacheKey(filter models.CourseFilter) string {
	return fmt.Sprintf("%s:%s:%t:%d:%d:%s:%s", courseCachePrefix, strings.ToLower(filter.Search), filter.IncludeClosed, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}

func (s *CourseService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, courseCachePrefix+":*"); err != nil {
		s.logger.Warn("failed to invalidate course cache", zap.Error(err))
	}
}

func (s *CourseService) writeAudit(ctx context.Context, actorID, action, resourceID, payload string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "courses",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}); err != nil {
		s.logger.Warn("failed to record course audit log", zap.Error(err))
	}
}
