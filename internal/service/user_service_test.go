package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/registrar-api/internal/models"
	appErrors "github.com/opencampus/registrar-api/pkg/errors"
)

type mockUserRepo struct {
	users   map[string]*models.User
	logs    []*models.AuditLog
	revoked []string
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) Create(_ context.Context, user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) SetActive(_ context.Context, id string, active bool, _ time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Active = active
	return nil
}

func (m *mockUserRepo) List(_ context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func TestUserCreateWithExplicitRole(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewUserService(repo, nil, nil)

	user, err := svc.Create(context.Background(), "admin-1", models.CreateUserRequest{
		Username: "registrar2",
		Email:    "registrar2@example.edu",
		FullName: "Second Registrar",
		Password: "longenoughpw",
		Role:     models.RoleAdministrator,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdministrator, user.Role)
	assert.True(t, user.Active)
	require.Len(t, repo.logs, 1)
}

func TestUserCreateRejectsUnknownRole(t *testing.T) {
	svc := NewUserService(newMockUserRepo(), nil, nil)

	_, err := svc.Create(context.Background(), "admin-1", models.CreateUserRequest{
		Username: "oddball",
		Email:    "oddball@example.edu",
		FullName: "Odd Ball",
		Password: "longenoughpw",
		Role:     models.UserRole("SUPERUSER"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestUserCreateDuplicateUsername(t *testing.T) {
	existing := &models.User{ID: "stu-1", Username: "jchen", Role: models.RoleStudent, Active: true}
	svc := NewUserService(newMockUserRepo(existing), nil, nil)

	_, err := svc.Create(context.Background(), "admin-1", models.CreateUserRequest{
		Username: "JCHEN",
		Email:    "dup@example.edu",
		FullName: "Dup Chen",
		Password: "longenoughpw",
		Role:     models.RoleStudent,
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
}

func TestUserDeactivate(t *testing.T) {
	target := &models.User{ID: "stu-1", Username: "jchen", Role: models.RoleStudent, Active: true}
	repo := newMockUserRepo(target)
	svc := NewUserService(repo, nil, nil)

	require.NoError(t, svc.Deactivate(context.Background(), "admin-1", "stu-1"))
	assert.False(t, target.Active)
	assert.Contains(t, repo.revoked, "stu-1")
	require.Len(t, repo.logs, 1)
	assert.Equal(t, models.AuditActionUserDisable, repo.logs[0].Action)

	err := svc.Deactivate(context.Background(), "admin-1", "ghost")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestUserCannotDeactivateSelf(t *testing.T) {
	admin := &models.User{ID: "admin-1", Username: "admin", Role: models.RoleAdministrator, Active: true}
	repo := newMockUserRepo(admin)
	svc := NewUserService(repo, nil, nil)

	err := svc.Deactivate(context.Background(), "admin-1", "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
	assert.True(t, admin.Active)
}

func TestUserReactivate(t *testing.T) {
	target := &models.User{ID: "stu-1", Username: "jchen", Role: models.RoleStudent, Active: false}
	repo := newMockUserRepo(target)
	svc := NewUserService(repo, nil, nil)

	require.NoError(t, svc.Reactivate(context.Background(), "admin-1", "stu-1"))
	assert.True(t, target.Active)
	require.Len(t, repo.logs, 1)
	assert.Equal(t, models.AuditActionUserEnable, repo.logs[0].Action)
}

func TestUserListFilters(t *testing.T) {
	repo := newMockUserRepo(
		&models.User{ID: "admin-1", Username: "admin", Role: models.RoleAdministrator, Active: true},
		&models.User{ID: "stu-1", Username: "jchen", Role: models.RoleStudent, Active: true},
		&models.User{ID: "stu-2", Username: "aokafor", Role: models.RoleStudent, Active: false},
	)
	svc := NewUserService(repo, nil, nil)

	role := models.RoleStudent
	active := true
	users, pagination, err := svc.List(context.Background(), models.UserFilter{Role: &role, Active: &active})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "jchen", users[0].Username)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestUserGetNotFound(t *testing.T) {
	svc := NewUserService(newMockUserRepo(), nil, nil)
	_, err := svc.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
