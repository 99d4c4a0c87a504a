package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/opencampus/registrar-api/internal/middleware"
	"github.com/opencampus/registrar-api/internal/models"
	"github.com/opencampus/registrar-api/internal/service"
)

// Handlers bundles the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Courses       *CourseHandler
	Registrations *RegistrationHandler
	Metrics       *MetricsHandler

	// RosterAudit records who viewed or downloaded roster data. Optional.
	RosterAudit gin.HandlerFunc
}

// RegisterRoutes mounts the API route tree under the given prefix. The course
// catalog is browsable anonymously; everything touching the ledger or
// accounts requires a valid token, with administrator-only routes guarded by
// RBAC.
func RegisterRoutes(r *gin.Engine, prefix string, auth *service.AuthService, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/refresh", h.Auth.Refresh)
		authGroup.POST("/logout", middleware.JWT(auth), h.Auth.Logout)
		authGroup.POST("/change-password", middleware.JWT(auth), h.Auth.ChangePassword)
		authGroup.GET("/me", middleware.JWT(auth), h.Auth.Me)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", middleware.OptionalJWT(auth), h.Courses.List)
		courses.GET("/:id", middleware.OptionalJWT(auth), h.Courses.Get)
		courses.POST("", middleware.JWT(auth), middleware.RequireRoles(models.RoleAdministrator), h.Courses.Create)
		courses.PUT("/:id", middleware.JWT(auth), middleware.RequireRoles(models.RoleAdministrator), h.Courses.Update)
		courses.DELETE("/:id", middleware.JWT(auth), middleware.RequireRoles(models.RoleAdministrator), h.Courses.Delete)
		rosterChain := []gin.HandlerFunc{middleware.JWT(auth), middleware.RequireRoles(models.RoleAdministrator)}
		if h.RosterAudit != nil {
			rosterChain = append(rosterChain, h.RosterAudit)
		}
		courses.GET("/:id/roster", append(rosterChain, h.Courses.Roster)...)
		courses.GET("/:id/roster/export", append(rosterChain, h.Courses.ExportRoster)...)
	}

	registrations := api.Group("/registrations", middleware.JWT(auth))
	{
		registrations.POST("", h.Registrations.Enroll)
		registrations.GET("", h.Registrations.List)
		registrations.GET("/stats", middleware.RequireRoles(models.RoleAdministrator), h.Registrations.Stats)
		registrations.DELETE("/:id", h.Registrations.Drop)
	}

	students := api.Group("/students", middleware.JWT(auth))
	{
		students.GET("/:id/schedule", middleware.RBAC(string(models.RoleAdministrator), "SELF"), h.Registrations.Schedule)
	}

	users := api.Group("/users", middleware.JWT(auth))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdministrator), h.Users.List)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdministrator), "SELF"), h.Users.Get)
		users.POST("", middleware.RequireRoles(models.RoleAdministrator), h.Users.Create)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdministrator), h.Users.Deactivate)
		users.POST("/:id/activate", middleware.RequireRoles(models.RoleAdministrator), h.Users.Reactivate)
	}
}
