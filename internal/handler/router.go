package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/vidyahub/school-api/internal/middleware"
	"github.com/vidyahub/school-api/internal/models"
	"github.com/vidyahub/school-api/internal/service"
)

// Handlers bundles every HTTP handler wired by the router.
type Handlers struct {
	Auth         *AuthHandler
	School       *SchoolHandler
	Class        *ClassHandler
	Section      *SectionHandler
	Subject      *SubjectHandler
	Teacher      *TeacherHandler
	Student      *StudentHandler
	Assignment   *TeachingAssignmentHandler
	Timetable    *TimetableHandler
	Substitution *SubstitutionHandler
	Notice       *NoticeHandler
	Export       *ExportHandler
	Metrics      *MetricsHandler
}

// RegisterRoutes mounts the versioned API onto the engine.
func RegisterRoutes(r *gin.Engine, h Handlers, authService *service.AuthService) {
	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RolePrincipal, models.RoleSchoolAdmin)
	anyRole := middleware.RequireRoles(models.RoleSuperAdmin, models.RolePrincipal, models.RoleSchoolAdmin, models.RoleTeacher)

	v1 := r.Group("/api/v1")

	auth := v1.Group("/auth")
	{
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)

		session := auth.Group("")
		session.Use(middleware.JWT(authService))
		session.POST("/logout", h.Auth.Logout)
		session.POST("/change-password", h.Auth.ChangePassword)
		session.GET("/me", h.Auth.Me)
	}

	api := v1.Group("")
	api.Use(middleware.JWT(authService), middleware.SchoolScope())

	schools := api.Group("/schools")
	{
		schools.GET("", middleware.RequireRoles(models.RoleSuperAdmin), h.School.List)
		schools.GET("/:id", anyRole, h.School.Get)
		schools.POST("", middleware.RequireRoles(models.RoleSuperAdmin), h.School.Create)
		schools.PUT("/:id", middleware.RequireRoles(models.RoleSuperAdmin, models.RolePrincipal), h.School.Update)
	}

	classes := api.Group("/classes")
	{
		classes.GET("", anyRole, h.Class.ListBySchool)
		classes.GET("/:id", anyRole, h.Class.Get)
		classes.GET("/:id/sections", anyRole, h.Section.ListByClass)
		classes.POST("", staff, h.Class.Create)
		classes.PUT("/:id", staff, h.Class.Update)
		classes.DELETE("/:id", staff, h.Class.Delete)
	}

	sections := api.Group("/sections")
	{
		sections.GET("/:id", anyRole, h.Section.Get)
		sections.POST("", staff, h.Section.Create)
		sections.PUT("/:id", staff, h.Section.Update)
		sections.DELETE("/:id", staff, h.Section.Delete)
		sections.GET("/:id/timetable/:day", anyRole, h.Timetable.SectionDay)
		sections.GET("/:id/substitutions", anyRole, h.Substitution.ListBySection)
		sections.GET("/:id/effective", anyRole, h.Substitution.Effective)
	}

	subjects := api.Group("/subjects")
	{
		subjects.GET("", anyRole, h.Subject.ListBySchool)
		subjects.GET("/:id", anyRole, h.Subject.Get)
		subjects.POST("", staff, h.Subject.Create)
		subjects.PUT("/:id", staff, h.Subject.Update)
		subjects.DELETE("/:id", staff, h.Subject.Delete)
	}

	teachers := api.Group("/teachers")
	{
		teachers.GET("", anyRole, h.Teacher.List)
		teachers.GET("/:id", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RolePrincipal), string(models.RoleSchoolAdmin), "SELF"), h.Teacher.Get)
		teachers.POST("", staff, h.Teacher.Create)
		teachers.PUT("/:id", staff, h.Teacher.Update)
		teachers.DELETE("/:id", staff, h.Teacher.Deactivate)
		teachers.GET("/:id/timetable/:day", anyRole, h.Timetable.TeacherDay)
	}

	students := api.Group("/students")
	{
		students.GET("", anyRole, h.Student.List)
		students.GET("/:id", anyRole, h.Student.Get)
		students.POST("", staff, h.Student.Create)
		students.PUT("/:id", staff, h.Student.Update)
	}

	assignments := api.Group("/assignments")
	{
		assignments.GET("", anyRole, h.Assignment.List)
		assignments.GET("/:id", anyRole, h.Assignment.Get)
		assignments.POST("", staff, h.Assignment.Create)
		assignments.PUT("/:id", staff, h.Assignment.Update)
		assignments.DELETE("/:id", staff, h.Assignment.Deactivate)
	}

	timetable := api.Group("/timetable")
	{
		timetable.GET("/slots", anyRole, h.Timetable.List)
		timetable.GET("/slots/:id", anyRole, h.Timetable.Get)
		timetable.POST("/slots", staff, h.Timetable.Create)
		timetable.POST("/slots/check", staff, h.Timetable.CheckSlot)
		timetable.PATCH("/slots/:id", staff, h.Timetable.Update)
		timetable.DELETE("/slots/:id", staff, h.Timetable.Delete)
	}

	substitutions := api.Group("/substitutions")
	{
		substitutions.GET("", anyRole, h.Substitution.ListByDate)
		substitutions.GET("/available", staff, h.Substitution.Available)
		substitutions.POST("", staff, h.Substitution.Assign)
		substitutions.PATCH("/:id", staff, h.Substitution.UpdateActive)
		substitutions.DELETE("/:id", staff, h.Substitution.Deactivate)
	}

	notices := api.Group("/notices")
	{
		notices.GET("", anyRole, h.Notice.List)
		notices.GET("/:id", anyRole, h.Notice.Get)
		notices.POST("", staff, h.Notice.Create)
		notices.PUT("/:id", staff, h.Notice.Update)
		notices.DELETE("/:id", staff, h.Notice.Delete)
	}

	exports := api.Group("/exports")
	{
		exports.POST("", staff, h.Export.Request)
		exports.GET("/:id", anyRole, h.Export.Status)
	}
	// Download links carry their own signed token, no session required.
	v1.GET("/exports/download/:token", h.Export.Download)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RolePrincipal))
	{
		admin.GET("/metrics", h.Metrics.Snapshot)
	}
}
