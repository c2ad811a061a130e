package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/sma-attendance-api/internal/handler"
	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/pkg/config"
)

type routeDeps struct {
	verifier *middleware.TokenVerifier
	commands *handler.AttendanceHandler
	queries  *handler.AttendanceQueryHandler
	ops      *handler.MetricsHandler
}

var (
	anyRole   = []models.UserRole{models.RoleTeacher, models.RoleAcademicCoordinator, models.RoleLeadership}
	staffRole = []models.UserRole{models.RoleTeacher, models.RoleAcademicCoordinator}
)

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	r.GET("/health", deps.ops.Health)
	r.GET("/ready", deps.ops.Ready)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, deps.ops.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta(), middleware.JWT(deps.verifier), middleware.AuditContext())

	attendance := api.Group("/attendance")

	reads := attendance.Group("", middleware.RequireRoles(anyRole...))
	reads.GET("/reopen-requests", deps.queries.ReopenRequests)
	reads.GET("/reopen-requests/pending", deps.queries.PendingReopenRequests)
	reads.GET("/reopen-requests/:id", deps.queries.ReopenRequest)
	reads.GET("/audit", deps.queries.AuditByDateRange)
	reads.GET("/audit/actor/:actorId", deps.queries.AuditByActor)
	reads.GET("/latest/student/:studentId/date/:date/course/:courseId", deps.queries.Latest)
	reads.GET("/student/:studentId/date/:date/course/:courseId", deps.queries.Current)
	reads.GET("/student/:studentId/range", deps.queries.StudentRange)
	reads.GET("/course/:courseId/date/:date", deps.queries.CourseDate)
	reads.GET("/status/:status", deps.queries.ByStatus)
	reads.GET("/versions/student/:studentId/date/:date/course/:courseId", deps.queries.AllVersions)
	reads.GET("/:id", deps.queries.Get)
	reads.GET("/:id/versions", deps.queries.ChildVersions)
	reads.GET("/:id/audit-trail", deps.queries.AuditTrail)
	if cfg.Attendance.AuditExportEnabled {
		reads.GET("/:id/audit-trail/export", deps.queries.ExportAuditTrail)
	}

	writes := attendance.Group("", middleware.RequireRoles(staffRole...))
	writes.POST("", deps.commands.Create)
	writes.POST("/:id/submit", deps.commands.Submit)
	writes.POST("/:id/approve", deps.commands.Approve)
	writes.POST("/:id/publish", deps.commands.Publish)
	writes.POST("/:id/lock", deps.commands.Lock)
	writes.POST("/:id/request-reopen", deps.commands.RequestReopen)
	writes.POST("/:id/apply-correction", deps.commands.ApplyCorrection)
	writes.POST("/reopen-requests/:id/approve", deps.commands.ApproveReopen)
	writes.POST("/reopen-requests/:id/reject", deps.commands.RejectReopen)
}
