package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-attendance-api/api/swagger"
	"github.com/noah-isme/sma-attendance-api/internal/handler"
	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	"github.com/noah-isme/sma-attendance-api/internal/service"
	"github.com/noah-isme/sma-attendance-api/pkg/cache"
	"github.com/noah-isme/sma-attendance-api/pkg/config"
	"github.com/noah-isme/sma-attendance-api/pkg/database"
	"github.com/noah-isme/sma-attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-attendance-api/pkg/middleware/requestid"
)

// @title SMA Attendance API
// @version 1.0.0
// @description Attendance governance: approval workflow, reopen requests, correction versions and audit ledger.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, cfg.Database.MigrationsDir); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("migrations applied", zap.String("dir", cfg.Database.MigrationsDir))
	}

	redisClient, err := cache.NewRedis(context.Background(), cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, actor cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	attendanceRepo := repository.NewAttendanceRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	reopenRepo := repository.NewReopenRequestRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Attendance.ActorCacheTTL, logr, cfg.Attendance.ActorCacheEnabled && redisClient != nil)
	actors := service.NewActorDirectory(userRepo, cacheSvc, metrics, cfg.Attendance.ActorCacheTTL, logr)
	workflow := service.NewAttendanceService(attendanceRepo, studentRepo, courseRepo, logr,
		service.WithSubmissionDeadline(cfg.Attendance.SubmissionDeadline),
		service.WithDeadlineRestartOnReopen(cfg.Attendance.DeadlineRestartsOnReopen),
		service.WithAttendanceMetrics(metrics),
	)
	resolver := service.NewRecordResolver(attendanceRepo, reopenRepo, logr)
	auditTrail := service.NewAuditTrailService(auditRepo, attendanceRepo, actors, metrics, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(metrics, cfg.Metrics.Path))
	}

	registerRoutes(r, cfg, routeDeps{
		verifier: middleware.NewTokenVerifier(cfg.JWT),
		commands: handler.NewAttendanceHandler(workflow),
		queries:  handler.NewAttendanceQueryHandler(resolver, auditTrail),
		ops: handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
			"postgres": db,
			"redis":    handler.PingerFunc(func(ctx context.Context) error { return cacheRepo.Ping(ctx) }),
		}),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
