package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/vidyahub/school-api/api/swagger"
	"github.com/vidyahub/school-api/internal/handler"
	"github.com/vidyahub/school-api/internal/middleware"
	"github.com/vidyahub/school-api/internal/repository"
	"github.com/vidyahub/school-api/internal/service"
	"github.com/vidyahub/school-api/pkg/cache"
	"github.com/vidyahub/school-api/pkg/config"
	"github.com/vidyahub/school-api/pkg/database"
	"github.com/vidyahub/school-api/pkg/jobs"
	"github.com/vidyahub/school-api/pkg/lock"
	"github.com/vidyahub/school-api/pkg/logger"
	corsmiddleware "github.com/vidyahub/school-api/pkg/middleware/cors"
	reqidmiddleware "github.com/vidyahub/school-api/pkg/middleware/requestid"
	"github.com/vidyahub/school-api/pkg/storage"
)

// @title VidyaHub School API
// @version 1.0.0
// @description Multi-tenant school management backend with timetable conflict detection
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

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching and distributed locks disabled", zap.Error(err))
		redisClient = nil
	}

	var locker lock.Locker = lock.NewKeyMutex()
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient, lock.RedisLockerConfig{
			TTL:           cfg.Locks.TTL,
			RetryInterval: cfg.Locks.RetryInterval,
			MaxWait:       cfg.Locks.MaxWait,
		})
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	schoolRepo := repository.NewSchoolRepository(db)
	classRepo := repository.NewClassRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	assignmentRepo := repository.NewTeachingAssignmentRepository(db)
	timetableRepo := repository.NewTimetableRepository(db)
	substitutionRepo := repository.NewSubstitutionRepository(db)
	noticeRepo := repository.NewNoticeRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)

	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	if redisClient != nil && cfg.Cache.Enabled {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Cache.TTL, logr, true)
	}

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	schoolService := service.NewSchoolService(schoolRepo, validate, logr)
	classService := service.NewClassService(classRepo, validate, logr)
	sectionService := service.NewSectionService(sectionRepo, classRepo, validate, logr)
	subjectService := service.NewSubjectService(subjectRepo, validate, logr)
	teacherService := service.NewTeacherService(teacherRepo, validate, logr)
	studentService := service.NewStudentService(studentRepo, sectionRepo, validate, logr)
	assignmentService := service.NewTeachingAssignmentService(assignmentRepo, teacherRepo, sectionRepo, subjectRepo, validate, logr)
	timetableService := service.NewTimetableService(timetableRepo, locker, cacheService, metricsService, validate, logr)
	substitutionService := service.NewSubstitutionService(substitutionRepo, assignmentRepo, teacherRepo, sectionRepo, classRepo, timetableRepo, locker, validate, logr, cfg.Substitutions.StrictDefault)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exportService *service.ExportService
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Fatal("failed to init export storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportService = service.NewExportService(exportJobRepo, timetableRepo, subjectRepo, teacherRepo, store, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr)

		exportQueue = jobs.NewQueue("exports", exportService.HandleJob, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportService.BindQueue(exportQueue)
		exportQueue.Start(ctx)
		defer exportQueue.Stop()

		go func() {
			ticker := time.NewTicker(cfg.Exports.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					exportService.Cleanup()
				}
			}
		}()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	metricsHandler := handler.NewMetricsHandler(metricsService)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r, handler.Handlers{
		Auth:         handler.NewAuthHandler(authService),
		School:       handler.NewSchoolHandler(schoolService),
		Class:        handler.NewClassHandler(classService),
		Section:      handler.NewSectionHandler(sectionService),
		Subject:      handler.NewSubjectHandler(subjectService),
		Teacher:      handler.NewTeacherHandler(teacherService),
		Student:      handler.NewStudentHandler(studentService),
		Assignment:   handler.NewTeachingAssignmentHandler(assignmentService),
		Timetable:    handler.NewTimetableHandler(timetableService),
		Substitution: handler.NewSubstitutionHandler(substitutionService),
		Notice:       handler.NewNoticeHandler(service.NewNoticeService(noticeRepo, validate, logr)),
		Export:       handler.NewExportHandler(exportService),
		Metrics:      metricsHandler,
	}, authService)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
