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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/immigration-dms-api/api/swagger"
	"github.com/noah-isme/immigration-dms-api/internal/dms"
	"github.com/noah-isme/immigration-dms-api/internal/handler"
	"github.com/noah-isme/immigration-dms-api/internal/middleware"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/repository"
	"github.com/noah-isme/immigration-dms-api/internal/service"
	"github.com/noah-isme/immigration-dms-api/pkg/cache"
	"github.com/noah-isme/immigration-dms-api/pkg/config"
	"github.com/noah-isme/immigration-dms-api/pkg/database"
	"github.com/noah-isme/immigration-dms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/immigration-dms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/immigration-dms-api/pkg/middleware/requestid"
	"github.com/noah-isme/immigration-dms-api/pkg/storage"
)

// @title Immigration DMS API
// @version 1.0.0
// @description Application status workflow and document management system synchronisation.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type leaseRepository interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*repository.Lease, error)
	Release(ctx context.Context, lease *repository.Lease) error
	Held(ctx context.Context, key string) (bool, error)
}

type handlers struct {
	applications *handler.ApplicationHandler
	documents    *handler.DocumentHandler
	sync         *handler.SyncHandler
	metrics      *handler.MetricsHandler
}

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
		Leeway:            30 * time.Second,
	})

	dispatcher := service.NewNotificationDispatcher(notificationSinks(cfg, redisClient, logr), metricsSvc, logr, service.NotificationDispatcherConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
	})
	if cfg.Notifications.Enabled {
		dispatcher.Start(ctx)
		defer dispatcher.Stop()
	}

	h, scheduler, err := buildHandlers(cfg, db, redisClient, metricsSvc, dispatcher, logr)
	if err != nil {
		logr.Fatal("failed to build services", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))
	r.Use(middleware.AuditContext())

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", h.metrics.Prometheus)

	registerRoutes(r.Group(cfg.APIPrefix), h, authSvc)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown", "error", err)
	}
}

func notificationSinks(cfg *config.Config, client *redis.Client, logr *zap.Logger) []service.NotificationSink {
	sinks := []service.NotificationSink{service.NewLogNotificationSink(logr)}
	if client != nil && cfg.Notifications.RedisChannel != "" {
		sinks = append(sinks, repository.NewRedisNotificationPublisher(client, cfg.Notifications.RedisChannel))
	}
	return sinks
}

func buildHandlers(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, metricsSvc *service.MetricsService, dispatcher *service.NotificationDispatcher, logr *zap.Logger) (*handlers, *service.SyncScheduler, error) {
	uow := repository.NewSQLUnitOfWork(db)
	appRepo := repository.NewApplicationRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	syncLogRepo := repository.NewSyncLogRepository(db)

	var cacheSvc *service.CacheService
	var leases leaseRepository = repository.NewLocalLeaseRepository()
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metricsSvc, cfg.Sync.StatusCacheTTL, logr, true)
		leases = repository.NewRedisLeaseRepository(redisClient)
	} else {
		cacheSvc = service.NewCacheService(nil, metricsSvc, cfg.Sync.StatusCacheTTL, logr, false)
		logr.Warn("redis disabled, sync leases are process local")
	}

	documentStorage, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("document storage: %w", err)
	}
	exportStorage, err := storage.NewLocalStorage(cfg.Documents.ExportDir)
	if err != nil {
		return nil, nil, fmt.Errorf("export storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	machine := service.NewStatusMachine()
	forms, err := service.NewSchemaFormValidator()
	if err != nil {
		return nil, nil, fmt.Errorf("form schemas: %w", err)
	}

	retry := dms.RetryPolicy{
		Attempts:        cfg.Sync.UploadAttempts,
		InitialInterval: cfg.Sync.RetryInitialInterval,
		MaxInterval:     cfg.Sync.RetryMaxInterval,
	}
	stores, err := dms.NewStores(cfg.DMS, dms.Options{
		HTTPClient:      &http.Client{},
		CallTimeout:     cfg.Sync.CallTimeout,
		PageSize:        cfg.Sync.PageSize,
		TokenExpirySkew: cfg.Sync.TokenExpirySkew,
		Retry:           retry,
		Logger:          logr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dms systems: %w", err)
	}

	appSvc := service.NewApplicationService(uow, appRepo, machine, logr)
	workflowSvc := service.NewWorkflowService(uow, appRepo, machine, forms, dispatcher, metricsSvc, logr)
	documentSvc := service.NewDocumentService(uow, appRepo, docRepo, documentStorage, signer, logr, service.DocumentServiceConfig{
		MaxFileSize:  cfg.Documents.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Documents.AllowedMIMEs,
		APIPrefix:    cfg.APIPrefix,
	})
	syncSvc := service.NewSyncService(stores, uow, docRepo, syncLogRepo, leases, documentStorage, dispatcher, cacheSvc, metricsSvc, logr, service.SyncServiceConfig{
		Concurrency:     cfg.Sync.Concurrency,
		UploadRetry:     retry,
		LeaseTTL:        cfg.Sync.LeaseTTL,
		DefaultConflict: models.ConflictPolicy(cfg.Sync.ConflictResolution),
		StatusCacheTTL:  cfg.Sync.StatusCacheTTL,
	})
	syncLogSvc := service.NewSyncLogService(syncLogRepo, syncSvc.Systems, exportStorage, signer, service.SyncLogConfig{
		APIPrefix: cfg.APIPrefix,
	}, logr)

	var scheduler *service.SyncScheduler
	if cfg.Sync.SchedulerEnabled && len(stores) > 0 {
		scheduler = service.NewSyncScheduler(syncSvc, syncLogSvc, logr, service.SyncSchedulerConfig{
			Interval:        cfg.Sync.Interval,
			Action:          models.SyncAction(cfg.Sync.ScheduledAction),
			RunTimeout:      cfg.Sync.LeaseTTL,
			CleanupInterval: time.Hour,
		})
	}
	logr.Info("dms systems configured", zap.Strings("systems", syncSvc.Systems()))

	return &handlers{
		applications: handler.NewApplicationHandler(appSvc, workflowSvc),
		documents:    handler.NewDocumentHandler(documentSvc),
		sync:         handler.NewSyncHandler(syncSvc, syncLogSvc),
		metrics:      handler.NewMetricsHandler(metricsSvc),
	}, scheduler, nil
}

func registerRoutes(api *gin.RouterGroup, h *handlers, authSvc *service.AuthService) {
	api.GET("/documents/:id/download", h.documents.Download)
	api.GET("/sync/exports/:token", h.sync.DownloadExport)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.Use(middleware.WithResponseMeta())

	staff := middleware.RequireStaff()
	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSystem)

	apps := secured.Group("/applications")
	apps.POST("", h.applications.Create)
	apps.GET("", h.applications.List)
	apps.GET("/:id", h.applications.Get)
	apps.PUT("/:id/form", h.applications.UpdateForm)
	apps.DELETE("/:id", h.applications.Archive)
	apps.GET("/:id/transitions", h.applications.AllowedTransitions)
	apps.POST("/:id/transitions", h.applications.Transition)
	apps.POST("/:id/documents", h.documents.Upload)
	apps.GET("/:id/documents", h.documents.List)

	docs := secured.Group("/documents")
	docs.GET("/:id", h.documents.Get)
	docs.DELETE("/:id", h.documents.Delete)
	docs.POST("/:id/resync", staff, h.documents.Resync)

	syncGroup := secured.Group("/sync")
	syncGroup.GET("/status", staff, h.sync.Status)
	syncGroup.GET("/logs/:id", staff, h.sync.Log)
	syncGroup.POST("/systems/:system", admins, h.sync.Trigger)
	syncGroup.GET("/systems/:system/status", staff, h.sync.Status)
	syncGroup.GET("/systems/:system/logs", staff, h.sync.Logs)
	syncGroup.POST("/systems/:system/logs/export", admins, h.sync.ExportLogs)

	secured.GET("/metrics/snapshot", admins, h.metrics.Snapshot)
}
