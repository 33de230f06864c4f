package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/events"
	"github.com/ifuryst/syndicate/internal/service"
	"github.com/ifuryst/syndicate/internal/service/distribution"
	"github.com/ifuryst/syndicate/internal/service/distribution/store"
	"github.com/ifuryst/syndicate/internal/service/publisher"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Registry   *publisher.Registry
	Engine     *distribution.Engine
	Scheduler  *distribution.Scheduler
	Monitoring *service.MonitoringService
	Retention  *service.RetentionSweeper
	Events     events.Publisher

	redis *redis.Client
}

// NewServer wires every component from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	var db *gorm.DB
	if cfg.UsesDatabase() {
		var err error
		db, err = service.NewDatabase(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	registry, err := service.NewPlatformRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build platform registry: %w", err)
	}

	var rdb *redis.Client
	var jobStore distribution.Store
	switch cfg.Store.Driver {
	case "database":
		jobStore = store.NewGormStore(db)
	case "redis":
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		jobStore = store.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
	default:
		jobStore = store.NewMemoryStore()
	}

	posts, err := service.NewPostSource(cfg.Posts, db, logger.Named("posts"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize post source: %w", err)
	}

	var observers []distribution.JobObserver
	var monitoring *service.MonitoringService
	var retentionOpts []service.RetentionOption
	if cfg.Monitoring.Enabled {
		monitoring = service.NewMonitoringService(db, logger.Named("monitoring"))
		retentionOpts = append(retentionOpts, service.WithMonitoringRetention(monitoring, cfg.Monitoring.RetentionDays))
		observers = append(observers, monitoring)
	}

	eventPublisher, err := events.NewPublisher(cfg.Events, logger.Named("events"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	if eventPublisher != nil {
		observers = append(observers, events.NewNotifier(eventPublisher, logger.Named("events")))
	}

	engine := distribution.NewEngine(cfg.Dispatch, jobStore, registry, posts, logger.Named("engine"),
		distribution.WithObservers(observers...))

	if cfg.Dispatch.JobRetentionDays > 0 {
		retentionOpts = append(retentionOpts, service.WithJobRetention(engine, cfg.Dispatch.JobRetentionDays))
	}
	var retention *service.RetentionSweeper
	if len(retentionOpts) > 0 {
		retention = service.NewRetentionSweeper(logger.Named("retention"),
			config.Duration(cfg.Monitoring.CleanupInterval), retentionOpts...)
	}

	srv := New(cfg, logger, registry, engine, monitoring)
	srv.DB = db
	srv.Scheduler = distribution.NewScheduler(cfg.Dispatch, engine, logger.Named("scheduler"))
	srv.Retention = retention
	srv.Events = eventPublisher
	srv.redis = rdb

	return srv, nil
}

// New builds the HTTP layer around already constructed components.
func New(cfg *config.Config, logger *zap.Logger, registry *publisher.Registry, engine *distribution.Engine, monitoring *service.MonitoringService) *Server {
	srv := &Server{
		Config:     cfg,
		Router:     gin.New(),
		Logger:     logger,
		Registry:   registry,
		Engine:     engine,
		Monitoring: monitoring,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	corsConfig := cors.DefaultConfig()
	if slices.Contains(s.Config.Server.AllowOrigins, "*") || len(s.Config.Server.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.Config.Server.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	s.Router.Use(cors.New(corsConfig))
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := s.Router.Group("/api/v1")
	{
		distributions := api.Group("/distributions")
		{
			distributions.POST("", s.handleDistribute)
			distributions.GET("", s.handleListJobs)
			distributions.GET("/stats", s.handleJobStatistics)
			distributions.POST("/status", s.handleBulkStatus)
			distributions.GET("/:id", s.handleGetJob)
			distributions.POST("/:id/retry", s.handleRetry)
			distributions.DELETE("/:id", s.handleCancel)
		}

		platforms := api.Group("/platforms")
		{
			platforms.GET("", s.handleListPlatforms)
			platforms.GET("/health", s.handlePlatformHealth)
			platforms.GET("/:name", s.handleGetPlatform)
		}

		api.GET("/monitoring/errors", s.handleRecentErrors)
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s.Scheduler != nil {
		if err := s.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	if s.Retention != nil {
		s.Retention.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

// Shutdown stops intake first, then lets in-flight dispatches finish before closing backends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Retention != nil {
		s.Retention.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var err error
	if s.Server != nil {
		err = s.Server.Shutdown(shutdownCtx)
	}

	s.Engine.Close()

	if s.Events != nil {
		if closeErr := s.Events.Close(); closeErr != nil {
			s.Logger.Warn("Failed to close event publisher", zap.Error(closeErr))
		}
	}
	if s.redis != nil {
		if closeErr := s.redis.Close(); closeErr != nil {
			s.Logger.Warn("Failed to close redis client", zap.Error(closeErr))
		}
	}
	if s.DB != nil {
		if sqlDB, dbErr := s.DB.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}

	return err
}
