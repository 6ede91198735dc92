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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"medical-insights-server/internal/blobstore"
	"medical-insights-server/internal/bodyimpact"
	"medical-insights-server/internal/config"
	"medical-insights-server/internal/extractor"
	"medical-insights-server/internal/handlers"
	"medical-insights-server/internal/inference"
	"medical-insights-server/internal/llm"
	"medical-insights-server/internal/logger"
	"medical-insights-server/internal/mapper"
	"medical-insights-server/internal/metrics"
	"medical-insights-server/internal/middleware"
	"medical-insights-server/internal/models"
	"medical-insights-server/internal/patterncache"
	"medical-insights-server/internal/repository"
	"medical-insights-server/internal/routes"
	"medical-insights-server/internal/selector"
	"medical-insights-server/internal/taxonomy"
)

func main() {
	// A missing .env is fine when the environment is set by the container
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	// Initialize configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "medical-insights-server")
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer zapLogger.Sync()

	// Initialize database connection
	db, err := models.InitDB(models.DatabaseConfig{DSN: cfg.Database.DSN, Debug: cfg.Database.Debug})
	if err != nil {
		zapLogger.Fatal("Error connecting to database", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	tax, err := loadTaxonomy(cfg.TaxonomyFile)
	if err != nil {
		zapLogger.Fatal("Error loading body region taxonomy", zap.Error(err))
	}

	h, err := buildHandlers(cfg, db, redisClient, tax, zapLogger)
	if err != nil {
		zapLogger.Fatal("Error wiring services", zap.Error(err))
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(zapLogger), metrics.GinMiddleware())

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader, "Retry-After"}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, h, cfg)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		zapLogger.Info("Server running", zap.String("port", cfg.Port), zap.Bool("ai_configured", cfg.AI.APIKey != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
}

func loadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(path)
}

func buildHandlers(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, tax *taxonomy.Taxonomy, zapLogger *zap.Logger) (routes.Handlers, error) {
	signer := blobstore.NewSigner(cfg.Blob.Secret, cfg.Blob.RefTTL)
	profileRepo := repository.NewProfileRepository(db)
	reportRepo := repository.NewReportRepository(db, signer, zapLogger.Named("reports"))
	dbBlobs := blobstore.NewDBStore(signer, reportRepo)

	var fetcher blobstore.Fetcher = dbBlobs
	if cfg.Blob.Source == "http" {
		fetcher = blobstore.NewHTTPStore(cfg.Blob.PublicBaseURL, cfg.AI.Timeout)
	}

	var store patterncache.Store
	switch cfg.PatternCacheBackend {
	case "redis":
		store = patterncache.NewRedisStore(redisClient, "")
	case "database":
		store = patterncache.NewGormStore(db)
	default:
		return routes.Handlers{}, fmt.Errorf("unknown pattern cache backend %q", cfg.PatternCacheBackend)
	}
	cache := patterncache.New(store, zapLogger.Named("patterncache"))

	model := llm.NewClient(llm.Config{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		VisionModel: cfg.AI.VisionModel,
		Timeout:     cfg.AI.Timeout,
	}, zapLogger.Named("llm"))

	service := bodyimpact.NewService(bodyimpact.Dependencies{
		Profiles: profileRepo,
		Reports:  reportRepo,
		Cache:    cache,
		Extractor: extractor.New(fetcher, model, extractor.Config{
			Concurrency: cfg.Analysis.BatchConcurrency,
			Delay:       cfg.Analysis.BatchDelay,
		}, zapLogger.Named("extractor")),
		Inference:  inference.New(model, zapLogger.Named("inference")),
		Mapper:     mapper.New(tax, zapLogger.Named("mapper")),
		Capability: model,
	}, bodyimpact.Config{
		Selection: selector.Config{
			MaxReportAgeDays:    cfg.Analysis.MaxReportAgeDays,
			MaxReportsToScan:    cfg.Analysis.MaxReportsToScan,
			MaxParametersForGPT: cfg.Analysis.MaxParametersForGPT,
		},
		CacheMaxAgeDays: cfg.Analysis.CacheMaxAgeDays,
	}, zapLogger.Named("bodyimpact"))

	health := handlers.NewHealthHandler(map[string]handlers.ReadinessCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	return routes.Handlers{
		BodyImpact: handlers.NewBodyImpactHandler(service, profileRepo, cache, tax, zapLogger.Named("handlers")),
		Reports:    handlers.NewReportHandler(reportRepo, profileRepo, signer, dbBlobs, zapLogger.Named("handlers")),
		Profiles:   handlers.NewProfileHandler(profileRepo),
		Health:     health,
	}, nil
}
