package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadia/gigradar/internal/api"
	"github.com/nadia/gigradar/internal/api/middleware"
	"github.com/nadia/gigradar/internal/config"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/scheduler"
	"github.com/nadia/gigradar/internal/scraper"
	"github.com/nadia/gigradar/internal/service"
	"github.com/nadia/gigradar/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(logger.DefaultConfig())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	runRepo := repository.NewRunRepository(db)
	resultRepo := repository.NewResultRepository(db)
	classificationRepo := repository.NewClassificationRepository(db)
	venueRepo := repository.NewVenueRepository(db)
	eventRepo := repository.NewEventRepository(db)

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Embedding.Dimensions,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	ctx := context.Background()
	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}

	// Initialize storage (supports MinIO, R2, S3)
	blobs, err := storage.NewStorage(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	// Initialize the provider client and services
	provider := scraper.NewClient(&scraper.Config{
		BaseURL: cfg.Scraper.BaseURL,
		Token:   cfg.Scraper.Token,
		ActorID: cfg.Scraper.ActorID,
		Timeout: cfg.Scraper.Timeout,
	})

	triggerService := service.NewTriggerService(provider, runRepo, venueRepo, &service.TriggerServiceConfig{
		WebhookBaseURL: cfg.Scraper.WebhookBaseURL,
		LookbackWindow: cfg.Scraper.LookbackWindow,
	})

	ingestService := service.NewIngestService(provider, runRepo, resultRepo, &service.IngestServiceConfig{
		DatasetPageLimit: cfg.Pipeline.DatasetPageLimit,
	})

	visionService := service.NewVisionService(&service.VisionServiceConfig{
		APIKey:  cfg.Vision.APIKey,
		BaseURL: cfg.Vision.BaseURL,
	})
	classifierService := service.NewClassifierService(
		visionService, resultRepo, classificationRepo,
		service.ClassifierPolicy{
			Threshold:     cfg.Vision.Threshold,
			TriageModel:   cfg.Vision.TriageModel,
			EscalateModel: cfg.Vision.EscalateModel,
		},
		cfg.Pipeline.Workers,
	)

	embeddingService := service.NewEmbeddingService(&service.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
	})
	extractorService := service.NewExtractorService(&service.ExtractorConfig{
		BaseURL: cfg.Extractor.BaseURL,
		APIKey:  cfg.Extractor.APIKey,
		Model:   cfg.Extractor.Model,
	})
	materializerService := service.NewMaterializerService(
		classificationRepo, eventRepo, venueRepo,
		blobs, service.NewHTTPMediaFetcher(0), extractorService, embeddingService, qdrantRepo,
		cfg.Storage.SignedURLExpiry,
	)

	searchService := service.NewSearchService(embeddingService, qdrantRepo, eventRepo)

	pipelineService := service.NewPipelineService(runRepo, classifierService, materializerService, &service.PipelineConfig{
		ClaimBatchSize:  cfg.Pipeline.ClaimBatchSize,
		HealSampleSize:  cfg.Pipeline.HealSampleSize,
		StalenessWindow: cfg.Pipeline.StalenessWindow,
	})

	// Completed ingestions nudge the pipeline instead of waiting for the next tick.
	ingestService.SetPipelineKick(pipelineService.Kick)

	// Background scheduler
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(scheduler.Config{
			PollCron:     cfg.Scheduler.PollCron,
			PipelineCron: cfg.Scheduler.PipelineCron,
		}, func(ctx context.Context) error {
			_, err := ingestService.Poll(ctx, cfg.Pipeline.PollRunLimit)
			return err
		}, func(ctx context.Context) error {
			_, err := pipelineService.RunCycle(ctx)
			return err
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize scheduler")
		}
		sched.Start()
	}

	// HTTP server
	router := api.SetupRouter(&api.Dependencies{
		DB:              db,
		Log:             appLogger,
		Trigger:         triggerService,
		Ingest:          ingestService,
		Classifier:      classifierService,
		Materializer:    materializerService,
		Pipeline:        pipelineService,
		Search:          searchService,
		Runs:            runRepo,
		Results:         resultRepo,
		Classifications: classificationRepo,
		Venues:          venueRepo,
		Events:          eventRepo,
		PollRunLimit:    cfg.Pipeline.PollRunLimit,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithField("port", cfg.Server.Port).Info("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Forced shutdown")
	}
	appLogger.Info("Server stopped")
}
