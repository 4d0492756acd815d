package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nadia/gigradar/internal/config"
	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/scraper"
	"github.com/nadia/gigradar/internal/service"
	"github.com/nadia/gigradar/internal/storage"
)

// The pipeline CLI runs one operation and exits. It shares the API server's
// database, so it doubles as the recovery tool when a run is stuck: -op cycle
// heals and drains, -op classify / -op materialize target one run.
func main() {
	var (
		op      = flag.String("op", "cycle", "operation: trigger, poll, cycle, classify, materialize")
		runID   = flag.String("run", "", "run id for classify/materialize")
		targets = flag.String("targets", "", "comma-separated scrape targets for trigger (default: venue source handles)")
		kind    = flag.String("kind", "posts", "scrape kind for trigger: posts or stories")
		limit   = flag.Int("limit", 0, "max runs per poll sweep (default from config)")
	)
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(logger.DefaultConfig())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	runRepo := repository.NewRunRepository(db)
	resultRepo := repository.NewResultRepository(db)
	classificationRepo := repository.NewClassificationRepository(db)
	venueRepo := repository.NewVenueRepository(db)
	eventRepo := repository.NewEventRepository(db)

	provider := scraper.NewClient(&scraper.Config{
		BaseURL: cfg.Scraper.BaseURL,
		Token:   cfg.Scraper.Token,
		ActorID: cfg.Scraper.ActorID,
		Timeout: cfg.Scraper.Timeout,
	})

	ctx := context.Background()

	switch *op {
	case "trigger":
		triggerService := service.NewTriggerService(provider, runRepo, venueRepo, &service.TriggerServiceConfig{
			WebhookBaseURL: cfg.Scraper.WebhookBaseURL,
			LookbackWindow: cfg.Scraper.LookbackWindow,
		})
		var targetList []string
		if *targets != "" {
			targetList = strings.Split(*targets, ",")
		}
		run, err := triggerService.StartScrape(ctx, targetList, domain.RunKind(*kind))
		if err != nil {
			appLogger.WithError(err).Fatal("Trigger failed")
		}
		printJSON(run)

	case "poll":
		ingestService := service.NewIngestService(provider, runRepo, resultRepo, &service.IngestServiceConfig{
			DatasetPageLimit: cfg.Pipeline.DatasetPageLimit,
		})
		runLimit := *limit
		if runLimit <= 0 {
			runLimit = cfg.Pipeline.PollRunLimit
		}
		pollLog, err := ingestService.Poll(ctx, runLimit)
		if err != nil {
			appLogger.WithError(err).Fatal("Poll sweep failed")
		}
		printJSON(pollLog)

	case "cycle", "classify", "materialize":
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
		if err := qdrantRepo.EnsureCollection(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
		}

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
		materializerService := service.NewMaterializerService(
			classificationRepo, eventRepo, venueRepo,
			blobs, service.NewHTTPMediaFetcher(0),
			service.NewExtractorService(&service.ExtractorConfig{
				BaseURL: cfg.Extractor.BaseURL,
				APIKey:  cfg.Extractor.APIKey,
				Model:   cfg.Extractor.Model,
			}),
			service.NewEmbeddingService(&service.EmbeddingConfig{
				Provider:   cfg.Embedding.Provider,
				Model:      cfg.Embedding.Model,
				APIKey:     cfg.Embedding.APIKey,
				Dimensions: cfg.Embedding.Dimensions,
			}),
			qdrantRepo,
			cfg.Storage.SignedURLExpiry,
		)

		switch *op {
		case "cycle":
			pipelineService := service.NewPipelineService(runRepo, classifierService, materializerService, &service.PipelineConfig{
				ClaimBatchSize:  cfg.Pipeline.ClaimBatchSize,
				HealSampleSize:  cfg.Pipeline.HealSampleSize,
				StalenessWindow: cfg.Pipeline.StalenessWindow,
			})
			stats, err := pipelineService.RunCycle(ctx)
			if err != nil {
				appLogger.WithError(err).Fatal("Pipeline cycle failed")
			}
			printJSON(stats)
		case "classify":
			requireRunID(*runID)
			stats, err := classifierService.ClassifyRun(ctx, *runID)
			if err != nil {
				appLogger.WithError(err).Fatal("Classification failed")
			}
			printJSON(stats)
		case "materialize":
			requireRunID(*runID)
			stats, err := materializerService.MaterializeRun(ctx, *runID)
			if err != nil {
				appLogger.WithError(err).Fatal("Materialization failed")
			}
			printJSON(stats)
		}

	default:
		log.Fatalf("unknown operation %q", *op)
	}
}

func requireRunID(runID string) {
	if runID == "" {
		log.Fatal("-run is required for this operation")
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
