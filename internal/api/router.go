package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nadia/gigradar/internal/api/handler"
	"github.com/nadia/gigradar/internal/api/middleware"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/service"
)

// Dependencies bundles everything the router wires into handlers.
type Dependencies struct {
	DB              *gorm.DB
	Log             *logger.Logger
	Trigger         *service.TriggerService
	Ingest          *service.IngestService
	Classifier      *service.ClassifierService
	Materializer    *service.MaterializerService
	Pipeline        *service.PipelineService
	Search          *service.SearchService
	Runs            *repository.RunRepository
	Results         *repository.ResultRepository
	Classifications *repository.ClassificationRepository
	Venues          *repository.VenueRepository
	Events          *repository.EventRepository
	PollRunLimit    int
	CORS            middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *Dependencies, mode string) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Log))
	r.Use(middleware.CORS(deps.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.DB)
	webhookHandler := handler.NewWebhookHandler(deps.Ingest)
	runHandler := handler.NewRunHandler(
		deps.Trigger, deps.Classifier, deps.Materializer,
		deps.Runs, deps.Results, deps.Classifications, deps.Events,
	)
	pipelineHandler := handler.NewPipelineHandler(deps.Ingest, deps.Pipeline, deps.PollRunLimit)
	venueHandler := handler.NewVenueHandler(deps.Venues)
	eventHandler := handler.NewEventHandler(deps.Events, deps.Search, deps.Materializer)

	// Health check
	r.GET("/health", healthHandler.Health)

	// Provider callbacks
	r.POST("/webhooks/scrape", webhookHandler.HandleScrapeCompletion)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Runs
		v1.POST("/runs", runHandler.StartRun)
		v1.GET("/runs", runHandler.ListRuns)
		v1.GET("/runs/:id", runHandler.GetRun)
		v1.GET("/runs/:id/results", runHandler.GetRunResults)
		v1.GET("/runs/:id/classifications", runHandler.GetRunClassifications)
		v1.GET("/runs/:id/events", runHandler.GetRunEvents)
		v1.POST("/runs/:id/classify", runHandler.ClassifyRun)
		v1.POST("/runs/:id/materialize", runHandler.MaterializeRun)
		v1.POST("/runs/:id/items/:item_id/reclassify", runHandler.ReclassifyItem)
		v1.DELETE("/runs/:id", runHandler.PurgeRun)

		// Background sweeps, on demand
		v1.POST("/poll", pipelineHandler.Poll)
		v1.POST("/pipeline/cycle", pipelineHandler.Cycle)

		// Venues
		v1.GET("/venues", venueHandler.ListVenues)
		v1.POST("/venues", venueHandler.CreateVenue)

		// Events
		v1.GET("/events", eventHandler.ListEvents)
		v1.GET("/events/search", eventHandler.SearchEvents)
		v1.GET("/events/:id", eventHandler.GetEvent)
		v1.DELETE("/events/:id", eventHandler.DeleteEvent)
	}

	return r
}
