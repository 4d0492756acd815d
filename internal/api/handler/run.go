package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nadia/gigradar/internal/api/middleware"
	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/service"
)

// RunHandler handles scrape run endpoints: triggering, inspection, and the
// explicit per-run pipeline operations.
type RunHandler struct {
	trigger         *service.TriggerService
	classifier      *service.ClassifierService
	materializer    *service.MaterializerService
	runs            *repository.RunRepository
	results         *repository.ResultRepository
	classifications *repository.ClassificationRepository
	events          *repository.EventRepository
}

// NewRunHandler creates a new run handler.
func NewRunHandler(
	trigger *service.TriggerService,
	classifier *service.ClassifierService,
	materializer *service.MaterializerService,
	runs *repository.RunRepository,
	results *repository.ResultRepository,
	classifications *repository.ClassificationRepository,
	events *repository.EventRepository,
) *RunHandler {
	return &RunHandler{
		trigger:         trigger,
		classifier:      classifier,
		materializer:    materializer,
		runs:            runs,
		results:         results,
		classifications: classifications,
		events:          events,
	}
}

type startRunRequest struct {
	Targets []string `json:"targets"`
	Kind    string   `json:"kind"`
}

// StartRun handles POST /api/v1/runs.
func (h *RunHandler) StartRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	kind := domain.RunKind(req.Kind)
	switch kind {
	case "", domain.RunKindPosts, domain.RunKindStories:
	default:
		respondError(c, http.StatusBadRequest, "kind must be posts or stories")
		return
	}

	run, err := h.trigger.StartScrape(c.Request.Context(), req.Targets, kind)
	if err != nil {
		if errors.Is(err, service.ErrNoTargets) {
			respondError(c, http.StatusBadRequest, "no targets given and no venue source handles configured")
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Failed to start scrape run")
		respondError(c, http.StatusBadGateway, "scrape provider rejected the run")
		return
	}

	respondOK(c, http.StatusAccepted, gin.H{"run": run})
}

// ListRuns handles GET /api/v1/runs.
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	runs, err := h.runs.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun handles GET /api/v1/runs/:id.
func (h *RunHandler) GetRun(c *gin.Context) {
	runID := c.Param("id")
	run, err := h.runs.GetByID(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "run not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load run")
		return
	}

	classified, _ := h.classifications.CountByRun(c.Request.Context(), runID)
	eventCount, _ := h.events.CountByRun(c.Request.Context(), runID)

	respondOK(c, http.StatusOK, gin.H{
		"run":         run,
		"classified":  classified,
		"event_count": eventCount,
	})
}

// GetRunResults handles GET /api/v1/runs/:id/results.
func (h *RunHandler) GetRunResults(c *gin.Context) {
	result, err := h.results.GetByRunID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "no results cached for run")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load results")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"result": result})
}

// GetRunClassifications handles GET /api/v1/runs/:id/classifications.
func (h *RunHandler) GetRunClassifications(c *gin.Context) {
	list, err := h.classifications.ListByRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list classifications")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"classifications": list, "count": len(list)})
}

// GetRunEvents handles GET /api/v1/runs/:id/events.
func (h *RunHandler) GetRunEvents(c *gin.Context) {
	events, err := h.events.ListByRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ClassifyRun handles POST /api/v1/runs/:id/classify.
func (h *RunHandler) ClassifyRun(c *gin.Context) {
	stats, err := h.classifier.ClassifyRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrResultsNotFound) {
			respondError(c, http.StatusNotFound, "no results cached for run")
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Manual classification failed")
		respondError(c, http.StatusInternalServerError, "classification failed")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"stats": stats})
}

// MaterializeRun handles POST /api/v1/runs/:id/materialize.
func (h *RunHandler) MaterializeRun(c *gin.Context) {
	stats, err := h.materializer.MaterializeRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Manual materialization failed")
		respondError(c, http.StatusInternalServerError, "materialization failed")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"stats": stats})
}

// PurgeRun handles DELETE /api/v1/runs/:id. It removes the run row, its cached
// results, and its classification records. Materialized events are kept; they
// are the terminal artifact and carry their own provenance.
func (h *RunHandler) PurgeRun(c *gin.Context) {
	runID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.runs.GetByID(ctx, runID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "run not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load run")
		return
	}

	list, err := h.classifications.ListByRun(ctx, runID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list classifications")
		return
	}
	for i := range list {
		if err := h.classifications.Delete(ctx, runID, list[i].ItemID); err != nil {
			respondError(c, http.StatusInternalServerError, "failed to purge classifications")
			return
		}
	}
	if err := h.results.Delete(ctx, runID); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to purge results")
		return
	}
	if err := h.runs.Delete(ctx, runID); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to purge run")
		return
	}

	middleware.GetLogger(c).WithField("run_id", runID).Info("Run purged")
	respondOK(c, http.StatusOK, gin.H{"run_id": runID})
}

// ReclassifyItem handles POST /api/v1/runs/:id/items/:item_id/reclassify. It
// forces a fresh strong-model verdict, overwriting the stored record.
func (h *RunHandler) ReclassifyItem(c *gin.Context) {
	record, err := h.classifier.Reclassify(c.Request.Context(), c.Param("id"), c.Param("item_id"))
	if err != nil {
		if errors.Is(err, service.ErrResultsNotFound) {
			respondError(c, http.StatusNotFound, "no results cached for run")
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Reclassification failed")
		respondError(c, http.StatusInternalServerError, "reclassification failed")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"classification": record})
}
