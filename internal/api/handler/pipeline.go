package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nadia/gigradar/internal/api/middleware"
	"github.com/nadia/gigradar/internal/service"
)

// PipelineHandler exposes the background sweeps as explicit admin operations.
type PipelineHandler struct {
	ingest       *service.IngestService
	pipeline     *service.PipelineService
	pollRunLimit int
}

// NewPipelineHandler creates a new pipeline handler.
func NewPipelineHandler(ingest *service.IngestService, pipeline *service.PipelineService, pollRunLimit int) *PipelineHandler {
	if pollRunLimit <= 0 {
		pollRunLimit = 25
	}
	return &PipelineHandler{
		ingest:       ingest,
		pipeline:     pipeline,
		pollRunLimit: pollRunLimit,
	}
}

// Poll handles POST /api/v1/poll, one on-demand completion reconciliation sweep.
func (h *PipelineHandler) Poll(c *gin.Context) {
	pollLog, err := h.ingest.Poll(c.Request.Context(), h.pollRunLimit)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Manual poll sweep failed")
		respondError(c, http.StatusInternalServerError, "poll sweep failed")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"poll": pollLog})
}

// Cycle handles POST /api/v1/pipeline/cycle, one on-demand pipeline cycle.
func (h *PipelineHandler) Cycle(c *gin.Context) {
	stats, err := h.pipeline.RunCycle(c.Request.Context())
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Manual pipeline cycle failed")
		respondError(c, http.StatusInternalServerError, "pipeline cycle failed")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"stats": stats})
}
