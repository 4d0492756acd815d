package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nadia/gigradar/internal/api/middleware"
	"github.com/nadia/gigradar/internal/service"
)

// WebhookHandler receives completion callbacks from the scrape provider.
type WebhookHandler struct {
	ingest *service.IngestService
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(ingest *service.IngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

// scrapeWebhookPayload is the provider's callback body. The run is identified by
// the run_id query parameter baked into the webhook URL at registration; the
// body only carries the terminal status.
type scrapeWebhookPayload struct {
	EventType string `json:"eventType"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"resource"`
}

// HandleScrapeCompletion handles POST /webhooks/scrape.
func (h *WebhookHandler) HandleScrapeCompletion(c *gin.Context) {
	runID := c.Query("run_id")
	if runID == "" {
		respondError(c, http.StatusBadRequest, "run_id query parameter is required")
		return
	}

	var payload scrapeWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid webhook payload: "+err.Error())
		return
	}

	status := payload.Resource.Status
	if status == "" {
		// Older webhook format carries only the event type.
		status = strings.TrimPrefix(payload.EventType, "ACTOR.RUN.")
		status = strings.ReplaceAll(status, "_", "-")
	}
	if status == "" {
		respondError(c, http.StatusBadRequest, "webhook payload carries no run status")
		return
	}

	if err := h.ingest.HandleCompletion(c.Request.Context(), runID, status); err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			respondError(c, http.StatusNotFound, "unknown run: "+runID)
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Webhook ingestion failed")
		respondError(c, http.StatusInternalServerError, "failed to ingest run completion")
		return
	}

	respondOK(c, http.StatusOK, gin.H{"run_id": runID})
}
