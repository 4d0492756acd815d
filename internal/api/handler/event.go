package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nadia/gigradar/internal/api/middleware"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/service"
)

// EventHandler handles the materialized-event surface: listing, semantic
// search, and removal of mis-materialized events.
type EventHandler struct {
	events       *repository.EventRepository
	search       *service.SearchService
	materializer *service.MaterializerService
}

// NewEventHandler creates a new event handler.
func NewEventHandler(events *repository.EventRepository, search *service.SearchService, materializer *service.MaterializerService) *EventHandler {
	return &EventHandler{
		events:       events,
		search:       search,
		materializer: materializer,
	}
}

// ListEvents handles GET /api/v1/events.
func (h *EventHandler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	events, err := h.events.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// SearchEvents handles GET /api/v1/events/search. Semantic search over
// materialized events, mainly for spotting duplicates during curation.
func (h *EventHandler) SearchEvents(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respondError(c, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	hits, err := h.search.Search(c.Request.Context(), query, limit)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Event search failed")
		respondError(c, http.StatusInternalServerError, "search failed")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"hits": hits, "count": len(hits)})
}

// DeleteEvent handles DELETE /api/v1/events/:id. The source classification is
// reopened, so a corrected version can be materialized afterwards.
func (h *EventHandler) DeleteEvent(c *gin.Context) {
	eventID := c.Param("id")
	if err := h.materializer.UnmaterializeEvent(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "event not found")
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Failed to delete event")
		respondError(c, http.StatusInternalServerError, "failed to delete event")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"event_id": eventID})
}

// GetEvent handles GET /api/v1/events/:id.
func (h *EventHandler) GetEvent(c *gin.Context) {
	event, err := h.events.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "event not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load event")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"event": event})
}
