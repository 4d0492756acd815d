package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/repository"
)

// VenueHandler handles venue directory endpoints.
type VenueHandler struct {
	venues *repository.VenueRepository
}

// NewVenueHandler creates a new venue handler.
func NewVenueHandler(venues *repository.VenueRepository) *VenueHandler {
	return &VenueHandler{venues: venues}
}

// ListVenues handles GET /api/v1/venues.
func (h *VenueHandler) ListVenues(c *gin.Context) {
	venues, err := h.venues.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list venues")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"venues": venues, "count": len(venues)})
}

type createVenueRequest struct {
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	Lat           float64  `json:"lat"`
	Lng           float64  `json:"lng"`
	AltNames      []string `json:"alt_names"`
	SourceHandles []string `json:"source_handles"`
}

// CreateVenue handles POST /api/v1/venues. Adding a venue is also how stuck
// materializations recover: the next pipeline pass resolves against the
// extended directory.
func (h *VenueHandler) CreateVenue(c *gin.Context) {
	var req createVenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(c, http.StatusBadRequest, "name is required")
		return
	}

	venue := &domain.Venue{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(req.Name),
		Address:       req.Address,
		Lat:           req.Lat,
		Lng:           req.Lng,
		AltNames:      domain.StringArray(req.AltNames),
		SourceHandles: domain.StringArray(req.SourceHandles),
	}
	if err := h.venues.Create(c.Request.Context(), venue); err != nil {
		respondError(c, http.StatusConflict, "failed to create venue: "+err.Error())
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"venue": venue})
}
