package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/sharing"
	"github.com/askwhyharsh/safezone/internal/sos"
	"github.com/askwhyharsh/safezone/internal/spam"
	"github.com/askwhyharsh/safezone/internal/storage"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

const (
	defaultIncidentLimit = 50
	defaultCategory      = "other"
	defaultSeverity      = "medium"
)

type SOSRequest struct {
	Message   string   `json:"message"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type IncidentRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// POST /api/sos
func (h *Handler) TriggerSOS(c *gin.Context) {
	var req SOSRequest
	// An empty body is a plain button press.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
			return
		}
	}

	sess := currentSession(c)
	allowed, err := h.rateLimiter.AllowSOS(c, sess.UserID)
	if err != nil {
		h.logger.Warn("SOS rate limit check failed", "user_id", sess.UserID, "error", err)
	} else if !allowed {
		c.JSON(http.StatusTooManyRequests, ErrorResponse("Too many SOS alerts, please wait", "RATE_LIMIT"))
		return
	}

	sosReq := sos.Request{
		UserID:      sess.UserID,
		DisplayName: sess.DisplayName,
		Message:     strings.TrimSpace(req.Message),
	}
	pos, err := h.optionalPoint(req.Latitude, req.Longitude)
	if err != nil {
		respondError(c, err)
		return
	}
	sosReq.Position = pos

	res, err := h.sos.Trigger(c, sosReq)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("SOS triggered", "user_id", sess.UserID, "sent", res.Sent, "failed", res.Failed)
	c.JSON(http.StatusOK, SuccessResponse(res))
}

// POST /api/incidents
func (h *Handler) CreateIncident(c *gin.Context) {
	var req IncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}

	userID := currentSession(c).UserID
	blocked, reason, err := h.spam.ShouldBlock(c, userID)
	if err != nil {
		h.logger.Warn("Failed to check spam block", "user_id", userID, "error", err)
	} else if blocked {
		c.JSON(http.StatusForbidden, ErrorResponse("Reporting disabled: "+reason, "USER_BLOCKED"))
		return
	}

	allowed, err := h.rateLimiter.AllowReport(c, userID)
	if err != nil || !allowed {
		c.JSON(http.StatusTooManyRequests, ErrorResponse("Too many reports, please wait", "RATE_LIMIT"))
		return
	}

	if req.Severity == "" {
		req.Severity = defaultSeverity
	}
	if req.Category == "" {
		req.Category = defaultCategory
	}
	if err := h.validator.ValidateIncident(req.Title, req.Description); err != nil {
		respondError(c, err)
		return
	}
	if err := h.validator.ValidateSeverity(req.Severity); err != nil {
		respondError(c, err)
		return
	}
	point, err := h.optionalPoint(req.Latitude, req.Longitude)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.spam.ValidateReport(c, userID, req.Title, req.Description); err != nil {
		respondError(c, err)
		return
	}

	incident := storage.Incident{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		Severity:    req.Severity,
		Status:      storage.IncidentStatusPending,
		Location:    point,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreateIncident(c, &incident); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse(incident))
}

// GET /api/incidents
func (h *Handler) ListIncidents(c *gin.Context) {
	incidents, err := h.store.ListIncidentsByUser(c, currentSession(c).UserID, queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if incidents == nil {
		incidents = []storage.Incident{}
	}
	c.JSON(http.StatusOK, SuccessResponse(incidents))
}

// GET /api/incidents/nearby?latitude=..&longitude=..&radius=..
// Other users' reports are shown without their author and with contact
// details stripped from the text.
func (h *Handler) NearbyIncidents(c *gin.Context) {
	p, radius, ok := h.nearbyQuery(c)
	if !ok {
		return
	}

	incidents, err := h.store.ListIncidentsNear(c, p, radius, queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]storage.Incident, 0, len(incidents))
	for _, inc := range incidents {
		inc.UserID = ""
		inc.Description = spam.SanitizeReport(inc.Description)
		out = append(out, inc)
	}
	c.JSON(http.StatusOK, SuccessResponse(out))
}

// GET /api/responders/nearby?latitude=..&longitude=..&radius=..
func (h *Handler) NearbyResponders(c *gin.Context) {
	p, radius, ok := h.nearbyQuery(c)
	if !ok {
		return
	}

	responders, err := h.responders.Nearby(c, p, radius, currentSession(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if responders == nil {
		responders = []sharing.Responder{}
	}
	c.JSON(http.StatusOK, SuccessResponse(gin.H{"responders": responders, "count": len(responders)}))
}

// nearbyQuery reads a center and radius from the query string. Without
// coordinates it falls back to the caller's last known position.
func (h *Handler) nearbyQuery(c *gin.Context) (location.Point, float64, bool) {
	radius := h.nearbyRadius
	if r := c.Query("radius"); r != "" {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse("Invalid radius", "INVALID_RADIUS"))
			return location.Point{}, 0, false
		}
		if err := h.validator.ValidateRadiusMeters(v); err != nil {
			respondError(c, err)
			return location.Point{}, 0, false
		}
		radius = v
	}

	latStr, lngStr := c.Query("latitude"), c.Query("longitude")
	if latStr == "" && lngStr == "" {
		pos, ok := h.monitors.LastPosition(currentSession(c).UserID)
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse("Location unavailable", "LOCATION_REQUIRED"))
			return location.Point{}, 0, false
		}
		return pos.Point, radius, true
	}

	lat, errLat := strconv.ParseFloat(latStr, 64)
	lng, errLng := strconv.ParseFloat(lngStr, 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid coordinates", "INVALID_COORDINATES"))
		return location.Point{}, 0, false
	}
	if err := h.validator.ValidateCoordinates(lat, lng); err != nil {
		respondError(c, err)
		return location.Point{}, 0, false
	}
	return location.Point{Lat: lat, Lng: lng}, radius, true
}

func (h *Handler) optionalPoint(lat, lng *float64) (*location.Point, error) {
	if lat == nil && lng == nil {
		return nil, nil
	}
	if lat == nil || lng == nil {
		return nil, apperrors.ErrInvalidCoordinates
	}
	if err := h.validator.ValidateCoordinates(*lat, *lng); err != nil {
		return nil, err
	}
	return &location.Point{Lat: *lat, Lng: *lng}, nil
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultIncidentLimit
	}
	return limit
}
