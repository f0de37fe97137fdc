package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/askwhyharsh/safezone/internal/ingest"
	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/monitor"
	"github.com/askwhyharsh/safezone/internal/notify"
	"github.com/askwhyharsh/safezone/internal/ratelimit"
	"github.com/askwhyharsh/safezone/internal/safezone"
	"github.com/askwhyharsh/safezone/internal/session"
	"github.com/askwhyharsh/safezone/internal/sharing"
	"github.com/askwhyharsh/safezone/internal/sos"
	"github.com/askwhyharsh/safezone/internal/storage"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
	"github.com/askwhyharsh/safezone/pkg/validator"
)

// MonitorControl is satisfied by monitor.Registry.
type MonitorControl interface {
	Start(userID, displayName string) (*monitor.Monitor, bool)
	Stop(userID string) error
	Retry(userID string) error
	SetManualPosition(userID string, p location.Point) error
	DismissAlert(userID string) (bool, error)
	Status(userID string) (monitor.Status, error)
	LastPosition(userID string) (*location.Position, bool)
	EnableSharing(ctx context.Context, userID, displayName string, pos *location.Position) bool
	DisableSharing(ctx context.Context, userID, displayName string) bool
}

type FixIntake interface {
	SubmitFix(ctx context.Context, userID string, in ingest.FixInput) error
	SubmitError(userID string, in ingest.ErrorInput) location.ErrorCode
}

type SOSTrigger interface {
	Trigger(ctx context.Context, req sos.Request) (*sos.Result, error)
}

type ResponderFinder interface {
	Nearby(ctx context.Context, p location.Point, radiusMeters float64, excludeUserID string) ([]sharing.Responder, error)
}

type ReportScreener interface {
	ValidateReport(ctx context.Context, userID, title, description string) error
	ShouldBlock(ctx context.Context, userID string) (bool, string, error)
}

// Deps groups everything the HTTP handlers call into.
type Deps struct {
	Sessions           session.SessionService
	Limiter            ratelimit.RateLimiter
	Validator          validator.Validator
	Store              storage.Store
	Monitors           MonitorControl
	Intake             FixIntake
	SOS                SOSTrigger
	Responders         ResponderFinder
	Spam               ReportScreener
	DefaultCountryCode string
	NearbyRadiusMeters float64
	Logger             logger.Logger
}

type Handler struct {
	sessions     session.SessionService
	rateLimiter  ratelimit.RateLimiter
	validator    validator.Validator
	store        storage.Store
	monitors     MonitorControl
	intake       FixIntake
	sos          SOSTrigger
	responders   ResponderFinder
	spam         ReportScreener
	countryCode  string
	nearbyRadius float64
	logger       logger.Logger
}

type SessionRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type ZoneRequest struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters *float64 `json:"radius_meters"`
	RadiusKm     *float64 `json:"radius_km"`
}

type ZoneResponse struct {
	safezone.Zone
	RadiusKm float64 `json:"radius_km"`
}

type ContactRequest struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	Relationship string `json:"relationship"`
}

type PointRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	return &Handler{
		sessions:     d.Sessions,
		rateLimiter:  d.Limiter,
		validator:    d.Validator,
		store:        d.Store,
		monitors:     d.Monitors,
		intake:       d.Intake,
		sos:          d.SOS,
		responders:   d.Responders,
		spam:         d.Spam,
		countryCode:  d.DefaultCountryCode,
		nearbyRadius: d.NearbyRadiusMeters,
		logger:       d.Logger,
	}
}

func currentSession(c *gin.Context) *session.Session {
	s, _ := session.FromContext(c)
	return s
}

// POST /api/session/create
func (h *Handler) CreateSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse("user_id is required", "INVALID_REQUEST"))
		return
	}

	ip := c.ClientIP()
	allowed, err := h.rateLimiter.AllowSessionCreation(c, ip)
	if err != nil || !allowed {
		c.JSON(http.StatusTooManyRequests, ErrorResponse("Rate limit exceeded", "RATE_LIMIT"))
		return
	}

	sess, err := h.sessions.Create(c, strings.TrimSpace(req.UserID), strings.TrimSpace(req.DisplayName), ip)
	if err != nil {
		h.logger.Error("Failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse("Failed to create session", "INTERNAL_ERROR"))
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse(sess))
}

// DELETE /api/session
// Ends the caller's session; the monitor stops with the user's last session.
func (h *Handler) EndSession(c *gin.Context) {
	sess := currentSession(c)
	if err := h.sessions.Delete(c, sess.ID); err != nil {
		respondError(c, err)
		return
	}

	remaining, err := h.sessions.ActiveSessions(c, sess.UserID)
	if err != nil {
		h.logger.Warn("Failed to count sessions", "user_id", sess.UserID, "error", err)
	} else if remaining == 0 {
		if err := h.monitors.Stop(sess.UserID); err != nil && !errors.Is(err, apperrors.ErrMonitorNotRunning) {
			h.logger.Warn("Failed to stop monitor", "user_id", sess.UserID, "error", err)
		}
	}

	c.JSON(http.StatusOK, SuccessResponse(gin.H{"ended": true}))
}

// GET /api/zones
func (h *Handler) ListZones(c *gin.Context) {
	zones, err := h.store.ListZones(c, currentSession(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]ZoneResponse, 0, len(zones))
	for _, z := range zones {
		out = append(out, ZoneResponse{Zone: z, RadiusKm: z.RadiusKm()})
	}
	c.JSON(http.StatusOK, SuccessResponse(out))
}

// POST /api/zones
func (h *Handler) CreateZone(c *gin.Context) {
	var req ZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}

	zone := safezone.Zone{
		ID:        uuid.NewString(),
		OwnerID:   currentSession(c).UserID,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.applyZone(&zone, req, true); err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.CreateZone(c, &zone); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse(ZoneResponse{Zone: zone, RadiusKm: zone.RadiusKm()}))
}

// PUT /api/zones/:id
func (h *Handler) UpdateZone(c *gin.Context) {
	var req ZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}

	zone, err := h.store.GetZone(c, currentSession(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.applyZone(zone, req, false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.UpdateZone(c, zone); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse(ZoneResponse{Zone: *zone, RadiusKm: zone.RadiusKm()}))
}

// DELETE /api/zones/:id
func (h *Handler) DeleteZone(c *gin.Context) {
	if err := h.store.DeleteZone(c, currentSession(c).UserID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(gin.H{"deleted": true}))
}

// applyZone copies the request onto z. On create every geometric field is
// required; on update absent fields keep their value. radius_meters wins
// over radius_km when both are sent.
func (h *Handler) applyZone(z *safezone.Zone, req ZoneRequest, create bool) error {
	if create || req.Name != "" {
		if err := h.validator.ValidateZoneName(req.Name); err != nil {
			return err
		}
		z.Name = strings.TrimSpace(req.Name)
	}
	if req.Address != "" {
		z.Address = strings.TrimSpace(req.Address)
	}

	if (req.Latitude == nil) != (req.Longitude == nil) {
		return apperrors.ErrInvalidCoordinates
	}
	if req.Latitude != nil {
		if err := h.validator.ValidateCoordinates(*req.Latitude, *req.Longitude); err != nil {
			return err
		}
		z.Center = &location.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	} else if create {
		return apperrors.ErrInvalidCoordinates
	}

	var radius *float64
	switch {
	case req.RadiusMeters != nil:
		radius = req.RadiusMeters
	case req.RadiusKm != nil:
		m := location.KmToMeters(*req.RadiusKm)
		radius = &m
	}
	if radius != nil {
		if err := h.validator.ValidateRadiusMeters(*radius); err != nil {
			return err
		}
		z.RadiusMeters = *radius
	} else if create {
		return apperrors.ErrInvalidRadius
	}

	return z.Validate()
}

// GET /api/contacts
func (h *Handler) ListContacts(c *gin.Context) {
	contacts, err := h.store.ListContacts(c, currentSession(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if contacts == nil {
		contacts = []storage.Contact{}
	}
	c.JSON(http.StatusOK, SuccessResponse(contacts))
}

// POST /api/contacts
func (h *Handler) CreateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}
	if err := h.validator.ValidateContactName(req.Name); err != nil {
		respondError(c, err)
		return
	}

	phone, err := notify.NormalizePhone(req.PhoneNumber, h.countryCode)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.validator.ValidatePhone(phone); err != nil {
		respondError(c, err)
		return
	}

	contact := storage.Contact{
		ID:           uuid.NewString(),
		UserID:       currentSession(c).UserID,
		Name:         strings.TrimSpace(req.Name),
		PhoneNumber:  phone,
		Relationship: strings.TrimSpace(req.Relationship),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.CreateContact(c, &contact); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse(contact))
}

// DELETE /api/contacts/:id
func (h *Handler) DeleteContact(c *gin.Context) {
	if err := h.store.DeleteContact(c, currentSession(c).UserID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(gin.H{"deleted": true}))
}

// POST /api/monitor/start
func (h *Handler) StartMonitor(c *gin.Context) {
	sess := currentSession(c)
	_, started := h.monitors.Start(sess.UserID, sess.DisplayName)
	status, err := h.monitors.Status(sess.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	code := http.StatusOK
	if started {
		code = http.StatusCreated
	}
	c.JSON(code, SuccessResponse(status))
}

// POST /api/monitor/stop
func (h *Handler) StopMonitor(c *gin.Context) {
	if err := h.monitors.Stop(currentSession(c).UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(gin.H{"stopped": true}))
}

// POST /api/monitor/retry
func (h *Handler) RetryMonitor(c *gin.Context) {
	userID := currentSession(c).UserID
	if err := h.monitors.Retry(userID); err != nil {
		respondError(c, err)
		return
	}
	h.respondStatus(c, userID)
}

// POST /api/monitor/manual
func (h *Handler) SetManualPosition(c *gin.Context) {
	var req PointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}
	if err := h.validator.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
		respondError(c, err)
		return
	}

	userID := currentSession(c).UserID
	if err := h.monitors.SetManualPosition(userID, location.Point{Lat: req.Latitude, Lng: req.Longitude}); err != nil {
		respondError(c, err)
		return
	}
	h.respondStatus(c, userID)
}

// GET /api/monitor/status
func (h *Handler) MonitorStatus(c *gin.Context) {
	h.respondStatus(c, currentSession(c).UserID)
}

// POST /api/monitor/alert/dismiss
func (h *Handler) DismissAlert(c *gin.Context) {
	dismissed, err := h.monitors.DismissAlert(currentSession(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(gin.H{"dismissed": dismissed}))
}

func (h *Handler) respondStatus(c *gin.Context, userID string) {
	status, err := h.monitors.Status(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(status))
}

// POST /api/location/fix
func (h *Handler) SubmitFix(c *gin.Context) {
	var req ingest.FixInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}
	if err := h.intake.SubmitFix(c, currentSession(c).UserID, req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SuccessResponse(gin.H{"accepted": true}))
}

// POST /api/location/error
func (h *Handler) SubmitGeoError(c *gin.Context) {
	var req ingest.ErrorInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}
	code := h.intake.SubmitError(currentSession(c).UserID, req)
	c.JSON(http.StatusAccepted, SuccessResponse(gin.H{"code": code.String(), "message": code.Message()}))
}

// POST /api/sharing/enable
func (h *Handler) EnableSharing(c *gin.Context) {
	sess := currentSession(c)
	pos, _ := h.monitors.LastPosition(sess.UserID)
	changed := h.monitors.EnableSharing(c, sess.UserID, sess.DisplayName, pos)
	c.JSON(http.StatusOK, SuccessResponse(gin.H{"sharing": true, "changed": changed}))
}

// POST /api/sharing/disable
func (h *Handler) DisableSharing(c *gin.Context) {
	sess := currentSession(c)
	changed := h.monitors.DisableSharing(c, sess.UserID, sess.DisplayName)
	c.JSON(http.StatusOK, SuccessResponse(gin.H{"sharing": false, "changed": changed}))
}

// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{"status": "healthy", "timestamp": time.Now().Unix()}
	if h.store != nil {
		if err := h.store.Ping(c); err != nil {
			h.logger.Warn("Database health check failed", "error", err)
			resp["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}
