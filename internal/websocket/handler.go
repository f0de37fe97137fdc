package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/askwhyharsh/safezone/internal/ingest"
	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/monitor"
	"github.com/askwhyharsh/safezone/internal/session"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*session.Session, error)
}

type FixIntake interface {
	SubmitFix(ctx context.Context, userID string, in ingest.FixInput) error
	SubmitError(userID string, in ingest.ErrorInput) location.ErrorCode
}

type StatusSource interface {
	Status(userID string) (monitor.Status, error)
}

type Handler struct {
	hub      *Hub
	sessions SessionValidator
	intake   FixIntake
	statuses StatusSource
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHandler builds the websocket endpoint. An empty allowedOrigins list
// (or "*") accepts any origin.
func NewHandler(hub *Hub, sessions SessionValidator, intake FixIntake, statuses StatusSource, allowedOrigins []string, log logger.Logger) *Handler {
	return &Handler{
		hub:      hub,
		sessions: sessions,
		intake:   intake,
		statuses: statuses,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: log,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// GET /ws?session_id=...
func (h *Handler) HandleWebSocket(c *gin.Context) {
	sessionID := session.IDFromRequest(c)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}

	sess, err := h.sessions.ValidateSession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := NewClient(h.hub, conn, sess.UserID, sessionID, h, h.logger)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	if h.statuses != nil {
		if status, err := h.statuses.Status(sess.UserID); err == nil {
			client.Reply(&Message{Type: MessageTypeStatus, Data: status, Timestamp: time.Now().UnixMilli()})
		}
	}

	go client.WritePump()
	client.ReadPump()
}

func (h *Handler) handleIncoming(client *Client, msg *IncomingMessage) {
	ctx := client.ctx

	switch msg.Type {
	case MessageTypeFix:
		err := h.intake.SubmitFix(ctx, client.userID, ingest.FixInput{
			Latitude:  msg.Latitude,
			Longitude: msg.Longitude,
			Accuracy:  msg.Accuracy,
			Timestamp: msg.Timestamp,
		})
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrRateLimitExceeded):
			client.Reply(NewErrorMessage("Too many location updates", "RATE_LIMIT"))
		case errors.Is(err, apperrors.ErrInvalidCoordinates):
			client.Reply(NewErrorMessage(err.Error(), "INVALID_COORDINATES"))
		case errors.Is(err, apperrors.ErrMonitorNotRunning):
			client.Reply(NewErrorMessage("Start monitoring before sending locations", "MONITOR_NOT_RUNNING"))
		default:
			h.logger.Error("Failed to accept fix", "user_id", client.userID, "error", err)
			client.Reply(NewErrorMessage("Failed to accept location", "INTERNAL_ERROR"))
		}

	case MessageTypeGeoError:
		h.intake.SubmitError(client.userID, ingest.ErrorInput{Code: msg.Code})

	case MessageTypePing:
		// Long-lived sockets keep their session alive through pings.
		if _, err := h.sessions.ValidateSession(ctx, client.sessionID); err != nil {
			client.Reply(NewErrorMessage("Session expired", "SESSION_EXPIRED"))
			client.Close()
			return
		}
		client.Reply(&Message{Type: MessageTypePong, Timestamp: time.Now().UnixMilli()})

	default:
		client.Reply(NewErrorMessage(apperrors.ErrInvalidMessageType.Error(), "INVALID_MESSAGE_TYPE"))
	}
}
