package api

import (
	"github.com/gin-gonic/gin"

	"github.com/askwhyharsh/safezone/internal/ratelimit"
	"github.com/askwhyharsh/safezone/internal/session"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

type WebSocketHandler interface {
	HandleWebSocket(c *gin.Context)
}

func SetupRoutes(r *gin.Engine, handler *Handler, wsHandler WebSocketHandler, rlMiddleware *ratelimit.Middleware, sessions session.Validator, allowedOrigins []string, log logger.Logger) {
	// Apply global middleware
	r.Use(RecoveryMiddleware(log))
	r.Use(CORSMiddleware(allowedOrigins))
	r.Use(RequestTimeMiddleware())
	r.Use(LoggingMiddleware(log))

	api := r.Group("/api")
	{
		// Health check (no rate limit)
		api.GET("/health", handler.Health)

		limited := api.Group("", rlMiddleware.IPRateLimit())
		limited.POST("/session/create", handler.CreateSession)

		authed := limited.Group("", session.RequireSession(sessions))
		{
			authed.DELETE("/session", handler.EndSession)

			zones := authed.Group("/zones")
			{
				zones.GET("", handler.ListZones)
				zones.POST("", handler.CreateZone)
				zones.PUT("/:id", handler.UpdateZone)
				zones.DELETE("/:id", handler.DeleteZone)
			}

			contacts := authed.Group("/contacts")
			{
				contacts.GET("", handler.ListContacts)
				contacts.POST("", handler.CreateContact)
				contacts.DELETE("/:id", handler.DeleteContact)
			}

			mon := authed.Group("/monitor")
			{
				mon.POST("/start", handler.StartMonitor)
				mon.POST("/stop", handler.StopMonitor)
				mon.POST("/retry", handler.RetryMonitor)
				mon.POST("/manual", handler.SetManualPosition)
				mon.GET("/status", handler.MonitorStatus)
				mon.POST("/alert/dismiss", handler.DismissAlert)
			}

			loc := authed.Group("/location")
			{
				loc.POST("/fix", handler.SubmitFix)
				loc.POST("/error", handler.SubmitGeoError)
			}

			share := authed.Group("/sharing")
			{
				share.POST("/enable", handler.EnableSharing)
				share.POST("/disable", handler.DisableSharing)
			}

			authed.POST("/sos", handler.TriggerSOS)

			authed.POST("/incidents", handler.CreateIncident)
			authed.GET("/incidents", handler.ListIncidents)
			authed.GET("/incidents/nearby", handler.NearbyIncidents)

			authed.GET("/responders/nearby", handler.NearbyResponders)
		}
	}

	// WebSocket route
	r.GET("/ws", wsHandler.HandleWebSocket)
}
