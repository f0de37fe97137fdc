package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/askwhyharsh/safezone/internal/api"
	"github.com/askwhyharsh/safezone/internal/config"
	"github.com/askwhyharsh/safezone/internal/events"
	"github.com/askwhyharsh/safezone/internal/ingest"
	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/monitor"
	"github.com/askwhyharsh/safezone/internal/notify"
	"github.com/askwhyharsh/safezone/internal/ratelimit"
	"github.com/askwhyharsh/safezone/internal/safezone"
	"github.com/askwhyharsh/safezone/internal/session"
	"github.com/askwhyharsh/safezone/internal/sharing"
	"github.com/askwhyharsh/safezone/internal/sos"
	"github.com/askwhyharsh/safezone/internal/spam"
	"github.com/askwhyharsh/safezone/internal/storage"
	"github.com/askwhyharsh/safezone/internal/websocket"
	"github.com/askwhyharsh/safezone/pkg/logger"
	"github.com/askwhyharsh/safezone/pkg/validator"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogger(cfg.Server.Env, cfg.Monitoring.LogLevel)
	defer appLogger.Sync()
	appLogger.Info("Starting SafeZone server...")

	// Initialize Redis
	redisClient, err := storage.NewRedisClient(cfg)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis", "address", cfg.RedisAddr())

	// Initialize database
	store, err := storage.Open(cfg.Database)
	if err != nil {
		appLogger.Error("Failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	appLogger.Info("Connected to database", "driver", cfg.Database.Driver)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBroadcaster()
	if cfg.RabbitMQ.Enabled {
		closeRabbit := startRabbitForwarder(ctx, cfg.RabbitMQ, bus, appLogger)
		defer closeRabbit()
	}

	dispatcher := notify.NewDispatcher(newSender(cfg.Notify, appLogger), cfg.Notify.DefaultCountryCode, 1, appLogger)
	shares := sharing.NewStore(redisClient, cfg.Location.GeohashPrecision, cfg.Sharing.RecordTTL)

	feeds := location.NewFeedRegistry()
	registry := monitor.NewRegistry(feeds, monitorConfig(cfg), monitor.Deps{
		Zones:    store,
		Contacts: store,
		Notifier: dispatcher,
		Shares:   shares,
		Events:   bus,
		Logger:   appLogger,
	})

	// Initialize services
	sessionService := session.NewService(redisClient, cfg.Session.TTL)
	sessionManager := session.NewManager(sessionService, registry, cfg.Session.SweepInterval, appLogger)

	rateLimiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit)
	rateLimitMiddleware := ratelimit.NewMiddleware(rateLimiter)

	spamDetector := spam.NewDetector(
		redisClient,
		cfg.Spam.ProfanityEnabled,
		cfg.Spam.DuplicateWindowSeconds,
		cfg.Spam.MaxURLsPerReport,
	)

	intake := ingest.NewIntake(feeds, rateLimiter, appLogger)
	sosService := sos.NewService(store, dispatcher, store, registry, registry, bus, appLogger)

	if cfg.MQTT.Enabled {
		client, err := ingest.NewMQTTClient(cfg.MQTT)
		if err != nil {
			appLogger.Error("Failed to connect to MQTT broker", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			sub := ingest.NewSubscriber(client, intake, cfg.MQTT.TopicPrefix, appLogger)
			if err := sub.Start(); err != nil {
				appLogger.Error("Failed to subscribe to MQTT topics", "error", err)
			}
			defer sub.Stop()
		}
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(ctx, bus, redisClient, appLogger)
	go hub.Run()

	wsHandler := websocket.NewHandler(hub, sessionManager, intake, registry, cfg.Server.AllowedOrigins, appLogger)

	apiHandler := api.NewHandler(api.Deps{
		Sessions:           sessionService,
		Limiter:            rateLimiter,
		Validator:          validator.NewValidator(cfg.Location.MinRadiusMeters, cfg.Location.MaxRadiusMeters),
		Store:              store,
		Monitors:           registry,
		Intake:             intake,
		SOS:                sosService,
		Responders:         shares,
		Spam:               spamDetector,
		DefaultCountryCode: cfg.Notify.DefaultCountryCode,
		NearbyRadiusMeters: cfg.Location.NearbyRadiusMeters,
		Logger:             appLogger,
	})

	// Start background services
	go sessionManager.Start(ctx)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(ratelimit.Global(cfg.Server.RequestsPerSec))

	api.SetupRoutes(router, apiHandler, wsHandler, rateLimitMiddleware, sessionManager, cfg.Server.AllowedOrigins, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.Info("Server starting", "address", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	registry.StopAll()
	cancel()
	bus.Close()

	appLogger.Info("Server stopped")
}

func monitorConfig(cfg *config.Config) monitor.Config {
	engine := location.DefaultEngineOptions()
	engine.BaseTimeout = cfg.Location.BaseTimeout
	engine.InitialFixTimeout = cfg.Location.InitialFixTimeout
	engine.StaleAfter = cfg.Location.StaleAfter
	engine.MinMovementMeters = cfg.Location.MinMovementMeters
	engine.MaxRetries = cfg.Location.MaxRetries
	engine.RetryBaseDelay = cfg.Location.RetryBaseDelay
	if cfg.Location.IPFallbackEnabled {
		engine.IPFallback = location.NewIPClient(cfg.Location.IPFallbackURL)
	}

	return monitor.Config{
		Engine: engine,
		Evaluator: safezone.Options{
			Cooldown:     cfg.Geofence.ExitCooldown,
			AlertDisplay: cfg.Geofence.AlertDisplay,
		},
		NotifyContactsOnExit: cfg.Geofence.NotifyContactsOnExit,
	}
}

func newSender(cfg config.NotifyConfig, log logger.Logger) notify.Sender {
	switch cfg.Provider {
	case "relay":
		return notify.NewRelaySender(cfg.RelayURL, cfg.RelayToken, cfg.RequestTimeout)
	case "twilio":
		return notify.NewTwilioSender(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.RequestTimeout)
	default:
		log.Warn("No SMS provider configured, alerts will only be logged")
		return notify.NewLogSender(log)
	}
}

// startRabbitForwarder mirrors alert events to the exchange. Failure to
// connect leaves the server running without the mirror.
func startRabbitForwarder(ctx context.Context, cfg config.RabbitMQConfig, bus *events.Broadcaster, log logger.Logger) func() {
	conn, err := events.DialRabbitMQ(cfg.URL)
	if err != nil {
		log.Error("Failed to connect to RabbitMQ", "error", err)
		return func() {}
	}
	pub, err := events.NewRabbitPublisher(conn, cfg.Exchange)
	if err != nil {
		log.Error("Failed to open RabbitMQ channel", "error", err)
		_ = conn.Close()
		return func() {}
	}

	fwd := events.NewForwarder(bus, pub, log, events.TypeZoneExit, events.TypeSOS, events.TypeSharing)
	go fwd.Run(ctx)
	log.Info("Forwarding events to RabbitMQ", "exchange", cfg.Exchange)

	return func() {
		_ = pub.Close()
		_ = conn.Close()
	}
}
