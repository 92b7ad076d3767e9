// Package api exposes the HTTP and websocket surface: reminder CRUD, alarm
// actions, dose history, device pairing, the assistant chat, and the overlay
// event stream.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/calumw/pilltick/internal/alarm"
	"github.com/calumw/pilltick/internal/alert"
	"github.com/calumw/pilltick/internal/assistant"
	"github.com/calumw/pilltick/internal/auth"
	"github.com/calumw/pilltick/internal/config"
	"github.com/calumw/pilltick/internal/device"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/calumw/pilltick/internal/metrics"
	"github.com/calumw/pilltick/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Server handles the HTTP API and websockets
type Server struct {
	app       *fiber.App
	config    *config.Config
	store     *store.Store
	meds      *medication.Store
	engine    *alarm.Engine
	events    *alert.Hub
	devices   *device.Manager
	deviceHub *device.Hub
	assistant *assistant.Assistant
	tokens    *auth.Manager
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Deps collects the server's collaborators
type Deps struct {
	Store     *store.Store
	Meds      *medication.Store
	Engine    *alarm.Engine
	Events    *alert.Hub
	Devices   *device.Manager
	DeviceHub *device.Hub
	Assistant *assistant.Assistant
}

// New creates the API server
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:       app,
		config:    cfg,
		store:     deps.Store,
		meds:      deps.Meds,
		engine:    deps.Engine,
		events:    deps.Events,
		devices:   deps.Devices,
		deviceHub: deps.DeviceHub,
		assistant: deps.Assistant,
		tokens:    auth.NewManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour),
		logger:    logger,
		metrics:   metrics.Default(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(s.observeMiddleware())
	s.app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	if s.config.Server.RateLimit > 0 {
		s.app.Use(s.rateLimitMiddleware(s.config.Server.RateLimit))
	}

	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api/v1")

	api.Post("/auth/register", s.handleRegister)
	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Get("/reminders", s.handleListReminders)
	protected.Post("/reminders", s.handleCreateReminder)
	protected.Get("/reminders/:id", s.handleGetReminder)
	protected.Put("/reminders/:id", s.handleUpdateReminder)
	protected.Delete("/reminders/:id", s.handleDeleteReminder)
	protected.Post("/reminders/:id/active", s.handleSetReminderActive)

	protected.Get("/schedule/today", s.handleTodaySchedule)

	protected.Get("/alarms", s.handleActiveAlarms)
	protected.Post("/alarms/acknowledge", s.handleAcknowledge)
	protected.Post("/alarms/snooze", s.handleSnooze)
	protected.Post("/alarms/skip", s.handleSkip)

	protected.Get("/doses", s.handleListDoses)

	protected.Post("/chat", s.handleChat)
	protected.Get("/conversations/:id/messages", s.handleConversationMessages)

	protected.Post("/devices/pair", s.handleBeginPairing)
	protected.Get("/devices", s.handleListDevices)
	protected.Delete("/devices/:id", s.handleRevokeDevice)

	s.app.Get("/ws/alarms", s.wsUpgrade, websocket.New(s.handleAlarmSocket))
	s.app.Get("/ws/device", s.wsUpgrade, websocket.New(s.handleDeviceSocket))
}

// Start begins serving. Blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.logger.Info("API listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
