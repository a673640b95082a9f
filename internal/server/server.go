// Package server contains HTTP and WebSocket handlers for the comment API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"campus/internal/bootstrap"
	"campus/internal/cache"
	"campus/internal/config"
	"campus/internal/featureflags"
	"campus/internal/middleware"
	"campus/internal/models"
	"campus/internal/notifications"
	"campus/internal/repository"
	"campus/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	commentRepo    repository.CommentRepository
	accessGuard    *service.AccessGuard
	notifier       *notifications.Notifier
	hub            *notifications.CommentHub
	featureFlags   *featureflags.Manager
	commentService *service.CommentService
	writeLimit     fiber.Handler
	ticketLimit    fiber.Handler
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	// Redis is optional; without it fan-out stays on this instance
	db, rdb, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{SeedDemo: cfg.SeedDemoData})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("campus-comments"),
		commentRepo:    repository.NewCommentRepository(db),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		notifier:       notifications.NewNotifier(redisClient),
		hub: notifications.NewCommentHub(notifications.HubLimits{
			MaxConnsPerUser: cfg.WSMaxConnsPerUser,
			MaxTotalConns:   cfg.WSMaxTotalConns,
		}),
	}
	server.shutdownCtx, server.shutdownFn = context.WithCancel(context.Background())

	server.accessGuard = service.NewAccessGuard(
		repository.NewAccessRepository(db),
		server.featureFlags,
		redisClient,
		cfg.ModeratorCacheTTL(),
	)
	server.commentService = service.NewCommentService(
		server.commentRepo,
		server.accessGuard,
		notifications.NewRoomBroadcaster(server.hub, server.notifier),
		notifications.NewReplyDispatcher(server.commentRepo, server.hub, server.notifier),
		nil,
	)
	if switches := server.accessGuard.CommentSwitches(); len(switches) > 0 {
		log.Printf("comment switches configured: %v", switches)
	}
	server.writeLimit = server.rateLimit("comments:write", cfg.CommentWritesPerMinute)
	server.ticketLimit = server.rateLimit("ws:ticket", cfg.WSTicketsPerMinute)

	return server, nil
}

// rateLimit builds a per-user limiter, or a pass-through when limiting is disabled.
func (s *Server) rateLimit(name string, perMinute int) fiber.Handler {
	if !s.config.RateLimitEnabled || perMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return middleware.RateLimit(s.redis, middleware.RateLimitRule{
		Name:   name,
		Limit:  perMinute,
		Window: time.Minute,
	})
}

func (s *Server) tokenConfig() middleware.TokenConfig {
	return middleware.TokenConfig{
		Secret:   s.config.JWTSecret,
		Issuer:   s.config.JWTIssuer,
		Audience: s.config.JWTAudience,
	}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Propagate request, trace and user IDs into the request context
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	comments := api.Group("/comments", s.AuthRequired())
	comments.Post("/", s.writeLimit, s.CreateComment)
	// Two-segment thread route before the single-segment comment routes
	comments.Get("/:entityType/:entityId", s.ListComments)
	comments.Post("/:commentId/like", s.writeLimit, s.ToggleCommentLike)
	comments.Get("/:commentId", s.GetComment)
	comments.Put("/:commentId", s.writeLimit, s.UpdateComment)
	comments.Delete("/:commentId", s.writeLimit, s.DeleteComment)

	api.Post("/ws/ticket", s.AuthRequired(), s.ticketLimit, s.IssueWSTicket)

	ws := api.Group("/ws", s.AuthRequired())
	ws.Get("/comments", s.CommentsWebSocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports database and Redis health. Redis is optional, so a missing
// client is reported but does not fail the probe.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "disabled"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns the authentication middleware. Websocket routes authenticate with
// a single-use ticket from POST /api/ws/ticket because browsers cannot set headers on the
// upgrade request; every route also accepts a bearer token.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isWSPath := strings.HasPrefix(c.Path(), "/api/ws/") && c.Path() != "/api/ws/ticket"

		if ticket := c.Query("ticket"); ticket != "" && isWSPath {
			identity, ok := s.consumeWSTicket(c.UserContext(), ticket)
			if !ok {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
			s.setIdentity(c, identity)
			return c.Next()
		}

		identity, err := middleware.ParseToken(s.tokenConfig(), middleware.BearerToken(c))
		if err != nil {
			message := "Invalid or expired token"
			if errors.Is(err, middleware.ErrMissingToken) {
				message = "Authorization required"
			}
			return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(message))
		}

		s.setIdentity(c, identity)
		return c.Next()
	}
}

func (s *Server) setIdentity(c *fiber.Ctx, identity middleware.Identity) {
	c.Locals("userID", identity.UserID)
	c.Locals("userRole", identity.Role)
	// Sync to UserContext for logging and downstream services
	ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, identity.UserID)
	c.SetUserContext(ctx)
}

// consumeWSTicket atomically reads and deletes a ticket. Tickets store "userID:role".
func (s *Server) consumeWSTicket(ctx context.Context, ticket string) (middleware.Identity, bool) {
	if s.redis == nil {
		return middleware.Identity{}, false
	}
	raw, err := s.redis.GetDel(ctx, cache.WSTicketKey(ticket)).Result()
	if err != nil {
		return middleware.Identity{}, false
	}

	idPart, rolePart, _ := strings.Cut(raw, ":")
	userID, err := strconv.ParseUint(idPart, 10, 32)
	if err != nil || userID == 0 {
		return middleware.Identity{}, false
	}
	return middleware.Identity{UserID: uint(userID), Role: models.ParseRole(rolePart)}, true
}

// App builds the Fiber application on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}

	app := fiber.New(fiber.Config{
		AppName: "Campus Comments API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

func (s *Server) startWiring() error {
	if !s.notifier.Enabled() {
		return nil
	}
	if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
		return fmt.Errorf("start %s wiring: %w", s.hub.Name(), err)
	}
	return nil
}

// Start listens on the configured port.
func (s *Server) Start() error {
	if err := s.startWiring(); err != nil {
		return err
	}
	log.Printf("Server starting on port %s...", s.config.Port)
	return s.App().Listen(":" + s.config.Port)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.startWiring(); err != nil {
		return err
	}
	return s.App().Listener(ln)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stop the Redis subscribers
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
