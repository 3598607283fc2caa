package server

import (
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/aura/api/internal/auth"
	"github.com/aura/api/internal/config"
	"github.com/aura/api/internal/handler"
	"github.com/aura/api/internal/middleware"
	"github.com/aura/api/internal/service"
	ws "github.com/aura/api/internal/websocket"
)

// Deps are the collaborators the HTTP layer is built from
type Deps struct {
	Config        *config.Config
	Podcasts      *service.PodcastService
	Hub           *ws.Hub
	Authenticator *auth.Authenticator
	RateLimiter   *middleware.RateLimiter
	Validator     *validator.Validate

	// Services reports which optional collaborators are configured
	Services map[string]bool
}

// New builds the Fiber app with every route mounted
func New(d Deps) *fiber.App {
	cfg := d.Config

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	podcastHandler := handler.NewPodcastHandler(d.Podcasts, d.Validator)
	feedHandler := handler.NewFeedHandler(d.Podcasts, d.Hub)
	authHandler := handler.NewAuthHandler(d.Authenticator)

	var apiAuth fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		apiAuth = middleware.GatewayAuthMiddleware()
	} else {
		apiAuth = middleware.NewAuthMiddleware(d.Authenticator).Authenticate()
	}

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		tracked, pollers := d.Podcasts.Stats()

		services := fiber.Map{"auth": d.Authenticator.Configured()}
		for name, ok := range d.Services {
			services[name] = ok
		}

		return c.JSON(fiber.Map{
			"status":   "ok",
			"services": services,
			"jobs": fiber.Map{
				"tracked": tracked,
				"pollers": pollers,
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuth)

	podcasts := api.Group("/podcasts")
	podcasts.Post("/", d.RateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), podcastHandler.Submit)
	podcasts.Get("/", podcastHandler.List)
	podcasts.Get("/:id", podcastHandler.Get)
	podcasts.Post("/:id/refresh", podcastHandler.Refresh)
	podcasts.Get("/:id/content", d.RateLimiter.ContentLimit(cfg.RateLimit.ContentPerMin), podcastHandler.Content)
	podcasts.Get("/:id/audio", d.RateLimiter.ContentLimit(cfg.RateLimit.ContentPerMin), podcastHandler.Audio)
	podcasts.Delete("/:id", podcastHandler.Delete)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, apiAuth)

	app.Get("/ws/podcasts", websocket.New(feedHandler.User))
	app.Get("/ws/podcasts/:id", websocket.New(feedHandler.Job))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
