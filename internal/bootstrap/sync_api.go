package bootstrap

import (
	"os"
	"strings"
	"time"

	"mailsync_server/adapter/in/http"
	"mailsync_server/config"
	"mailsync_server/infra/middleware"
	"mailsync_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/rs/zerolog"
)

// NewAPI wires the HTTP process: dependencies, middleware stack and
// route registration. The returned cleanup closes every connection the
// dependency graph opened.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		Prefork:               false,
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json is 2-3x faster than encoding/json
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: 10 * 1024 * 1024,

		Concurrency: 256 * 1024,

		ServerHeader:             "",
		DisableDefaultDate:       true,
		DisableHeaderNormalizing: false,

		DisableKeepalive: false,

		StreamRequestBody:            true,
		DisablePreParseMultipartForm: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(etag.New())

	// CORS: AllowCredentials requires explicit origins, never "*"
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB)
	healthHandler.Register(app)

	// API routes (with auth and rate limiting)
	api := app.Group("/api/v1")

	rateLimiter := middleware.NewRateLimiter(300, time.Minute)
	api.Use(rateLimiter.Handler())

	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	sseHandler := http.NewSSEHandler(deps.SSEHub, zlog)
	sseHandler.Register(api)

	syncHandler := http.NewSyncHandler(deps.SyncEngine, deps.Producer, deps.SyncEventStore)
	syncHandler.Register(api)

	accountHandler := http.NewAccountHandler(deps.AccountService)
	accountHandler.Register(api)

	mailboxHandler := http.NewMailboxHandler(deps.MailboxService)
	mailboxHandler.Register(api)

	notificationHandler := http.NewNotificationHandler(deps.NotificationService)
	notificationHandler.Register(api)

	logger.Info("API server initialized successfully")

	return app, cleanup, nil
}
