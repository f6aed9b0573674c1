package server

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/emberfed/emberauth/internal/cache"
	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/database"
	"github.com/emberfed/emberauth/internal/migrations"
	"github.com/emberfed/emberauth/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Start initializes logging, connects to the database and Redis, runs
// migrations, wires routes, and listens on the configured address.
func Start(cfg *config.Config) error {
	initLogger(cfg.Logging.Level)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var e *fiber.Error
			if errors.As(err, &e) {
				return utils.ErrorResponse(c, e.Message, e.Code)
			}
			return utils.ErrorResponse(c, "internal_server_error", fiber.StatusInternalServerError)
		},
	})

	app.Use(helmet.New())

	// Coarse per-IP ceiling in front of everything; the token and login
	// endpoints carry their own tighter limiter.
	app.Use(limiter.New(limiter.Config{
		Max: 300,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.ErrorResponse(c, "too many requests", fiber.StatusTooManyRequests)
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Session-ID",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	if err := database.ConnectDB(cfg); err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return err
	}
	slog.Info("Database connected successfully")

	if err := cache.ConnectRedis(&cfg.Redis); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		return err
	}

	if err := migrations.RunMigrations(cfg); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return err
	}
	slog.Info("Migrations completed successfully")

	if err := SetupRoutes(app, cfg); err != nil {
		slog.Error("Failed to setup routes", "error", err)
		return err
	}

	addr := cfg.Server.Address()
	slog.Info("Server starting",
		"address", addr,
		"app", cfg.App.Name,
		"version", cfg.App.Version,
	)
	if err := app.Listen(addr); err != nil {
		slog.Error("Failed to start server", "error", err)
		return err
	}

	return nil
}

func initLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(handler))
}
