package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/db"
	"chatsync/internal/handlers"
	"chatsync/internal/logger"
	"chatsync/internal/metrics"
	"chatsync/internal/services"
	"chatsync/internal/storage"
	"chatsync/internal/storage/memory"
	"chatsync/internal/storage/postgres"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const shutdownTimeout = 10 * time.Second

// New builds the HTTP and websocket surface over repo.
func New(cfg *config.Config, repo storage.Repository) *fiber.App {
	app, _ := newServer(cfg, repo)
	return app
}

func newServer(cfg *config.Config, repo storage.Repository) (*fiber.App, *handlers.Hub) {
	m := metrics.New()
	tokens := services.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	userService := services.NewUserService(repo, tokens)
	chatService := services.NewChatService(repo)
	hub := handlers.NewHub(m, cfg.Realtime.EventsPerSecond, cfg.Realtime.EventBurst)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	app.Static("/uploads", cfg.Server.UploadDir)

	// Routes
	api := app.Group("/api")

	// Public Routes
	api.Post("/register", handlers.RegisterHandler(userService))
	api.Post("/login", handlers.LoginHandler(userService))
	api.Post("/refresh", handlers.RefreshHandler(userService))

	// Protected Routes
	protected := api.Group("/")
	protected.Use(handlers.AuthMiddleware(tokens))

	protected.Get("/users", handlers.ListUsersHandler(userService, hub))
	protected.Get("/profile", handlers.GetProfileHandler(userService))
	protected.Put("/profile/avatar", handlers.UploadAvatarHandler(userService, cfg.Server.UploadDir, cfg.Server.BaseURL))

	protected.Get("/conversations", handlers.ListConversationsHandler(chatService))
	protected.Post("/conversations", handlers.CreateConversationHandler(chatService))
	protected.Get("/conversations/:id/messages", handlers.ListMessagesHandler(chatService))
	protected.Post("/conversations/:id/messages", handlers.SendMessageHandler(chatService, hub, m))
	protected.Post("/conversations/:id/read", handlers.MarkReadHandler(chatService, hub))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// WebSocket Route
	// Middleware order matters: the upgrade check runs before the token check.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware(tokens))
	app.Get("/ws", handlers.WebSocketHandler(hub, chatService))

	return app, hub
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Log.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil
	case "postgres":
		if err := db.InitDB(ctx, cfg.Storage.DatabaseURL); err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, db.Pool); err != nil {
			db.CloseDB()
			return nil, err
		}
		return postgres.New(db.Pool), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging.Level)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	repo, err := openRepository(ctx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	app := New(cfg, repo)

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("listening", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		errCh <- app.Listen(":" + cfg.Server.Port)
	}()

	// Graceful Shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
	}
	logger.Log.Info("gracefully shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	logger.Log.Info("server shutdown complete")
	return nil
}
