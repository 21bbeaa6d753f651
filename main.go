package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/driftpost/driftpost/config"
	"github.com/driftpost/driftpost/handlers"
	"github.com/driftpost/driftpost/heartbeat"
	"github.com/driftpost/driftpost/natsfeed"
	"github.com/driftpost/driftpost/registry"
	"github.com/driftpost/driftpost/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// --- Optional NATS diagnostics feed ---
	feed, err := natsfeed.New(cfg.NatsURL, cfg.NatsStream, cfg.NatsSubjectPrefix)
	if err != nil {
		log.Fatalf("Failed to initialize NATS feed: %v", err)
	}
	if feed != nil {
		defer feed.Close()
		log.Println("NATS diagnostics feed enabled")
	}

	// --- Core wiring ---
	reg := registry.New()
	svc := relay.New(reg, feed)
	gateway := handlers.NewGateway(cfg, reg, svc)

	// --- Heartbeat monitor ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor := heartbeat.New(reg, svc, cfg.PingInterval)
	go monitor.Run(ctx)

	// --- Fiber app ---
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"online": reg.Count()})
	})

	app.Use(cfg.WSPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(cfg.WSPath, websocket.New(gateway.Handle))

	// --- Start server ---
	go func() {
		log.Printf("Starting server on %s (ws path %s)", cfg.Addr(), cfg.WSPath)
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	if err := app.Shutdown(); err != nil {
		log.Printf("Error shutting down Fiber: %v", err)
	}

	log.Println("Server gracefully stopped")
}
