// Command chatstreamd runs the chat stream server: the WebSocket channel,
// the per-conversation streaming sessions and the provider gateway.
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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xuanyiying/ai-ace-job-sub001/config"
	"github.com/xuanyiying/ai-ace-job-sub001/hub"
	"github.com/xuanyiying/ai-ace-job-sub001/provider"
	"github.com/xuanyiying/ai-ace-job-sub001/session"
	"github.com/xuanyiying/ai-ace-job-sub001/store"
	"github.com/xuanyiying/ai-ace-job-sub001/ws"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting chatstreamd...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Provider: %s (%s)", cfg.ProviderName, cfg.ProviderBaseURL)
	log.Printf("Model: %s", cfg.Model)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	backend := provider.NewBackend(cfg.ProviderName, cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout)
	gateway := provider.NewGateway(backend)

	h := hub.New()
	go h.Run()

	sessions := session.NewManager(gateway, db, h, nil, session.Config{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
	})

	wsServer := ws.NewServer(cfg, h, sessions)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/ws", wsServer.HandleWebSocket)
	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		return c.JSON(http.StatusOK, map[string]any{
			"status":        "ok",
			"provider":      gateway.HealthCheck(ctx),
			"connections":   h.ConnectionCount(),
			"conversations": h.ConversationCount(),
		})
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	h.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
