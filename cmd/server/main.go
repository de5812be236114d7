/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the slot-admin dashboard backend.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the SQL store and migrate the schema
  3. Create the realtime hub (optionally backed by Redis)
  4. Create API handler and router
  5. Start the balance monitor
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: PORT or 8080)
  -driver  sqlite3 | postgres | pgx (default: DB_DRIVER or sqlite3)
  -db      DSN or SQLite path (default: DATABASE_URL or slot-admin.db)
           Use ":memory:" for in-memory database
  -redis   Redis address for chat fan-out (default: REDIS_ADDR)

ENVIRONMENT:
  PORT, DB_DRIVER, DATABASE_URL, JWT_SECRET (required), REDIS_ADDR,
  REDIS_PASSWORD, REDIS_DB, CORS_ORIGINS, BALANCE_CHECK_INTERVAL,
  RATE_LIMIT, RATE_BURST. A .env file in the working directory is read first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the balance monitor and the realtime hub
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  JWT_SECRET=dev ./server -db="./data/slots.db"

  # Run against Postgres with Redis fan-out
  JWT_SECRET=dev ./server -driver=pgx -db="postgres://localhost/slots" -redis=localhost:6379

SEE ALSO:
  - config/config.go: Settings
  - api/server.go: Router configuration
  - store/sqldb/sqldb.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/slot-admin/api"
	"github.com/warp/slot-admin/auth"
	"github.com/warp/slot-admin/config"
	"github.com/warp/slot-admin/realtime"
	"github.com/warp/slot-admin/store/sqldb"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := log.Default()

	// Initialize store
	store, err := sqldb.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Realtime hub, fanned out through Redis when configured
	var broker realtime.Broker
	if cfg.RedisAddr != "" {
		client, err := realtime.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		broker = realtime.NewRedisBroker(client, logger)
		log.Printf("Chat fan-out via Redis at %s", cfg.RedisAddr)
	}
	hub := realtime.NewHub(broker, logger)
	defer hub.Close()
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Realtime hub stopped: %v", err)
		}
	}()

	// Initialize handler
	handler := api.NewHandler(store, hub, auth.NewVerifier(cfg.JWTSecret), logger)
	if len(cfg.CORSOrigins) > 0 {
		handler.Realtime.CheckOrigin = allowOrigins(cfg.CORSOrigins)
	}

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		RateLimit:      rate.Limit(cfg.RateLimit),
		RateBurst:      cfg.RateBurst,
	})

	// Balance monitor
	scheduler := api.NewBalanceCheckScheduler(handler.Ledger, logger)
	if cfg.BalanceCheckInterval > 0 {
		scheduler.CheckInterval = cfg.BalanceCheckInterval
	} else {
		scheduler.Enabled = false
	}
	handler.Monitor = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create server. No WriteTimeout: websocket connections are long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d (driver %s)", cfg.Port, cfg.DBDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	handler.Chat.BestEffort.Wait()

	log.Println("Server stopped")
}

func allowOrigins(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
