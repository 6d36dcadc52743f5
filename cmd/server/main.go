/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bookstore server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, BOOKSTORE_* environment)
  2. Apply command-line flags on top
  3. Open the store (SQLite or PostgreSQL)
  4. Create API handler and router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     Path to an optional .env file (default: .env)
  -port    HTTP server port (default from config: 8080)
  -driver  Store driver: sqlite or postgres
  -db      SQLite database path, or PostgreSQL DSN with -driver=postgres
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/bookstore.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run against PostgreSQL
  BOOKSTORE_DB_DRIVER=postgres BOOKSTORE_DB_URL="postgres://..." ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Stores
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/bookstore/api"
	"github.com/warp/bookstore/bookstore"
	"github.com/warp/bookstore/config"
	"github.com/warp/bookstore/logging"
	"github.com/warp/bookstore/store/postgres"
	"github.com/warp/bookstore/store/sqlite"
)

func main() {
	// Flags
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	port := flag.Int("port", 0, "HTTP server port")
	driver := flag.String("driver", "", "Store driver (sqlite or postgres)")
	db := flag.String("db", "", "SQLite database path or PostgreSQL DSN")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *driver != "" {
		cfg.DB.Driver = *driver
	}
	if *db != "" {
		if cfg.DB.Driver == config.DriverPostgres {
			cfg.DB.URL = *db
		} else {
			cfg.DB.Path = *db
		}
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	// Initialize store
	store, closeStore, err := openStore(cfg.DB)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer closeStore()

	// Create router
	handler := api.NewHandler(store, nil)
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"port":   cfg.Port,
			"driver": cfg.DB.Driver,
		}).Infof("Server starting on http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return
	}

	logger.Info("Server stopped")
}

func openStore(cfg config.DBConfig) (bookstore.TxStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxOpenConns / 2,
			ConnMaxLifetime: 5 * time.Minute,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}
