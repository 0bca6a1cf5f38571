/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the necessity workflow server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, then flags)
  2. Build the logger
  3. Initialize SQLite store and product catalog
  4. Wire metrics, exporter and workflow.Service
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port     HTTP server port (HTTP_PORT, default: 8080)
  -db       SQLite database path (DATABASE_PATH, default: necessities.db)
            Use ":memory:" for in-memory database
  -catalog  Product catalog JSON (CATALOG_PATH, default: built-in demo catalog)

ENVIRONMENT:
  CORS_ALLOWED_ORIGINS  comma-separated list (default: *)
  LOG_LEVEL             debug | info | warn | error (default: info)
  BATCH_CONCURRENCY     bulk operation fan-out (default: 8)
  EXPORT_FORMAT         xlsx | csv (default: xlsx)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/necessities.db"

  # Run with in-memory database and a real catalog
  ./server -db=":memory:" -catalog=./catalog.json

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/merenda/necessity-workflow/api"
	"github.com/merenda/necessity-workflow/catalog"
	"github.com/merenda/necessity-workflow/config"
	"github.com/merenda/necessity-workflow/export"
	"github.com/merenda/necessity-workflow/store/sqlite"
	"github.com/merenda/necessity-workflow/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	flag.IntVar(&cfg.HTTPPort, "port", cfg.HTTPPort, "HTTP server port")
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	flag.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Product catalog JSON (empty for the demo catalog)")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var exporter interface {
		workflow.Exporter
		Extension() string
	} = export.NewXLSX()
	if cfg.ExportFormat == "csv" {
		exporter = export.NewCSV()
	}

	svc := workflow.NewService(workflow.Dependencies{
		Store:       store,
		Catalog:     cat,
		Calendar:    store,
		Exporter:    exporter,
		Logger:      logger,
		Metrics:     workflow.NewMetrics(reg),
		Concurrency: cfg.BatchConcurrency,
	})

	handler := api.NewHandler(svc, store, cat, exporter, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Gatherer:       reg,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.HTTPPort),
			zap.String("db", cfg.DatabasePath),
			zap.String("export", cfg.ExportFormat))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Demo()
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return cat, nil
}

// newLogger builds a development logger for debug and a production JSON
// logger otherwise.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
