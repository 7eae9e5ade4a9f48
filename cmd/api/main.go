package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mrzgate/internal/config"
	"mrzgate/internal/crm"
	"mrzgate/internal/database"
	"mrzgate/internal/database/migration"
	"mrzgate/internal/engine"
	handlers "mrzgate/internal/http/handler"
	"mrzgate/internal/http/middleware"
	"mrzgate/internal/otel"
	"mrzgate/internal/quality"
	"mrzgate/internal/repository/postgres"
	"mrzgate/internal/service"
	"mrzgate/internal/sla"
	"mrzgate/internal/storage"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	loc := time.UTC

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing (no-op unless OTEL_TRACES_ENABLED is set)
	shutdownTracing, err := otel.Init(ctx, loc)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, loc, cfg.Database.Host); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	// OCR provider chain in configured fallback order
	engines, err := engine.Build(cfg.Engines)
	if err != nil {
		log.Fatalf("failed to build ocr engines: %v", err)
	}
	chain := engine.NewChain(engines, engine.RetryPolicy{
		MaxTries:       cfg.Engines.RetryMaxTries,
		InitialBackoff: time.Duration(cfg.Engines.RetryInitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Engines.RetryMaxBackoffMS) * time.Millisecond,
	}, time.Duration(cfg.Engines.TimeoutSec)*time.Second, cfg.Pipeline.MinConfidence)

	gate := quality.NewGate(quality.Config{
		MinSharpness:   cfg.Quality.MinSharpness,
		MinBrightness:  cfg.Quality.MinBrightness,
		MaxBrightness:  cfg.Quality.MaxBrightness,
		MaxSkewDegrees: cfg.Quality.MaxSkewDegrees,
	})

	reg := prometheus.NewRegistry()

	slaLogger, err := sla.NewLogger(os.Stdout, cfg.SLA, reg)
	if err != nil {
		log.Fatalf("failed to initialize sla telemetry: %v", err)
	}

	// Initialize repositories and the pipeline service
	jobRepo := postgres.NewJobPostgres(db)
	hashIndex := postgres.NewHashIndexPostgres(db)
	jobSvc := service.NewJobService(service.Deps{
		Repo:   jobRepo,
		Hashes: hashIndex,
		Store:  objStore,
		Gate:   gate,
		Chain:  chain,
		CRM:    crm.NewHTTP(cfg.CRM),
		SLA:    slaLogger,
	}, cfg.Pipeline)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())

	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to initialize metrics middleware: %v", err)
	}
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, db, objStore, jobSvc)

	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	addr := ":" + cfg.Port
	if err := app.Listen(addr); err != nil {
		log.Printf("server stopped: %v", err)
	}

	// Drain in-flight jobs before exiting
	jobSvc.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
