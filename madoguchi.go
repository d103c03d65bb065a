// Package madoguchi is the public API for embedding the Madoguchi support
// gateway.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := madoguchi.New(
//	    madoguchi.WithVersion(version),
//	    madoguchi.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: madoguchi (root) imports
// internal/*, but internal/* never imports madoguchi (root).
package madoguchi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/madoguchi/internal/agents"
	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/llm"
	"github.com/ashita-ai/madoguchi/internal/metrics"
	"github.com/ashita-ai/madoguchi/internal/pipeline"
	"github.com/ashita-ai/madoguchi/internal/ratelimit"
	"github.com/ashita-ai/madoguchi/internal/server"
	"github.com/ashita-ai/madoguchi/internal/storage"
	"github.com/ashita-ai/madoguchi/internal/telemetry"
	"github.com/ashita-ai/madoguchi/internal/trace"
	"github.com/ashita-ai/madoguchi/migrations"
)

// App is the Madoguchi server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	archive      *trace.Archive // nil when archiving is not configured
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Madoguchi server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.llmBaseURL != "" {
		cfg.LLMBaseURL = o.llmBaseURL
	}
	if o.llmAPIKey != "" {
		cfg.LLMAPIKey = o.llmAPIKey
	}
	if o.llmModel != "" {
		cfg.LLMModel = o.llmModel
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("madoguchi starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database and run migrations.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Model collaborators. The classifier and responder share one client;
	// both degrade gracefully when the upstream is unreachable, so an
	// unset API key is a warning, not a startup failure.
	if cfg.LLMAPIKey == "" {
		logger.Warn("no LLM API key configured — classification and generation will degrade")
	}
	client := llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	classifier := agents.NewClassifier(client, logger)
	responder := agents.NewResponder(client, logger)

	// In-process observability stores. The SQLite archive is optional and
	// keeps completed traces beyond the in-memory retention window.
	var archive *trace.Archive
	if cfg.TraceArchivePath != "" {
		archive, err = trace.NewArchive(cfg.TraceArchivePath, logger)
		if err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("trace archive: %w", err)
		}
		logger.Info("trace archive: enabled", "path", cfg.TraceArchivePath)
	} else {
		logger.Info("trace archive: disabled (no MADOGUCHI_TRACE_ARCHIVE)")
	}
	traces := trace.NewStore(cfg.TraceRetention, archive)
	metricsStore := metrics.NewStore()

	// Escalation registry over Postgres.
	registry := escalation.NewRegistry(db, logger)

	// Chat pipeline.
	orch := pipeline.New(classifier, responder, registry, db, metricsStore, traces, pipeline.Config{
		ClassifyTimeout: cfg.ClassifyTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
		HistoryLimit:    cfg.HistoryLimit,
	}, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Create HTTP server.
	handlers := server.NewHandlers(server.HandlersDeps{
		Pipeline:            orch,
		Registry:            registry,
		Users:               db,
		History:             db,
		Metrics:             metricsStore,
		Traces:              traces,
		JWTMgr:              jwtMgr,
		DB:                  db,
		Logger:              logger,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		HistoryLimit:        cfg.HistoryLimit,
	})
	srv := server.New(server.Config{
		Handlers:     handlers,
		Limiter:      limiter,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Seed admin account.
	if err := handlers.SeedAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		archive:      archive,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown has been called — callers should
// not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight ones, then flush the trace archive and close the database
// pool and OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("madoguchi shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Error("trace archive close error", "error", err)
		}
	}
	if err := a.limiter.Close(); err != nil {
		a.logger.Error("rate limiter close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("madoguchi stopped")
	return nil
}
