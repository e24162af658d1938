// Cashback Finance advisor chat server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/cashbackfinance/advisor-chat/internal/agent"
	"github.com/cashbackfinance/advisor-chat/internal/api"
	"github.com/cashbackfinance/advisor-chat/internal/config"
	"github.com/cashbackfinance/advisor-chat/internal/crm"
	"github.com/cashbackfinance/advisor-chat/internal/identity"
	"github.com/cashbackfinance/advisor-chat/internal/intake"
	"github.com/cashbackfinance/advisor-chat/internal/leadsync"
	"github.com/cashbackfinance/advisor-chat/internal/llm"
	"github.com/cashbackfinance/advisor-chat/internal/metrics"
	"github.com/cashbackfinance/advisor-chat/internal/middleware"
	"github.com/cashbackfinance/advisor-chat/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "container", config.IsContainer())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	topics := intake.DefaultTopics()
	if cfg.Intake.TopicsPath != "" {
		topics, err = intake.LoadTopics(cfg.Intake.TopicsPath)
		if err != nil {
			slog.Error("Failed to load topic table", "path", cfg.Intake.TopicsPath, "error", err)
			os.Exit(1)
		}
	}
	analyzer := intake.NewAnalyzer(topics, intake.ConsentOptions{
		UserWindow:      cfg.Intake.ConsentUserWindow,
		AdjacencyWindow: cfg.Intake.ConsentAdjacencyWindow,
	})

	prompt, err := config.LoadSystemPrompt(cfg.Prompt)
	if err != nil {
		slog.Error("Failed to load system prompt", "error", err)
		os.Exit(1)
	}

	model, err := llm.NewOpenAI(llm.Options{
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Model.Timeout,
	})
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}

	hubspot := crm.NewHubSpot(crm.Options{
		Token:   cfg.CRM.Token,
		BaseURL: cfg.CRM.BaseURL,
		Timeout: cfg.CRM.Timeout,
	})
	if !hubspot.Enabled() {
		slog.Warn("HUBSPOT_PRIVATE_APP_TOKEN not set, leads will not be synced")
	}

	syncer := leadsync.NewSyncer(analyzer, hubspot, repo, cfg.LeadSync.Timeout)
	svc := agent.NewService(model, syncer, agent.Options{
		SystemPrompt: prompt,
		SyncAsync:    cfg.LeadSync.Async,
	})
	slog.Info("Chat service initialized",
		"model", model.Model(),
		"prompt_version", cfg.Prompt.Version,
		"topics", len(topics.Topics),
		"lead_sync_async", cfg.LeadSync.Async,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := agent.NewSessionManager()
	chatHandler := agent.NewHandler(ctx, svc, sessions, agent.HandlerOptions{
		RateLimit:      cfg.RateLimit.Requests,
		RateWindow:     cfg.RateLimit.Window,
		MaxBodySize:    cfg.RateLimit.MaxRequestBody,
		AllowedOrigins: cfg.AllowedOrigins,
		IsDev:          cfg.IsDevelopment(),
	})
	healthHandler := api.NewHealthHandler(repo, hubspot.Enabled())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Operational routes carry no visitor identity.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler())
	if cfg.AdminEnabled() {
		api.NewAdminHandler(repo, cfg.AdminToken).RegisterRoutes(r)
		slog.Info("Admin API enabled")
	}

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Logger)
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
	})

	// Create server.
	// SSE and websocket replies stream for as long as the model takes.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	store.StartRetentionWorker(ctx, repo, cfg.LeadSync.Retention, store.DefaultRetentionInterval, func(syncs, visitors int64) {
		slog.Debug("Retention sweep finished", "syncs_deleted", syncs, "visitors_deleted", visitors)
	})

	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "port", cfg.GRPCHealthPort, "error", err)
			os.Exit(1)
		}
		grpcHealth := api.NewGRPCHealth(repo, 0)
		go func() {
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Pending lead syncs get their own budget so a slow CRM is not cut off
	// by a slow HTTP drain.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.LeadSync.Timeout)
	defer drainCancel()
	if err := svc.Wait(drainCtx); err != nil {
		slog.Error("Pending lead syncs did not finish", "error", err)
	}

	slog.Info("Server stopped successfully")
}
