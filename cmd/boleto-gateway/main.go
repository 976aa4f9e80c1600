package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/detectabb/boleto-gateway/internal/boleto/client"
	"github.com/detectabb/boleto-gateway/internal/boleto/events"
	"github.com/detectabb/boleto-gateway/internal/boleto/handler"
	"github.com/detectabb/boleto-gateway/internal/boleto/poller"
	"github.com/detectabb/boleto-gateway/internal/boleto/repository"
	"github.com/detectabb/boleto-gateway/internal/boleto/service"
	"github.com/detectabb/boleto-gateway/internal/boleto/storage"
	"github.com/detectabb/boleto-gateway/pkg/config"
	"github.com/detectabb/boleto-gateway/pkg/database"
	"github.com/detectabb/boleto-gateway/pkg/httputil"
	"github.com/detectabb/boleto-gateway/pkg/i18n"
	"github.com/detectabb/boleto-gateway/pkg/logger"
	"github.com/detectabb/boleto-gateway/pkg/messaging"
)

const serviceName = "boleto-gateway"

func main() {
	// Load configuration
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("analysis_url", cfg.Analysis.BaseURL).Msg("starting Boleto Gateway")

	// Verdict audit trail (optional)
	var db *database.DB
	var verdicts service.VerdictStore
	if cfg.Database.Enabled() {
		db, err = database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		verdicts = repository.NewVerdictRepository(db, log)
	} else {
		log.Warn().Msg("no database configured, verdicts will not be persisted")
	}

	// Verdict events (optional)
	var rmq *messaging.RabbitMQ
	var publisher *events.BoletoEventPublisher
	if cfg.RabbitMQ.URL != "" {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewBoletoEventPublisher(rmq, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("no RabbitMQ configured, verdict events are disabled")
	}

	// Analysis core
	analysisClient := client.New(cfg.Analysis.BaseURL, cfg.Analysis.HTTPTimeout, log)
	analysisPoller := poller.New(analysisClient, poller.Config{
		MaxAttempts: cfg.Analysis.MaxAttempts,
		Interval:    cfg.Analysis.Interval,
	}, log)

	jobStore := storage.NewJobStore(cfg.Analysis.JobTTL)
	defer jobStore.Close()

	analysisService := service.NewService(analysisClient, analysisPoller, jobStore, verdicts, publisher, log)
	analysisHandler := handler.NewHandler(analysisService, cfg.Analysis.MaxUpload, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Language"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		upstream := map[string]string{"status": "up"}
		if err := analysisService.Health(ctx); err != nil {
			upstream["status"] = "down"
			upstream["error"] = err.Error()
		}

		body := map[string]any{
			"status":   "healthy",
			"service":  serviceName,
			"upstream": upstream,
			"jobs":     jobStore.Len(),
		}
		if db != nil {
			body["database"] = db.Health(r.Context())
		}
		if rmq != nil {
			body["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, body)
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/analyses", analysisHandler.Routes)
		r.Get("/verdicts", analysisHandler.ListVerdicts)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
