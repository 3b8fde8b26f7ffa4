package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/unboundops/be-cmd-gateway/internal/client"
	"github.com/unboundops/be-cmd-gateway/internal/config"
	"github.com/unboundops/be-cmd-gateway/internal/handler"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
	"github.com/unboundops/be-cmd-gateway/internal/platform/logger"
	"github.com/unboundops/be-cmd-gateway/internal/platform/middleware"
	natsclient "github.com/unboundops/be-cmd-gateway/internal/platform/nats"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
	"github.com/unboundops/be-cmd-gateway/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Command Gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS. An unset URL runs the gateway without notifications.
	var nc *natsclient.Client
	if cfg.NATS.URL != "" {
		nc, err = natsclient.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set, notifications disabled")
	}
	notifier := client.NewNotificationPublisher(nc, log.Logger)

	// Initialize repositories
	userRepo := repository.NewUserRepository()
	ruleRepo := repository.NewRuleRepository()
	commandRepo := repository.NewCommandRepository()
	approvalRepo := repository.NewApprovalRepository()
	auditRepo := repository.NewAuditRepository()

	// Initialize services
	userService := service.NewUserService(db, userRepo, auditRepo, log)
	ruleService := service.NewRuleService(db, ruleRepo, auditRepo, log)
	commandService := service.NewCommandService(db, userRepo, ruleRepo, commandRepo,
		approvalRepo, auditRepo, notifier, cfg.Approval.RequestTTL, log)
	approvalService := service.NewApprovalService(db, userRepo, commandRepo,
		approvalRepo, auditRepo, notifier, log)
	auditService := service.NewAuditService(db, auditRepo)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(userService, ruleService, commandService,
		approvalService, auditService, log)

	var h http.Handler = httpHandler.Routes()
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
