package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cad-copilot/backend/internal/grpcserver"
	"cad-copilot/backend/pkg/config"
	"cad-copilot/backend/pkg/di"
	"cad-copilot/backend/pkg/logger"
	"cad-copilot/backend/pkg/router"
	"cad-copilot/backend/shared/observability"
)

func main() {
	// Loads .env when present
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", cfg.Server.Version, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.SetupPrometheusMetrics(cfg.Observability.ServiceName, cfg.Observability.MetricsPort, log)
	if err != nil {
		log.LogError(err, "Failed to initialize metrics")
		os.Exit(1)
	}
	shutdownTracing := func(context.Context) error { return nil }
	if cfg.Observability.TracingEnabled {
		shutdownTracing, err = observability.SetupTracing(cfg.Observability.ServiceName)
		if err != nil {
			log.LogError(err, "Failed to initialize tracing")
			os.Exit(1)
		}
	}

	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	container, err := di.New(cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	go container.Hub.Run(ctx)
	container.Health.Start(ctx)

	r := router.New(container)
	r.SetupRoutes()
	defer r.Close()

	var grpcServer *grpcserver.Server
	if cfg.GRPC.Enabled {
		grpcServer = grpcserver.New(container.Health, log)
		go func() {
			if err := grpcServer.ListenAndServe(cfg.GRPC.Port); err != nil {
				log.LogError(err, "gRPC server failed", "port", cfg.GRPC.Port)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Passes run several model calls back to back
		WriteTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Failed to stop metrics")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush traces")
	}

	log.Info("Server exited gracefully")
}
