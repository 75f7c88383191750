package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spesync/internal/cli"
	"spesync/internal/devserver"
	"spesync/internal/log"
	"spesync/internal/observability"
	"spesync/internal/service/memory"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentDevServer, os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, using the development default")
	}
	store, err := memory.New(memory.Config{
		Secret:               cfg.JWTSecret,
		TokenTTL:             cfg.TokenTTL,
		PrimaryAdmin:         cfg.PrimaryAdminUsername,
		PrimaryAdminPassword: cfg.PrimaryAdminPassword,
	})
	if err != nil {
		logger.Error("Failed to initialize memory service", log.FieldError, err.Error())
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.New(reg)

	router := devserver.NewRouter(store, devserver.Options{
		Logger:         logger,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Debug:          cfg.LogLevel == "debug",
	})

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16, // 64KB
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
	})

	logger.Info("Starting development server", "addr", srv.Addr, "primary_admin", cfg.PrimaryAdminUsername)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error())
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}
