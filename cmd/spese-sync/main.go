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
	"golang.org/x/sync/errgroup"

	"spesync/internal/app"
	"spesync/internal/backend"
	"spesync/internal/cache"
	"spesync/internal/cli"
	"spesync/internal/events"
	"spesync/internal/log"
	"spesync/internal/observability"
	"spesync/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentSync, os.Getenv("LOG_LEVEL"))
	logger.Info("Starting spese-sync")
	cfg := cli.LoadAndValidateConfig(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.New(reg)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	backendCfg.Logger = logger
	backendCfg.Metrics = metrics
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err.Error())
		os.Exit(1)
	}

	tokens := cli.InitTokenStore(logger, cfg.TokenDBPath)
	defer tokens.Close()

	a := app.New(result.Backend, app.Options{
		Logger:        logger,
		Metrics:       metrics,
		Tokens:        tokens,
		ViewCacheSize: 64,
		ViewTTL:       cfg.ResyncInterval,
	})
	defer a.Close()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if err := a.Activate(ctx); err != nil {
		logger.Error("Failed to restore session", log.FieldError, err.Error())
		os.Exit(1)
	}
	st := a.Session.Current()
	if !st.Authenticated {
		logger.Error("No stored session, run `spese login` first")
		os.Exit(1)
	}
	logger.Info("Session restored", log.FieldUsername, st.Identity.Username, log.FieldCount, a.Expenses.Len())

	unsubscribe := a.Session.Subscribe(func(s session.State) {
		if !s.Authenticated {
			logger.Warn("Session ended, stopping")
			stop()
		}
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(cfg.ResyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				_ = a.Resync(gctx)
			}
		}
	})

	sweeper := cache.NewSweeper(logger, a.Views)
	g.Go(func() error {
		return sweeper.Run(gctx, time.Minute)
	})

	if cfg.AMQPEnabled() {
		notices, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer notices.Close()
		g.Go(func() error {
			err := notices.ConsumeWithRetry(gctx, st.Identity.Username, func(ctx context.Context, msg *events.ChangeMessage) error {
				logger.DebugContext(ctx, "Change notice received",
					log.FieldOperation, msg.Operation,
					log.FieldExpenseID, msg.ExpenseID)
				return a.Expenses.Load(ctx)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP disabled, relying on periodic resync", "interval", cfg.ResyncInterval.String())
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("spese-sync stopped with error", log.FieldError, err.Error())
	}
	stop()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	logger.Info("spese-sync shutdown complete")
}
