package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"spesync/internal/app"
	"spesync/internal/backend"
	"spesync/internal/cli"
	"spesync/internal/events"
	"spesync/internal/expenses"
	"spesync/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp, envOr("LOG_LEVEL", "warn"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		fatal(err)
	}
	backendCfg.Logger = logger
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		fatal(err)
	}

	tokens := cli.InitTokenStore(logger, cfg.TokenDBPath)
	defer tokens.Close()

	var notifier expenses.Notifier
	if cfg.AMQPEnabled() {
		client, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("Change notices disabled", log.FieldError, err.Error())
		} else {
			defer client.Close()
			notifier = client
		}
	}

	a := app.New(result.Backend, app.Options{Logger: logger, Tokens: tokens, Notifier: notifier})
	defer a.Close()

	if err := run(ctx, a, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "spese:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "spese:", err)
	os.Exit(1)
}
