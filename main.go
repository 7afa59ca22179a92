package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"sibyl/internal/app"
	"sibyl/internal/config"
	"sibyl/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(os.Stdout, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	slog.SetDefault(log)

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	a, err := app.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("wire app: %w", err)
	}
	defer a.Close()

	if cfg.ResyncEnabled && a.Resync != nil {
		consumer, err := nsq.NewConsumer(config.TopicResync, config.ResyncChannel, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq consumer: %w", err)
		}
		consumer.AddHandler(a.Resync)
		// Lookupd is the production path; tests point straight at one nsqd.
		if cfg.NSQLookupd != "" {
			err = consumer.ConnectToNSQLookupd(cfg.NSQLookupd)
		} else {
			err = consumer.ConnectToNSQD(cfg.NSQDHost)
		}
		if err != nil {
			return fmt.Errorf("connect resync consumer: %w", err)
		}
		defer consumer.Stop()
		slog.Info("resync consumer connected", "topic", config.TopicResync)
	}

	return a.Run(ctx)
}
