package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxscribe/relay/pkg/logging"
	"github.com/voxscribe/relay/pkg/providers/deepgram"
	"github.com/voxscribe/relay/pkg/relay"
	"github.com/voxscribe/relay/pkg/runner"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	// Secrets such as DEEPGRAM_API_KEY may live in a local .env.
	_ = godotenv.Load()

	cfg, err := relay.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	registry := relay.NewRegistry(logging.NewComponentLogger(logger, "registry"))
	server := relay.NewServer(cfg, registry, deepgram.Dial, logging.NewComponentLogger(logger, "relay"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lr := runner.NewLifecycleRunner(server, runner.Hooks{
		OnStart: func() {
			if err := server.Start(ctx); err != nil {
				slog.Error("server_start_failed", slog.String("error", err.Error()))
				stop()
			}
		},
		OnStop: func() {
			slog.Info("relay_stopped")
		},
	}, 10*time.Second)

	if err := lr.Run(ctx); err != nil {
		slog.Error("shutdown_error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
