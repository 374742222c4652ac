// Command phonotrail is the main entry point for the Phonotrail game server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluentkids/phonotrail/internal/app"
	"github.com/fluentkids/phonotrail/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "phonotrail: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "phonotrail: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(cfg.Server.LogLevel, level))

	slog.Info("phonotrail starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Hot-reload the config file: log level applies immediately, game and
	// analysis tuning apply to new sessions.
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
		if next.Server.LogLevel != "" {
			level.Set(slogLevel(next.Server.LogLevel))
		}
		application.ApplyConfig(next)
	})
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("game server ready, press Ctrl+C to stop")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server stopped with error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, draining sessions")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the process logger with a runtime-adjustable level.
func newLogger(lvl config.LogLevel, level *slog.LevelVar) *slog.Logger {
	level.Set(slogLevel(lvl))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(lvl config.LogLevel) slog.Level {
	switch lvl {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
