package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrSnakeDoc/stedge/internal/app"
	"github.com/MrSnakeDoc/stedge/internal/config"
	"github.com/MrSnakeDoc/stedge/internal/logger"
)

// Exit codes
const (
	exitNotFound  = 2
	exitUnhealthy = 3
)

func main() {
	cfg := config.Load()

	// stdout carries only the base URL, logs go to stderr.
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ep, err := app.Probe(ctx, cfg, log)
	switch {
	case err == nil:
		log.Info("✅ Server ready", logger.String("url", ep.BaseURL()))
		fmt.Println(ep.BaseURL())
		return
	case errors.Is(err, app.ErrNotFound):
		log.Warn("no server found, make sure it is running on the same network")
		os.Exit(exitNotFound)
	case errors.Is(err, app.ErrUnhealthy):
		log.Warn("server found but not responding", logger.String("url", ep.BaseURL()))
		os.Exit(exitUnhealthy)
	default:
		log.Error("discovery failed", logger.Error(err))
		os.Exit(1)
	}
}
