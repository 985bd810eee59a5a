// Teleclerk is a conversational personal-assistant backend.
//
// Two run modes:
//
//	teleclerk -config teleclerk.yaml            # Telegram bot (webhook or polling)
//	teleclerk -config teleclerk.yaml -console   # local readline REPL, no Telegram
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teleclerk/teleclerk/pkg/api"
	"github.com/teleclerk/teleclerk/pkg/app"
	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/delivery"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/logger"
	"github.com/teleclerk/teleclerk/pkg/scheduler"
	"github.com/teleclerk/teleclerk/pkg/telegram"
)

func main() {
	configPath := flag.String("config", "teleclerk.yaml", "path to config file")
	console := flag.Bool("console", false, "run a local console instead of connecting to Telegram")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *console {
		if err := runConsole(ctx, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "console:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		logger.ErrorCF("main", "Startup failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// Platform auth is probed first: bad credentials abort startup.
	channel, err := telegram.NewChannel(ctx, cfg.Telegram.Token, cfg.Telegram.PollTimeoutSeconds)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	container, err := app.NewContainer(cfg, channel, channel)
	if err != nil {
		return err
	}
	defer container.Close()

	manager := delivery.NewManager(channel, container.Orchestrator, container.Bus, cfg.Telegram)
	hub := api.NewWSHub(container.Bus)
	server := api.NewServer(cfg, container.Orchestrator, manager, hub, container.Bus)

	container.Bus.Publish(domain.NewEvent(domain.EventSystemStartup, "", map[string]string{
		"bot": channel.BotName(),
	}))

	if err := manager.Activate(ctx, manager.SelectMode()); err != nil {
		return fmt.Errorf("activate delivery: %w", err)
	}

	if cfg.Reminders.Enabled {
		sweep, err := scheduler.New(container.Store, channel, container.Bus, cfg.Reminders.Cron)
		if err != nil {
			return err
		}
		go sweep.Run(ctx)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.ErrorCF("main", "HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	// Graceful shutdown: stop ingestion first (awaiting in-flight reads),
	// then the HTTP surface.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.UpdateBudget.Std())
	defer cancel()

	container.Bus.Publish(domain.NewEvent(domain.EventSystemShutdown, "", nil))
	if err := manager.Deactivate(shutdownCtx); err != nil {
		logger.WarnCF("main", "Delivery deactivation failed", map[string]interface{}{"error": err.Error()})
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("main", "HTTP shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	logger.InfoC("main", "Shutdown complete")
	return nil
}
