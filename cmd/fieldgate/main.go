// Package main provides the CLI entry point for fieldgate, the
// confirmation-gated idMe income updater.
//
// # Basic Usage
//
// Start the service:
//
//	fieldgate serve --config fieldgate.yaml
//
// # Environment Variables
//
// The configuration file expands environment variables, so secrets can
// be kept out of it:
//
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
//   - OPENAI_API_KEY: OpenAI API key for intent extraction
//   - SESSIONS_DSN: PostgreSQL DSN for the synced-cookie store
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fieldgate/fieldgate/internal/audit"
	"github.com/fieldgate/fieldgate/internal/bot"
	"github.com/fieldgate/fieldgate/internal/config"
	"github.com/fieldgate/fieldgate/internal/credentials"
	"github.com/fieldgate/fieldgate/internal/flow"
	"github.com/fieldgate/fieldgate/internal/intent"
	"github.com/fieldgate/fieldgate/internal/portal"
	"github.com/fieldgate/fieldgate/internal/registry"
	"github.com/fieldgate/fieldgate/internal/store"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "fieldgate",
		Short:   "Confirmation-gated income updater for the idMe portal",
		Long:    "fieldgate drives income changes on the idMe portal through a Telegram\nbot with a human-in-the-loop confirmation step and a full audit trail.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram bot and confirmation flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "fieldgate.yaml", "Path to configuration file")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Validate the configuration and check store reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Println("Configuration OK")

			sqlite, err := store.OpenSQLite(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("storage check failed: %w", err)
			}
			sqlite.Close()
			fmt.Printf("Storage OK (%s)\n", cfg.Storage.Path)

			creds, err := credentials.NewPostgresStore(cfg.Credentials.DSN, slog.Default())
			if err != nil {
				return fmt.Errorf("session store check failed: %w", err)
			}
			defer creds.Close()
			if err := creds.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("session store unreachable: %w", err)
			}
			fmt.Println("Session store OK")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "fieldgate.yaml", "Path to configuration file")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting fieldgate",
		"version", version,
		"storage", cfg.Storage.Path,
		"confirmation_timeout", cfg.Confirmation.Timeout)

	sqlite, err := store.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	stores := store.NewStoreSet(sqlite, sqlite, sqlite.Close)
	defer stores.Close()

	creds, err := credentials.NewPostgresStore(cfg.Credentials.DSN, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to session store: %w", err)
	}
	defer creds.Close()

	driver, err := portal.NewPlaywrightDriver(portal.Config{
		BaseURL:    cfg.Portal.BaseURL,
		Headless:   cfg.Portal.Headless,
		NavTimeout: cfg.Portal.NavTimeout,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start browser driver: %w", err)
	}
	defer driver.Close()

	coordinator := flow.NewCoordinator(flow.CoordinatorConfig{
		Requests:    stores.Requests,
		Audit:       audit.NewRecorder(stores.Audit, logger),
		Registry:    registry.New(),
		Driver:      driver,
		Credentials: creds,
		Logger:      logger,
	})
	defer coordinator.Close()

	extractor := intent.NewOpenAIExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)

	dispatcher, err := bot.NewDispatcher(bot.Config{
		Token:     cfg.Telegram.Token,
		RateLimit: cfg.Telegram.RateLimit,
		RateBurst: cfg.Telegram.RateBurst,
		Logger:    logger,
	}, nil, extractor, coordinator)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	coordinator.StartSupervisor(cfg.Confirmation.Timeout, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Run(ctx); err != nil {
		return err
	}

	logger.Info("fieldgate stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
