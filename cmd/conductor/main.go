// Package main provides the CLI entry point for the Conductor task
// orchestrator.
//
// Conductor runs durable multi-turn AI tasks: a plan, work, and review
// loop with tool dispatch, context compression, and checkpointed state
// that survives restarts.
//
// Start the server:
//
//	conductor serve --config conductor.yaml
//
// Environment variables referenced in the config file (for example
// ${OPENROUTER_API_KEY} or ${TELEGRAM_BOT_TOKEN}) are expanded at load
// time.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/conductorhq/conductor/internal/checkpoint"
	"github.com/conductorhq/conductor/internal/config"
	"github.com/conductorhq/conductor/internal/emitter"
	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/processor"
	"github.com/conductorhq/conductor/internal/server"
	"github.com/conductorhq/conductor/internal/tools"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "conductor",
		Short:   "Durable multi-turn AI task orchestrator",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conductor %s (commit: %s)\n", version, commit)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control server and task processors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "conductor.yaml", "Path to configuration file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store, err := buildStore(cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}

	var em emitter.Emitter
	if cfg.Telegram.Enabled {
		tg, err := emitter.NewTelegram(cfg.Telegram.BotToken)
		if err != nil {
			return fmt.Errorf("telegram emitter: %w", err)
		}
		em = tg
	}

	manager := processor.NewManager(processor.Deps{
		Client:     llm.NewOpenAIClient(cfg.Provider.APIKey, cfg.Provider.BaseURL),
		Catalog:    llm.NewCatalog(cfg.Models),
		Registry:   tools.NewRegistry(),
		Classifier: tools.NewClassifier(),
		Store:      store,
		Emitter:    em,
		Logger:     logger,
		Metrics:    metrics,
		Config: processor.Config{
			MaxIterations: cfg.Processor.MaxIterations,
			ModelTimeout:  cfg.Processor.ModelTimeout,
			PaidResumeCap: cfg.Processor.PaidResumeCap,
			FreeResumeCap: cfg.Processor.FreeResumeCap,
		},
	})

	srv := server.NewServer(server.Config{
		Addr:     cfg.Server.Addr(),
		Manager:  manager,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: registry,
	})
	return srv.Run(ctx)
}

func buildStore(cfg config.CheckpointConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return checkpoint.OpenSQLite(cfg.Path)
	default:
		return checkpoint.NewFileStore(cfg.Root), nil
	}
}
