// Package cmd provides the CLI for the bhakti server.
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bhakti-db/bhakti/internal/config"
	"github.com/bhakti-db/bhakti/internal/engine"
	"github.com/bhakti-db/bhakti/internal/logging"
	"github.com/bhakti-db/bhakti/internal/server"
	"github.com/bhakti-db/bhakti/pkg/version"
)

// NewRootCmd creates the root command. The server takes exactly one
// positional argument, the path to the YAML configuration file.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bhakti <config.yaml>",
		Short: "Networked in-memory vector database",
		Long: `Bhakti is a small in-memory vector database with disk persistence,
reachable over a length-delimited TCP protocol carrying JSON messages.

It stores documents together with dense vectors of a fixed dimension,
builds inverted indices over document fields, answers exhaustive
similarity queries and filters candidates with a compact expression
language.`,
		Version:       version.Short(),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), args[0])
		},
	}
	cmd.SetVersionTemplate("bhakti version {{.Version}}\n")
	return cmd
}

// Execute runs the root command with signal-driven shutdown.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// runServer wires config, logging, engine and listener together and blocks
// until shutdown.
func runServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.DBPath)
	if cfg.Verbose {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("bhakti starting",
		slog.String("version", version.Short()),
		slog.String("engine", cfg.DBEngine),
		slog.String("db_path", cfg.DBPath),
		slog.Int("dimension", cfg.Dimension),
		slog.String("addr", cfg.Addr()))
	logger.Debug("io settings",
		slog.String("eof", cfg.EOF),
		slog.Float64("timeout_seconds", cfg.Timeout),
		slog.Int("buffer_size", cfg.BufferSize))

	eng, err := engine.New(engine.Options{
		Dimension: cfg.Dimension,
		Path:      cfg.DBPath,
		Cached:    cfg.Cached,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	dispatcher := server.NewDispatcher()
	dispatcher.Register(server.DefaultEngineName, eng)

	srv := server.New(server.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		EOF:         cfg.EOF,
		ReadTimeout: cfg.ReadTimeout(),
		BufferSize:  cfg.BufferSize,
	}, dispatcher)

	err = srv.ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("bhakti stopped")
		return nil
	}
	return err
}
