package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"upgradeWatch/internal/config"
	"upgradeWatch/internal/scanner"
	"upgradeWatch/internal/storage"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Evaluate recorded log records offline",
		RunE:  runReplay,
	}

	cmd.Flags().String("in", "", "input log records JSONL")
	cmd.Flags().String("out", "./data/findings.jsonl", "output findings JSONL path")
	addRuleFlags(cmd)
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for findings")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}

	det, err := newDetector(cfg.Rule, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks storage.Fanout
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}
	if cfg.PGDSN != "" {
		store, err := openStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		return fmt.Errorf("no output configured")
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("topic0", det.TopicID()),
		zap.String("contract", det.ContractFilter()),
	)

	stats, err := scanner.Replay(ctx, inputFile, det, sinks, logger)
	if err != nil {
		return err
	}

	logger.Info("replay complete",
		zap.Int("lines", stats.Lines),
		zap.Int("malformed", stats.Malformed),
		zap.Int("transactions", stats.Transactions),
		zap.Int("findings", stats.Findings),
	)

	return nil
}
