package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"upgradeWatch/internal/chain"
	"upgradeWatch/internal/config"
	"upgradeWatch/internal/detector"
	"upgradeWatch/internal/scanner"
	"upgradeWatch/internal/storage"
	"upgradeWatch/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "upgradewatch",
		Short:        "Detect proxy upgrade events",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a block range for proxy upgrades",
		RunE:  runScan,
	}

	scanCmd.Flags().String("rpc", "", "RPC URL")
	scanCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	scanCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	addRuleFlags(scanCmd)
	scanCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	scanCmd.Flags().String("out", "./data/findings.jsonl", "output findings JSONL path")
	scanCmd.Flags().String("raw-out", "", "optional JSONL path for matched raw logs")
	scanCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	scanCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	scanCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	scanCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	scanCmd.Flags().Int("concurrency", 8, "parallel sender lookups")
	scanCmd.Flags().String("pg-dsn", "", "Postgres DSN for findings and scan state")
	scanCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(scanCmd)
	root.AddCommand(newReplayCmd())
	root.AddCommand(newTopicCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().String("signature", detector.DefaultSignature, "monitored event signature")
	cmd.Flags().String("contract", "", "only report upgrades of this proxy address")
}

func newDetector(rule config.Rule, logger *zap.Logger) (*detector.Detector, error) {
	contract, err := scanner.ParseAddress(rule.Contract)
	if err != nil {
		return nil, fmt.Errorf("contract filter: %w", err)
	}
	return detector.New(detector.Config{
		Signature:      rule.Signature,
		ContractFilter: contract,
	}, logger), nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	det, err := newDetector(cfg.Rule, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	var sinks storage.Fanout
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}

	var checkpoint scanner.Checkpointer = scanner.NewCheckpointStore(cfg.Checkpoint, cfg.CheckpointEnabled)
	if cfg.PGDSN != "" {
		store, err := openStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
		if cfg.CheckpointEnabled {
			checkpoint = scanner.StateCheckpoint{Store: store}
		}
	}
	if len(sinks) == 0 {
		return fmt.Errorf("no output configured")
	}

	var rawLogs storage.LogSink
	if cfg.RawOut != "" {
		rawLogs = storage.NewJsonlStorage(cfg.RawOut)
	}

	runner := scanner.NewRunner(scanner.RunConfig{
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Concurrency:  cfg.Concurrency,
	}, chainClient, det, sinks, rawLogs, checkpoint, logger)

	logger.Info("scan start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.String("signature", cfg.Signature),
		zap.String("topic0", det.TopicID()),
		zap.String("contract", det.ContractFilter()),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
	)

	return runner.Run(ctx)
}

func openStore(ctx context.Context, dsn string) (*postgres.Store, error) {
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
