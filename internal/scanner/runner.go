package scanner

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"upgradeWatch/internal/detector"
	"upgradeWatch/internal/model"
	"upgradeWatch/internal/storage"
)

// ChainReader is the subset of the chain client used by the runner.
type ChainReader interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error)
}

// RunConfig holds runtime settings for a scan.
type RunConfig struct {
	FromBlock    uint64
	ToBlock      uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	Concurrency  int
}

// Runner streams upgrade logs from the chain, evaluates them per transaction
// and writes findings to storage.
type Runner struct {
	cfg        RunConfig
	chain      ChainReader
	detector   *detector.Detector
	storage    storage.Storage
	rawLogs    storage.LogSink
	checkpoint Checkpointer
	logger     *zap.Logger
	seen       map[string]struct{}
	now        func() time.Time
}

// NewRunner builds a Runner with its dependencies. rawLogs and checkpoint may be nil.
func NewRunner(
	cfg RunConfig,
	chainClient ChainReader,
	det *detector.Detector,
	sink storage.Storage,
	rawLogs storage.LogSink,
	checkpoint Checkpointer,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runner{
		cfg:        cfg,
		chain:      chainClient,
		detector:   det,
		storage:    sink,
		rawLogs:    rawLogs,
		checkpoint: checkpoint,
		logger:     logger,
		seen:       make(map[string]struct{}),
		now:        time.Now,
	}
}

// Run executes the scan loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if r.detector == nil {
		return fmt.Errorf("detector is nil")
	}
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	chainID, err := r.chain.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	chainIDValue := chainID.Uint64()

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	scope := CheckpointScope{
		ChainID:  chainIDValue,
		Topic0:   r.detector.TopicID(),
		Contract: r.detector.ContractFilter(),
	}
	if r.checkpoint != nil {
		last, ok, err := r.checkpoint.Load(ctx, scope)
		if err != nil {
			return err
		}
		if ok && last >= from {
			from = last + 1
			r.logger.Info("resume from checkpoint", zap.String("scope", scope.String()), zap.Uint64("last_processed", last), zap.Uint64("from", from))
		}
	}

	if from > to {
		r.logger.Info("nothing to scan", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	addresses, err := ParseAddresses([]string{r.detector.ContractFilter()})
	if err != nil {
		return err
	}
	topic0, err := ParseTopic0([]string{r.detector.TopicID()})
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		found, err := r.processRange(ctx, chainIDValue, blockRange, addresses, topic0)
		if err != nil {
			return err
		}

		if r.checkpoint != nil {
			if err := r.checkpoint.Save(ctx, scope, blockRange.To); err != nil {
				return err
			}
		}

		r.logger.Info("batch complete", zap.Int("findings", found), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	return nil
}

func (r *Runner) processRange(ctx context.Context, chainID uint64, blockRange BlockRange, addresses []common.Address, topic0 []common.Hash) (int, error) {
	r.logger.Debug("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

	logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To, addresses, topic0)
	if err != nil {
		return 0, fmt.Errorf("filter logs: %w", err)
	}

	fresh := make([]types.Log, 0, len(logs))
	for _, log := range logs {
		if log.Removed || r.isDuplicate(log) {
			continue
		}
		fresh = append(fresh, log)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	senders, err := r.lookupSenders(ctx, fresh)
	if err != nil {
		return 0, err
	}

	ingestedAt := r.now().UTC()
	records := make([]model.LogRecord, 0, len(fresh))
	for _, log := range fresh {
		ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return 0, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		records = append(records, buildLogRecord(chainID, log, senders[log.TxHash], ts, ingestedAt))
	}

	if r.rawLogs != nil {
		if err := r.rawLogs.PutLogBatch(records); err != nil {
			return 0, fmt.Errorf("store raw logs: %w", err)
		}
	}

	findings := evaluate(r.detector, GroupTransactions(records), ingestedAt)
	if err := r.storage.PutFindings(ctx, findings); err != nil {
		return 0, fmt.Errorf("store findings: %w", err)
	}

	for _, f := range findings {
		r.logger.Warn("proxy upgrade detected",
			zap.String("proxy", f.Finding.Metadata["proxy"]),
			zap.String("new_implementation", f.Finding.Metadata["newImplementation"]),
			zap.String("tx_hash", f.Finding.Metadata["txHash"]),
			zap.Uint64("block_number", f.BlockNumber),
		)
	}

	return len(findings), nil
}

// lookupSenders resolves the sender of every distinct transaction. A failed
// lookup leaves the sender empty.
func (r *Runner) lookupSenders(ctx context.Context, logs []types.Log) (map[common.Hash]string, error) {
	senders := make(map[common.Hash]string)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	queued := make(map[common.Hash]struct{})
	for _, log := range logs {
		txHash := log.TxHash
		if _, ok := queued[txHash]; ok {
			continue
		}
		queued[txHash] = struct{}{}

		g.Go(func() error {
			var from common.Address
			err := withRetry(gctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
				var err error
				from, err = r.chain.TransactionSender(ctx, txHash)
				return err
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("sender lookup failed", zap.Error(err), zap.String("tx_hash", txHash.Hex()))
				return nil
			}

			mu.Lock()
			senders[txHash] = strings.ToLower(from.Hex())
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return senders, nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, fromBlock, toBlock, addresses, topic0)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}

// evaluate runs the detector over each transaction and wraps the findings
// with their chain context.
func evaluate(det *detector.Detector, batches []TxBatch, detectedAt time.Time) []model.FindingRecord {
	records := make([]model.FindingRecord, 0)
	stamp := detectedAt.UTC().Format(time.RFC3339Nano)
	for _, batch := range batches {
		for _, finding := range det.HandleTransaction(batch.Tx) {
			records = append(records, model.FindingRecord{
				ID:          model.FindingID(batch.ChainID, finding),
				ChainID:     batch.ChainID,
				BlockNumber: batch.BlockNumber,
				BlockHash:   batch.BlockHash,
				Timestamp:   batch.Timestamp,
				DetectedAt:  stamp,
				Finding:     finding,
			})
		}
	}
	return records
}
