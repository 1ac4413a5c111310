package scanner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"upgradeWatch/internal/detector"
	"upgradeWatch/internal/model"
	"upgradeWatch/internal/storage"
)

// ReplayStats summarizes a replay run.
type ReplayStats struct {
	Lines        int
	Malformed    int
	Transactions int
	Findings     int
}

// Replay evaluates JSONL log records from in and writes findings to sink.
// Malformed lines are logged and skipped.
func Replay(ctx context.Context, in io.Reader, det *detector.Detector, sink storage.Storage, logger *zap.Logger) (ReplayStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats ReplayStats

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	records := make([]model.LogRecord, 0)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			stats.Malformed++
			logger.Warn("skip malformed log record", zap.Int("line", stats.Lines), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	batches := GroupTransactions(records)
	stats.Transactions = len(batches)

	findings := evaluate(det, batches, time.Now())
	stats.Findings = len(findings)
	if err := sink.PutFindings(ctx, findings); err != nil {
		return stats, fmt.Errorf("store findings: %w", err)
	}

	return stats, nil
}
