package storage

import (
	"context"

	"upgradeWatch/internal/model"
)

// Storage defines a sink for findings.
type Storage interface {
	PutFindings(ctx context.Context, findings []model.FindingRecord) error
}

// LogSink defines a sink for raw log records.
type LogSink interface {
	PutLogBatch(logs []model.LogRecord) error
}

// Fanout writes findings to every sink in order and stops at the first error.
type Fanout []Storage

func (f Fanout) PutFindings(ctx context.Context, findings []model.FindingRecord) error {
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.PutFindings(ctx, findings); err != nil {
			return err
		}
	}
	return nil
}
