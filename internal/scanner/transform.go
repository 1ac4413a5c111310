package scanner

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"upgradeWatch/internal/model"
)

func buildLogRecord(chainID uint64, log types.Log, from string, timestamp uint64, ingestedAt time.Time) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxFrom:      from,
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Timestamp:   timestamp,
		IngestedAt:  ingestedAt.UTC().Format(time.RFC3339Nano),
	}
}

// TxBatch is a transaction assembled from its log records, with the chain
// context of its first log.
type TxBatch struct {
	Tx          model.Transaction
	ChainID     uint64
	BlockNumber uint64
	BlockHash   string
	Timestamp   uint64
}

// GroupTransactions groups records by tx hash in first-seen order, keeping
// log order within each transaction. Removed logs are dropped.
func GroupTransactions(records []model.LogRecord) []TxBatch {
	batches := make([]TxBatch, 0)
	index := make(map[string]int)

	for _, record := range records {
		if record.Removed {
			continue
		}
		key := strings.ToLower(record.TxHash)
		i, ok := index[key]
		if !ok {
			i = len(batches)
			index[key] = i
			batches = append(batches, TxBatch{
				Tx:          model.Transaction{Hash: record.TxHash},
				ChainID:     record.ChainID,
				BlockNumber: record.BlockNumber,
				BlockHash:   record.BlockHash,
				Timestamp:   record.Timestamp,
			})
		}
		if batches[i].Tx.From == "" {
			batches[i].Tx.From = record.TxFrom
		}
		batches[i].Tx.Logs = append(batches[i].Tx.Logs, record.Entry())
	}

	return batches
}
