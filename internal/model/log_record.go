package model

// LogRecord is the normalized representation of a chain log for storage and replay.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxFrom      string   `json:"tx_from,omitempty"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
	IngestedAt  string   `json:"ingested_at"`
}

// Entry returns the subset of the record the detector looks at.
func (lr LogRecord) Entry() LogEntry {
	return LogEntry{Address: lr.Address, Topics: lr.Topics}
}
