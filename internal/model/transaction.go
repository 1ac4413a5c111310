package model

// LogEntry is one event log emitted within a transaction.
// An empty Address or nil Topics means the field was absent.
type LogEntry struct {
	Address string   `json:"address,omitempty"`
	Topics  []string `json:"topics,omitempty"`
}

// Transaction is the unit evaluated by the detector.
// Hash and From are optional and default to empty strings.
type Transaction struct {
	Hash string     `json:"hash,omitempty"`
	From string     `json:"from,omitempty"`
	Logs []LogEntry `json:"logs"`
}
