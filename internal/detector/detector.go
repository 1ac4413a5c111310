package detector

import (
	"go.uber.org/zap"

	"upgradeWatch/internal/model"
)

// Config selects the monitored event and an optional proxy address.
type Config struct {
	Signature      string
	ContractFilter string
}

// Detector evaluates transactions for proxy upgrade events. It holds no
// mutable state and is safe for concurrent use.
type Detector struct {
	topicID string
	filter  string
	logger  *zap.Logger
}

// New builds a Detector, hashing the signature once.
func New(cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	signature := cfg.Signature
	if signature == "" {
		signature = DefaultSignature
	}
	return &Detector{
		topicID: ComputeTopicID(signature),
		filter:  normalize(cfg.ContractFilter),
		logger:  logger,
	}
}

// TopicID returns the topic0 the detector matches against.
func (d *Detector) TopicID() string {
	return d.topicID
}

// ContractFilter returns the normalized proxy filter, or "" for all contracts.
func (d *Detector) ContractFilter() string {
	return d.filter
}

// HandleTransaction returns one finding per distinct upgrade event in tx, in
// log order.
func (d *Detector) HandleTransaction(tx model.Transaction) []model.Finding {
	findings := make([]model.Finding, 0)
	seen := make(dedupSet)

	for _, log := range tx.Logs {
		m, ok := MatchLog(log, d.filter, d.topicID)
		if !ok {
			continue
		}
		if !seen.add(newDedupKey(tx.Hash, m)) {
			d.logger.Debug("duplicate upgrade event",
				zap.String("tx_hash", tx.Hash),
				zap.String("proxy", m.Proxy),
				zap.String("new_implementation", m.NewImplementation),
			)
			continue
		}

		d.logger.Debug("upgrade event detected",
			zap.String("tx_hash", tx.Hash),
			zap.String("proxy", m.Proxy),
			zap.String("new_implementation", m.NewImplementation),
		)
		findings = append(findings, BuildFinding(m, tx.From, tx.Hash))
	}

	return findings
}
