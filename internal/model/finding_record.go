package model

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FindingRecord is a finding enriched with chain context for storage.
type FindingRecord struct {
	ID          string  `json:"id"`
	ChainID     uint64  `json:"chain_id"`
	BlockNumber uint64  `json:"block_number"`
	BlockHash   string  `json:"block_hash"`
	Timestamp   uint64  `json:"timestamp"`
	DetectedAt  string  `json:"detected_at"`
	Finding     Finding `json:"finding"`
}

// FindingID derives a stable identifier from the chain id and the finding's
// tx hash, proxy and new implementation, so re-scans produce the same id.
func FindingID(chainID uint64, finding Finding) string {
	key := strings.Join([]string{
		strconv.FormatUint(chainID, 10),
		finding.AlertID,
		finding.Metadata["txHash"],
		finding.Metadata["proxy"],
		finding.Metadata["newImplementation"],
	}, ":")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
