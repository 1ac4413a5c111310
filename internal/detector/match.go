package detector

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"upgradeWatch/internal/model"
)

// Match is an upgrade log that passed the filters.
type Match struct {
	Proxy             string
	NewImplementation string
}

// MatchLog reports whether log is an upgrade event for topicID emitted by an
// address that passes filter. An empty filter accepts every address.
func MatchLog(log model.LogEntry, filter, topicID string) (Match, bool) {
	proxy := normalize(log.Address)
	if proxy == "" || len(log.Topics) == 0 {
		return Match{}, false
	}

	if filter = normalize(filter); filter != "" && proxy != filter {
		return Match{}, false
	}

	if normalize(log.Topics[0]) != normalize(topicID) {
		return Match{}, false
	}

	var impl string
	if len(log.Topics) > 1 {
		impl = topicToAddress(log.Topics[1])
	}

	return Match{Proxy: proxy, NewImplementation: impl}, true
}

// topicToAddress returns the low 20 bytes of a 32-byte topic, or "" when the
// topic does not decode to exactly 32 bytes.
func topicToAddress(topic string) string {
	data, err := hexutil.Decode(strings.TrimSpace(topic))
	if err != nil || len(data) != common.HashLength {
		return ""
	}
	return normalize(common.BytesToAddress(data[common.HashLength-common.AddressLength:]).Hex())
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
