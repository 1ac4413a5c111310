package detector

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultSignature is the ERC-1967 proxy upgrade event.
const DefaultSignature = "Upgraded(address)"

// ComputeTopicID returns the topic0 of an event signature as 0x-prefixed
// lowercase hex. Parameter names and the indexed keyword are not part of the
// preimage.
func ComputeTopicID(signature string) string {
	return crypto.Keccak256Hash([]byte(signature)).Hex()
}
