package scanner

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseAddress(t *testing.T) {
	got, err := ParseAddress(" 0x1000000000000000000000000000000000000ABC ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0x1000000000000000000000000000000000000abc" {
		t.Fatalf("address mismatch: %s", got)
	}

	if got, err := ParseAddress(""); err != nil || got != "" {
		t.Fatalf("empty address should be allowed: %q %v", got, err)
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected error for short address")
	}
}

func TestParseAddresses(t *testing.T) {
	got, err := ParseAddresses([]string{"", "0x1000000000000000000000000000000000000001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != common.HexToAddress("0x1000000000000000000000000000000000000001") {
		t.Fatalf("addresses mismatch: %v", got)
	}
	if _, err := ParseAddresses([]string{"nope"}); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}

func TestParseTopic0(t *testing.T) {
	topic := "0xbc7cd75a20ee27fd9adebab32041f755214dbc6bffa90cc0225b39da2e5c2d3b"
	got, err := ParseTopic0([]string{topic})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Hex() != topic {
		t.Fatalf("topic mismatch: %v", got)
	}
	if _, err := ParseTopic0([]string{"0x1234"}); err == nil {
		t.Fatalf("expected error for short topic")
	}
	if _, err := ParseTopic0([]string{"zz"}); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
}
