package detector

import (
	"strings"
	"testing"

	"upgradeWatch/internal/model"
)

const (
	proxyAddr = "0x1000000000000000000000000000000000000001"
	implAddr  = "0x2000000000000000000000000000000000000002"
)

func implTopic(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(addr, "0x")
}

func TestMatchLogRequiresAddressAndTopics(t *testing.T) {
	topic := ComputeTopicID(DefaultSignature)

	cases := []struct {
		name string
		log  model.LogEntry
	}{
		{name: "empty", log: model.LogEntry{}},
		{name: "no address", log: model.LogEntry{Topics: []string{topic}}},
		{name: "no topics", log: model.LogEntry{Address: proxyAddr}},
		{name: "blank address", log: model.LogEntry{Address: "  ", Topics: []string{topic}}},
	}

	for _, tc := range cases {
		if _, ok := MatchLog(tc.log, "", topic); ok {
			t.Fatalf("%s: unexpected match", tc.name)
		}
	}
}

func TestMatchLogExtractsImplementation(t *testing.T) {
	topic := ComputeTopicID(DefaultSignature)
	log := model.LogEntry{
		Address: strings.ToUpper(proxyAddr),
		Topics:  []string{strings.ToUpper(topic), implTopic("0xABCDEF0000000000000000000000000000000002")},
	}

	m, ok := MatchLog(log, "", topic)
	if !ok {
		t.Fatalf("expected match")
	}
	if m.Proxy != proxyAddr {
		t.Fatalf("proxy mismatch: %s", m.Proxy)
	}
	if m.NewImplementation != "0xabcdef0000000000000000000000000000000002" {
		t.Fatalf("implementation mismatch: %s", m.NewImplementation)
	}
}

func TestMatchLogMalformedSecondTopic(t *testing.T) {
	topic := ComputeTopicID(DefaultSignature)
	bad := []string{
		"",
		"0x1234",
		"not-hex",
		implTopic(implAddr) + "00",
		strings.TrimPrefix(implTopic(implAddr), "0x"),
	}

	for _, second := range bad {
		m, ok := MatchLog(model.LogEntry{Address: proxyAddr, Topics: []string{topic, second}}, "", topic)
		if !ok {
			t.Fatalf("expected match for second topic %q", second)
		}
		if m.NewImplementation != "" {
			t.Fatalf("expected empty implementation for %q, got %s", second, m.NewImplementation)
		}
	}
}

func TestMatchLogTopicMismatch(t *testing.T) {
	topic := ComputeTopicID(DefaultSignature)
	log := model.LogEntry{
		Address: proxyAddr,
		Topics:  []string{ComputeTopicID("AdminChanged(address,address)"), implTopic(implAddr)},
	}
	if _, ok := MatchLog(log, "", topic); ok {
		t.Fatalf("unexpected match for different event")
	}
}

func TestMatchLogContractFilter(t *testing.T) {
	topic := ComputeTopicID(DefaultSignature)
	log := model.LogEntry{Address: proxyAddr, Topics: []string{topic, implTopic(implAddr)}}

	if _, ok := MatchLog(log, "0x3000000000000000000000000000000000000003", topic); ok {
		t.Fatalf("unexpected match for filtered address")
	}
	if _, ok := MatchLog(log, strings.ToUpper(proxyAddr), topic); !ok {
		t.Fatalf("filter comparison should ignore case")
	}
}
