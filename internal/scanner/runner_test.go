package scanner

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"upgradeWatch/internal/detector"
)

type fakeChain struct {
	chainID     int64
	latest      uint64
	logs        []types.Log
	senders     map[common.Hash]common.Address
	filterCalls []BlockRange
	filterErrs  int
	addresses   []common.Address
	topic0      []common.Hash
}

func (f *fakeChain) GetChainID(context.Context) (*big.Int, error) {
	if f.chainID == 0 {
		return big.NewInt(1), nil
	}
	return big.NewInt(f.chainID), nil
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1700000000 + number, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	if f.filterErrs > 0 {
		f.filterErrs--
		return nil, errors.New("rpc unavailable")
	}
	f.filterCalls = append(f.filterCalls, BlockRange{From: from, To: to})
	f.addresses = addresses
	f.topic0 = topic0

	out := make([]types.Log, 0)
	for _, log := range f.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeChain) TransactionSender(_ context.Context, txHash common.Hash) (common.Address, error) {
	from, ok := f.senders[txHash]
	if !ok {
		return common.Address{}, errors.New("not found")
	}
	return from, nil
}

func upgradeTypesLog(block uint64, txHash common.Hash, index uint, proxy, impl common.Address) types.Log {
	return types.Log{
		Address:     proxy,
		Topics:      []common.Hash{common.HexToHash(detector.ComputeTopicID(detector.DefaultSignature)), common.BytesToHash(impl.Bytes())},
		BlockNumber: block,
		TxHash:      txHash,
		Index:       index,
	}
}

func TestRunnerEmitsFindings(t *testing.T) {
	proxy := common.HexToAddress("0x1000000000000000000000000000000000000001")
	impl := common.HexToAddress("0x2000000000000000000000000000000000000002")
	caller := common.HexToAddress("0x4000000000000000000000000000000000000004")
	txA := common.HexToHash("0xaa")
	txB := common.HexToHash("0xbb")

	chain := &fakeChain{
		latest: 25,
		logs: []types.Log{
			upgradeTypesLog(12, txA, 0, proxy, impl),
			upgradeTypesLog(12, txA, 1, proxy, impl),
			upgradeTypesLog(21, txB, 0, proxy, impl),
			upgradeTypesLog(21, txB, 0, proxy, impl),
		},
		senders:    map[common.Hash]common.Address{txA: caller},
		filterErrs: 1,
	}

	sink := &memorySink{}
	checkpoint := NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"), true)
	runner := NewRunner(RunConfig{
		FromBlock:    10,
		BatchSize:    10,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		Concurrency:  2,
	}, chain, detector.New(detector.Config{}, nil), sink, nil, checkpoint, zap.NewNop())

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(chain.filterCalls) != 2 || chain.filterCalls[0] != (BlockRange{From: 10, To: 19}) || chain.filterCalls[1] != (BlockRange{From: 20, To: 25}) {
		t.Fatalf("unexpected filter calls: %+v", chain.filterCalls)
	}
	if len(chain.addresses) != 0 {
		t.Fatalf("expected no address filter, got %v", chain.addresses)
	}
	if len(chain.topic0) != 1 || chain.topic0[0].Hex() != detector.ComputeTopicID(detector.DefaultSignature) {
		t.Fatalf("unexpected topic filter: %v", chain.topic0)
	}

	if len(sink.findings) != 2 {
		t.Fatalf("expected two findings, got %d", len(sink.findings))
	}
	first := sink.findings[0]
	if first.BlockNumber != 12 || first.Timestamp != 1700000012 {
		t.Fatalf("chain context mismatch: %+v", first)
	}
	if first.Finding.Metadata["caller"] != "0x4000000000000000000000000000000000000004" {
		t.Fatalf("caller mismatch: %s", first.Finding.Metadata["caller"])
	}
	if sink.findings[1].Finding.Metadata["caller"] != "" {
		t.Fatalf("failed sender lookup should degrade to empty caller")
	}

	last, ok, err := checkpoint.Load(context.Background(), CheckpointScope{ChainID: 1, Topic0: detector.ComputeTopicID(detector.DefaultSignature)})
	if err != nil || !ok || last != 25 {
		t.Fatalf("checkpoint mismatch: %d %v %v", last, ok, err)
	}
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{latest: 30}
	checkpoint := NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"), true)
	scope := CheckpointScope{ChainID: 1, Topic0: detector.ComputeTopicID(detector.DefaultSignature)}
	if err := checkpoint.Save(ctx, scope, 30); err != nil {
		t.Fatalf("save: %v", err)
	}

	runner := NewRunner(RunConfig{FromBlock: 1, BatchSize: 5}, chain, detector.New(detector.Config{}, nil), &memorySink{}, nil, checkpoint, nil)
	if err := runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(chain.filterCalls) != 0 {
		t.Fatalf("expected no filter calls, got %+v", chain.filterCalls)
	}
}

func TestRunnerPassesContractFilter(t *testing.T) {
	chain := &fakeChain{latest: 5}
	det := detector.New(detector.Config{ContractFilter: "0x1000000000000000000000000000000000000001"}, nil)

	runner := NewRunner(RunConfig{FromBlock: 1, BatchSize: 10}, chain, det, &memorySink{}, nil, nil, nil)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := common.HexToAddress("0x1000000000000000000000000000000000000001")
	if len(chain.addresses) != 1 || chain.addresses[0] != want {
		t.Fatalf("address filter mismatch: %v", chain.addresses)
	}
}

func TestRunnerRequiresDependencies(t *testing.T) {
	runner := NewRunner(RunConfig{BatchSize: 1}, &fakeChain{}, nil, &memorySink{}, nil, nil, nil)
	if err := runner.Run(context.Background()); err == nil {
		t.Fatalf("expected error for nil detector")
	}
}

type memoryState struct {
	blocks map[string]uint64
}

func (m *memoryState) LoadState(_ context.Context, name string) (uint64, bool, error) {
	block, ok := m.blocks[name]
	return block, ok, nil
}

func (m *memoryState) SaveState(_ context.Context, name string, block uint64) error {
	m.blocks[name] = block
	return nil
}

func TestRunnerProgressIsScopedByChainAndContract(t *testing.T) {
	ctx := context.Background()
	state := StateCheckpoint{Store: &memoryState{blocks: make(map[string]uint64)}}

	first := NewRunner(RunConfig{FromBlock: 1, ToBlock: 100, BatchSize: 50}, &fakeChain{chainID: 1}, detector.New(detector.Config{}, nil), &memorySink{}, nil, state, nil)
	if err := first.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	proxy := common.HexToAddress("0x1000000000000000000000000000000000000001")
	impl := common.HexToAddress("0x2000000000000000000000000000000000000002")
	chain := &fakeChain{
		chainID: 56,
		logs:    []types.Log{upgradeTypesLog(10, common.HexToHash("0xaa"), 0, proxy, impl)},
	}
	det := detector.New(detector.Config{ContractFilter: "0x1000000000000000000000000000000000000001"}, nil)
	sink := &memorySink{}

	second := NewRunner(RunConfig{FromBlock: 1, ToBlock: 100, BatchSize: 50}, chain, det, sink, nil, state, nil)
	if err := second.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(chain.filterCalls) != 2 || chain.filterCalls[0].From != 1 {
		t.Fatalf("second scan should start at block 1: %+v", chain.filterCalls)
	}
	if len(sink.findings) != 1 || sink.findings[0].BlockNumber != 10 {
		t.Fatalf("expected the block 10 upgrade, got %+v", sink.findings)
	}

	third := NewRunner(RunConfig{FromBlock: 1, ToBlock: 100, BatchSize: 50}, &fakeChain{chainID: 1}, det, &memorySink{}, nil, state, nil)
	thirdChain := third.chain.(*fakeChain)
	if err := third.Run(ctx); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if len(thirdChain.filterCalls) != 2 {
		t.Fatalf("same chain with a different filter should rescan: %+v", thirdChain.filterCalls)
	}
}
