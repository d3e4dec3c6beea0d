package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/metrics"
	"github.com/goodnatureofminers/spvnode/internal/spv/bloom"
	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
	"github.com/goodnatureofminers/spvnode/internal/spv/chainparams"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
	"github.com/goodnatureofminers/spvnode/internal/spv/store"
)

// memStore is the same in-memory store.HeaderStore double used by the
// chain package's own tests, reimplemented here since it is unexported
// there.
type memStore struct {
	nodes   map[chainhash.Hash]store.Node
	heights map[uint32]chainhash.Hash
	best    *store.Node
}

func newMemStore() *memStore {
	return &memStore{
		nodes:   make(map[chainhash.Hash]store.Node),
		heights: make(map[uint32]chainhash.Hash),
	}
}

func (m *memStore) GetNode(hash chainhash.Hash) (store.Node, error) {
	n, ok := m.nodes[hash]
	if !ok {
		return store.Node{}, store.ErrNotFound
	}
	return n, nil
}

func (m *memStore) PutNode(n store.Node) error {
	m.nodes[n.Hash] = n
	return nil
}

func (m *memStore) PutHeight(n store.Node) error {
	m.heights[n.Height] = n.Hash
	return nil
}

func (m *memStore) GetByHeight(h uint32) (chainhash.Hash, error) {
	hash, ok := m.heights[h]
	if !ok {
		return chainhash.Hash{}, store.ErrNotFound
	}
	return hash, nil
}

func (m *memStore) GetBest() (store.Node, error) {
	if m.best == nil {
		return store.Node{}, store.ErrNotFound
	}
	return *m.best, nil
}

func (m *memStore) SetBest(n store.Node) error {
	m.best = &n
	return nil
}

// fakeOutbox records every message handed to it, keyed by peer, in send
// order.
type fakeOutbox struct {
	mu   sync.Mutex
	sent map[peerset.PeerID][]wire.Message
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{sent: make(map[peerset.PeerID][]wire.Message)}
}

func (f *fakeOutbox) Send(peer peerset.PeerID, msg wire.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[peer] = append(f.sent[peer], msg)
}

func (f *fakeOutbox) messages(peer peerset.PeerID) []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Message(nil), f.sent[peer]...)
}

func (f *fakeOutbox) count(peer peerset.PeerID) int {
	return len(f.messages(peer))
}

// fakeSink records every delivery the coordinator makes to the wallet,
// preserving call order so tests can assert on in-order import.
type fakeSink struct {
	mu        sync.Mutex
	txBatches [][]*wire.MsgTx
	imports   []chain.ImportAction
}

func (f *fakeSink) ImportTxs(ctx context.Context, txs []*wire.MsgTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txBatches = append(f.txBatches, txs)
	return nil
}

func (f *fakeSink) ImportMerkle(ctx context.Context, action chain.ImportAction, expected []chainhash.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports = append(f.imports, action)
	return nil
}

func (f *fakeSink) importedHeights() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, len(f.imports))
	for i, a := range f.imports {
		out[i] = a.Node.Height
	}
	return out
}

// mineHeader finds a nonce satisfying parent's next-required target. It
// touches only wire.BlockHeader values and btcd's own proof-of-work
// comparison, so probing nonces here never mutates the chain's store —
// unlike calling ConnectHeader speculatively would.
func mineHeader(t *testing.T, c *chain.HeaderChain, parent chain.HeaderNode, ts time.Time, merkleRoot chainhash.Hash) wire.BlockHeader {
	t.Helper()
	bits, err := c.NextWorkRequired(parent, ts)
	if err != nil {
		t.Fatalf("NextWorkRequired: %v", err)
	}
	target := blockchain.CompactToBig(bits)
	h := wire.BlockHeader{
		Version:    1,
		PrevBlock:  parent.Hash,
		MerkleRoot: merkleRoot,
		Timestamp:  ts,
		Bits:       bits,
	}
	for nonce := uint32(0); nonce < 1_000_000; nonce++ {
		h.Nonce = nonce
		hash := h.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) < 0 {
			return h
		}
	}
	t.Fatalf("failed to mine a header extending %s", parent.Hash)
	return wire.BlockHeader{}
}

// newTestFilter builds a small non-empty bloom filter, since an empty one
// is ignored by UpdateBloom and downloadBlocks requires one to be set
// before it will request anything.
func newTestFilter() *bloom.Filter {
	f := bloom.New(10, 0.01, 0, wire.BloomUpdateAll)
	f.AddHash(chainhash.Hash{0xaa})
	return f
}

type testHarness struct {
	coord   *Coordinator
	chain   *chain.HeaderChain
	peers   *peerset.Registry
	outbox  *fakeOutbox
	sink    *fakeSink
	params  chainparams.Params
	nowTime time.Time
}

func newHarness(t *testing.T, fastCatchup time.Time) *testHarness {
	t.Helper()
	params := chainparams.New(&chaincfg.SimNetParams)
	hc := chain.New(params, newMemStore())

	peers := peerset.New()
	outbox := newFakeOutbox()
	sink := &fakeSink{}
	m := metrics.NewCoordinator()
	logger := zap.NewNop()

	c := New(hc, peers, sink, outbox, logger, m, Config{FastCatchup: fastCatchup})
	now := time.Now()
	c.SetClock(func() time.Time { return now })

	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	return &testHarness{coord: c, chain: hc, peers: peers, outbox: outbox, sink: sink, params: params, nowTime: now}
}

func (h *testHarness) connectPeer(t *testing.T, startHeight int32) peerset.PeerID {
	t.Helper()
	id := peerset.NewPeerID()
	h.peers.Insert(id, nil)
	h.coord.onHandshake(HandshakeEvent{Peer: id, Version: 70015, StartHeight: startHeight})
	return id
}

// mineChain mines n headers extending genesis on a scratch chain sharing
// the harness's params — so the resulting headers link onto the harness's
// own (still-genesis-only) chain — without ever committing them there.
// Used by scenarios that need to feed brand-new headers through the
// coordinator's onHeaders path instead of pre-seeding the store directly.
func mineChain(t *testing.T, params chainparams.Params, n int, start time.Time, seed byte) []wire.BlockHeader {
	t.Helper()
	sc := chain.New(params, newMemStore())
	if err := sc.Init(); err != nil {
		t.Fatalf("scratch Init: %v", err)
	}
	tip, err := sc.BestTip()
	if err != nil {
		t.Fatalf("scratch BestTip: %v", err)
	}
	headers := make([]wire.BlockHeader, 0, n)
	ts := start
	for i := 0; i < n; i++ {
		ts = ts.Add(time.Hour)
		hdr := mineHeader(t, sc, tip, ts, chainhash.Hash{seed, byte(i + 1)})
		action, err := sc.ConnectHeader(hdr, ts.Add(time.Hour), true)
		if err != nil {
			t.Fatalf("scratch ConnectHeader: %v", err)
		}
		tip = action.New[len(action.New)-1]
		headers = append(headers, hdr)
	}
	return headers
}

// deliverHeaders feeds headers to the coordinator as though they arrived
// over the wire from peer, driving onHeaders end to end.
func (h *testHarness) deliverHeaders(peer peerset.PeerID, headers []wire.BlockHeader) {
	ptrs := make([]*wire.BlockHeader, len(headers))
	for i := range headers {
		ptrs[i] = &headers[i]
	}
	h.coord.handlePeerEvent(InboundEvent{Peer: peer, Msg: &wire.MsgHeaders{Headers: ptrs}})
}
