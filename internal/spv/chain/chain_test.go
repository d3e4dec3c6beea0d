package chain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/spv/chainparams"
	"github.com/goodnatureofminers/spvnode/internal/spv/store"
)

// memStore is an in-memory store.HeaderStore double for exercising
// HeaderChain without the badger-backed implementation.
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

// mineHeader finds a nonce satisfying the parent's next-required target.
// SimNet's genesis target is close to half the 256-bit space, so this
// converges in a handful of iterations.
func mineHeader(t *testing.T, c *HeaderChain, parent HeaderNode, ts time.Time) wire.BlockHeader {
	t.Helper()
	bits, err := c.nextWorkRequired(parent, ts)
	if err != nil {
		t.Fatalf("nextWorkRequired: %v", err)
	}
	h := wire.BlockHeader{
		Version:    1,
		PrevBlock:  parent.Hash,
		MerkleRoot: chainhash.Hash{0x01},
		Timestamp:  ts,
		Bits:       bits,
	}
	for nonce := uint32(0); nonce < 1_000_000; nonce++ {
		h.Nonce = nonce
		if _, err := c.verifyHeader(h, parent, ts.Add(time.Hour)); err == nil {
			return h
		}
	}
	t.Fatalf("failed to mine a header extending %s", parent.Hash)
	return wire.BlockHeader{}
}

func newTestChain(t *testing.T) (*HeaderChain, chainparams.Params) {
	t.Helper()
	params := chainparams.New(&chaincfg.SimNetParams)
	c := New(params, newMemStore())
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c, params
}

func TestInitIsIdempotent(t *testing.T) {
	c, _ := newTestChain(t)
	tip1, err := c.BestTip()
	if err != nil {
		t.Fatalf("BestTip: %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	tip2, err := c.BestTip()
	if err != nil {
		t.Fatalf("BestTip: %v", err)
	}
	if tip1.Hash != tip2.Hash || tip1.Height != 0 {
		t.Fatalf("Init is not idempotent: %+v vs %+v", tip1, tip2)
	}
}

func TestConnectHeadersExtendsBestChain(t *testing.T) {
	c, _ := newTestChain(t)
	tip, err := c.BestTip()
	if err != nil {
		t.Fatalf("BestTip: %v", err)
	}

	base := time.Unix(tip.Header.Timestamp.Unix()+1, 0).UTC()
	var headers []wire.BlockHeader
	parent := tip
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Minute)
		h := mineHeader(t, c, parent, ts)
		headers = append(headers, h)
		parent, err = c.verifyHeader(h, parent, ts.Add(time.Hour))
		if err != nil {
			t.Fatalf("verifyHeader for mined header: %v", err)
		}
	}

	action, err := c.ConnectHeaders(headers, base.Add(24*time.Hour), true)
	if err != nil {
		t.Fatalf("ConnectHeaders: %v", err)
	}
	if action.Kind != ActionBestChain {
		t.Fatalf("expected ActionBestChain, got %v", action.Kind)
	}

	best, err := c.BestTip()
	if err != nil {
		t.Fatalf("BestTip: %v", err)
	}
	if best.Height != 10 {
		t.Fatalf("expected best tip height 10, got %d", best.Height)
	}

	loc, err := c.BlockLocator()
	if err != nil {
		t.Fatalf("BlockLocator: %v", err)
	}
	if len(loc) != 11 {
		t.Fatalf("expected locator of length 11 (genesis + 10), got %d", len(loc))
	}
	if loc[len(loc)-1] != *c.params.GenesisHash {
		t.Fatalf("locator must end in genesis hash")
	}
	for i, hash := range loc[:10] {
		want, err := c.NodeAtHeight(uint32(10 - i))
		if err != nil {
			t.Fatalf("NodeAtHeight(%d): %v", 10-i, err)
		}
		if want.Hash != hash {
			t.Fatalf("locator[%d] = %s, want %s", i, hash, want.Hash)
		}
	}
}

func TestConnectHeadersRejectsUnlinkedBatch(t *testing.T) {
	c, _ := newTestChain(t)
	tip, _ := c.BestTip()
	base := tip.Header.Timestamp.Add(time.Minute)

	h1 := mineHeader(t, c, tip, base)
	n1, err := c.verifyHeader(h1, tip, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("verifyHeader: %v", err)
	}
	h2 := mineHeader(t, c, n1, base.Add(10*time.Minute))

	h2.PrevBlock = chainhash.Hash{0xff}
	if _, err := c.ConnectHeaders([]wire.BlockHeader{h1, h2}, base.Add(time.Hour), true); err == nil {
		t.Fatalf("expected an error for an unlinked batch")
	}

	if _, err := c.getNode(h2.BlockHash()); err == nil {
		t.Fatalf("a rejected batch must not persist any of its headers")
	}
}

func TestReorgToHeavierSideChain(t *testing.T) {
	c, _ := newTestChain(t)
	tip, _ := c.BestTip()
	base := tip.Header.Timestamp.Add(time.Minute)

	mineChain := func(parent HeaderNode, n int, offsetMinutes int) []wire.BlockHeader {
		var hs []wire.BlockHeader
		cur := parent
		var err error
		for i := 0; i < n; i++ {
			ts := base.Add(time.Duration(offsetMinutes+i*10) * time.Minute)
			h := mineHeader(t, c, cur, ts)
			hs = append(hs, h)
			cur, err = c.verifyHeader(h, cur, ts.Add(time.Hour))
			if err != nil {
				t.Fatalf("verifyHeader: %v", err)
			}
		}
		return hs
	}

	chainA := mineChain(tip, 3, 0)
	if _, err := c.ConnectHeaders(chainA, base.Add(48*time.Hour), true); err != nil {
		t.Fatalf("connect chain A: %v", err)
	}
	best, _ := c.BestTip()
	if best.Height != 3 {
		t.Fatalf("expected height 3 after chain A, got %d", best.Height)
	}

	chainB := mineChain(tip, 4, 1000)
	action, err := c.ConnectHeaders(chainB, base.Add(48*time.Hour), true)
	if err != nil {
		t.Fatalf("connect chain B: %v", err)
	}
	if action.Kind != ActionChainReorg {
		t.Fatalf("expected ActionChainReorg, got %v", action.Kind)
	}
	if len(action.Old) != 3 || len(action.New) != 4 {
		t.Fatalf("expected 3 old / 4 new nodes, got %d/%d", len(action.Old), len(action.New))
	}

	best, _ = c.BestTip()
	if best.Height != 4 {
		t.Fatalf("expected reorg to height 4, got %d", best.Height)
	}
}

func TestConnectBlockOrdersImports(t *testing.T) {
	c, _ := newTestChain(t)
	tip, _ := c.BestTip()
	base := tip.Header.Timestamp.Add(time.Minute)

	var headers []wire.BlockHeader
	var nodes []HeaderNode
	parent := tip
	var err error
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Minute)
		h := mineHeader(t, c, parent, ts)
		headers = append(headers, h)
		parent, err = c.verifyHeader(h, parent, ts.Add(time.Hour))
		if err != nil {
			t.Fatalf("verifyHeader: %v", err)
		}
		nodes = append(nodes, parent)
	}
	if _, err := c.ConnectHeaders(headers, base.Add(24*time.Hour), true); err != nil {
		t.Fatalf("ConnectHeaders: %v", err)
	}

	c.SeedImportTip(tip)

	// Deliver height 3 before heights 1 and 2: must defer (nil action).
	action, err := c.ConnectBlock(nodes[2].Hash)
	if err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}
	if action != nil {
		t.Fatalf("expected a deferred (nil) import for an out-of-order block, got %+v", action)
	}

	action, err = c.ConnectBlock(nodes[0].Hash)
	if err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}
	if action == nil || action.Kind != ImportBestBlock {
		t.Fatalf("expected ImportBestBlock for height 1, got %+v", action)
	}

	action, err = c.ConnectBlock(nodes[1].Hash)
	if err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}
	if action == nil || action.Kind != ImportBestBlock {
		t.Fatalf("expected ImportBestBlock for height 2, got %+v", action)
	}

	action, err = c.ConnectBlock(nodes[2].Hash)
	if err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}
	if action == nil || action.Kind != ImportBestBlock {
		t.Fatalf("expected ImportBestBlock for height 3 once contiguous, got %+v", action)
	}

	tipNode, ok := c.ImportTip()
	if !ok || tipNode.Hash != nodes[2].Hash {
		t.Fatalf("expected import tip at height 3, got %+v (ok=%v)", tipNode, ok)
	}
}

func TestBlocksToDownloadRespectsFastCatchup(t *testing.T) {
	c, _ := newTestChain(t)
	tip, _ := c.BestTip()
	base := tip.Header.Timestamp.Add(time.Minute)

	var headers []wire.BlockHeader
	parent := tip
	var err error
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Minute)
		h := mineHeader(t, c, parent, ts)
		headers = append(headers, h)
		parent, err = c.verifyHeader(h, parent, ts.Add(time.Hour))
		if err != nil {
			t.Fatalf("verifyHeader: %v", err)
		}
	}
	if _, err := c.ConnectHeaders(headers, base.Add(24*time.Hour), true); err != nil {
		t.Fatalf("ConnectHeaders: %v", err)
	}

	entries, err := c.BlocksToDownload(base.Add(25 * time.Minute))
	if err != nil {
		t.Fatalf("BlocksToDownload: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one entry")
	}
	if entries[0].Height < 2 {
		t.Fatalf("expected the first entry to be at or after the fast-catchup floor, got height %d", entries[0].Height)
	}
	best, _ := c.BestTip()
	if entries[len(entries)-1].Height != best.Height {
		t.Fatalf("expected the last entry to be the tip height %d, got %d", best.Height, entries[len(entries)-1].Height)
	}
}
