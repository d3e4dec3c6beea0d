package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/spvnode/internal/spv/chainparams"
	"github.com/goodnatureofminers/spvnode/internal/spv/store"
)

// HeaderChain is the single authority on chain structure. It is not
// internally synchronized: the coordinator, its sole owner, already
// serializes access.
type HeaderChain struct {
	store   store.HeaderStore
	params  chainparams.Params
	pending map[chainhash.Hash]HeaderNode

	// importTip tracks the merkle-block import frontier consumed by
	// ConnectBlock. It is distinct from the header best tip:
	// headers commit far ahead of block download, so ConnectBlock needs its
	// own notion of "the parent has been committed" for import-ordering
	// purposes. Seeded via SeedImportTip before the first download round
	// and again whenever a rescan completes. Not persisted: after a restart,
	// Coordinator.Init seeds it again from the fast-catchup floor.
	importTip *HeaderNode
}

// New constructs a HeaderChain bound to a persistence capability and a
// network parameter set.
func New(params chainparams.Params, st store.HeaderStore) *HeaderChain {
	return &HeaderChain{store: st, params: params}
}

// Init ensures the genesis node is present; idempotent.
func (c *HeaderChain) Init() error {
	if _, err := c.store.GetBest(); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Wrap("get_best", err)
	}

	header := c.params.GenesisHeader()
	node := HeaderNode{
		Hash:        *c.params.GenesisHash,
		Header:      header,
		Height:      0,
		ChainWork:   calcWork(header.Bits),
		MedianTimes: []int64{header.Timestamp.Unix()},
		MinWork:     header.Bits,
	}
	sn := toStoreNode(node)
	if err := c.store.PutNode(sn); err != nil {
		return store.Wrap("put_node", err)
	}
	if err := c.store.PutHeight(sn); err != nil {
		return store.Wrap("put_height", err)
	}
	if err := c.store.SetBest(sn); err != nil {
		return store.Wrap("set_best", err)
	}
	return nil
}

// BestTip returns the current best-chain tip.
func (c *HeaderChain) BestTip() (HeaderNode, error) {
	sn, err := c.store.GetBest()
	if err != nil {
		return HeaderNode{}, store.Wrap("get_best", err)
	}
	return fromStoreNode(sn), nil
}

func (c *HeaderChain) getNode(hash chainhash.Hash) (HeaderNode, error) {
	if n, ok := c.pending[hash]; ok {
		return n, nil
	}
	sn, err := c.store.GetNode(hash)
	if err != nil {
		return HeaderNode{}, err
	}
	return fromStoreNode(sn), nil
}

func (c *HeaderChain) getByHeight(height uint32) (chainhash.Hash, error) {
	return c.store.GetByHeight(height)
}

func (c *HeaderChain) parentNode(n HeaderNode) (HeaderNode, error) {
	return c.getNode(n.Header.PrevBlock)
}

// ancestorAtHeight walks n's ancestor chain back to the given height via
// prev-hash pointers (not the height index, which only covers the best
// chain) — needed while validating side-chain/reorg candidates.
func (c *HeaderChain) ancestorAtHeight(n HeaderNode, height uint32) (HeaderNode, error) {
	cur := n
	for cur.Height > height {
		next, err := c.parentNode(cur)
		if err != nil {
			return HeaderNode{}, store.Wrap("ancestor_at_height", err)
		}
		cur = next
	}
	if cur.Height != height {
		return HeaderNode{}, fmt.Errorf("chain: ancestor at height %d not found above node %s", height, n.Hash)
	}
	return cur, nil
}

func (c *HeaderChain) clearPending() {
	c.pending = nil
}

// NodeAtHeight resolves the main-chain node at height via the height index.
func (c *HeaderChain) NodeAtHeight(height uint32) (HeaderNode, error) {
	hash, err := c.getByHeight(height)
	if err != nil {
		return HeaderNode{}, store.Wrap("get_by_height", err)
	}
	return c.getNode(hash)
}

// Node resolves a header by hash regardless of which chain it is on — used
// by the coordinator to test whether a hash is known at all.
func (c *HeaderChain) Node(hash chainhash.Hash) (HeaderNode, error) {
	n, err := c.getNode(hash)
	if err != nil {
		return HeaderNode{}, store.Wrap("get_node", err)
	}
	return n, nil
}

// SeedImportTip sets the merkle-block import frontier. The coordinator calls
// this at Init and again when a rescan completes, each time with the node
// immediately preceding the first height it is about to download.
func (c *HeaderChain) SeedImportTip(n HeaderNode) {
	seed := n
	c.importTip = &seed
}

// ImportTip reports the current merkle-block import frontier, or false if
// SeedImportTip has not yet been called.
func (c *HeaderChain) ImportTip() (HeaderNode, bool) {
	if c.importTip == nil {
		return HeaderNode{}, false
	}
	return *c.importTip, true
}
