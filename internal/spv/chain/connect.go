package chain

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/spv/store"
)

// ConnectHeader validates and persists a single header.
func (c *HeaderChain) ConnectHeader(h wire.BlockHeader, adjustedTime time.Time, commit bool) (Action, error) {
	return c.ConnectHeaders([]wire.BlockHeader{h}, adjustedTime, commit)
}

// ConnectHeaders validates and persists a batch of internally-linked
// headers. Validation fails fast and does not mutate the store on error:
// nodes are only written once every header in the batch has passed
// verifyHeader.
func (c *HeaderChain) ConnectHeaders(hs []wire.BlockHeader, adjustedTime time.Time, commit bool) (Action, error) {
	if len(hs) == 0 {
		return Action{Kind: ActionKnownChain}, nil
	}

	c.pending = make(map[chainhash.Hash]HeaderNode, len(hs))
	defer c.clearPending()

	nodes := make([]HeaderNode, 0, len(hs))
	for i, h := range hs {
		if i > 0 && h.PrevBlock != hs[i-1].BlockHash() {
			return Action{}, newHeaderErr(ReasonNotLinked, h.BlockHash(), "batch headers not linked")
		}

		// A header already in the store is skipped rather than re-verified
		// and re-written (which would drop its ChildHash); a batch made only
		// of known headers yields ActionKnownChain.
		if _, err := c.store.GetNode(h.BlockHash()); err == nil {
			continue
		}

		parent, err := c.getNode(h.PrevBlock)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Action{}, newHeaderErr(ReasonParentUnknown, h.BlockHash(), h.PrevBlock.String())
			}
			return Action{}, store.Wrap("get_node", err)
		}

		node, err := c.verifyHeader(h, parent, adjustedTime)
		if err != nil {
			return Action{}, err
		}
		nodes = append(nodes, node)
		c.pending[node.Hash] = node
	}

	for _, n := range nodes {
		if err := c.store.PutNode(toStoreNode(n)); err != nil {
			return Action{}, store.Wrap("put_node", err)
		}
	}

	action, err := c.evalNewChain(nodes)
	if err != nil {
		return Action{}, err
	}

	if commit {
		if err := c.CommitAction(action); err != nil {
			return Action{}, err
		}
	}
	return action, nil
}

// CommitAction is the only operation that mutates the height index and the
// best-tip pointer. BestChain/ChainReorg extend the main chain
// from Split through New; SideChain/KnownChain are no-ops.
func (c *HeaderChain) CommitAction(a Action) error {
	switch a.Kind {
	case ActionBestChain, ActionChainReorg:
		prev := a.Split
		for _, n := range a.New {
			child := n.Hash
			prev.ChildHash = &child
			if err := c.store.PutNode(toStoreNode(prev)); err != nil {
				return store.Wrap("put_node", err)
			}
			if err := c.store.PutHeight(toStoreNode(n)); err != nil {
				return store.Wrap("put_height", err)
			}
			prev = n
		}
		if err := c.store.SetBest(toStoreNode(prev)); err != nil {
			return store.Wrap("set_best", err)
		}
		return nil
	default:
		return nil
	}
}

// ImportKind classifies a single Merkle block's delivery to the wallet
// sink. It is evaluated against the import frontier tracked by
// SeedImportTip, which is
// distinct from the header best tip: headers commit far ahead of block
// download, so this is the coordinator's own notion of "the parent has been
// committed" for strictly-ordered wallet delivery.
type ImportKind int

const (
	ImportBestBlock ImportKind = iota
	ImportChainReorg
	ImportSideBlock
	ImportOldBlock
)

// ImportAction reports how ConnectBlock classified a delivered Merkle block.
type ImportAction struct {
	Kind ImportKind
	Node HeaderNode
}

// String renders the kind the way wallet sinks log and persist it.
func (k ImportKind) String() string {
	switch k {
	case ImportBestBlock:
		return "best_block"
	case ImportChainReorg:
		return "chain_reorg"
	case ImportSideBlock:
		return "side_block"
	case ImportOldBlock:
		return "old_block"
	default:
		return "unknown"
	}
}

// ConnectBlock records that a Merkle block for hash has arrived and
// attempts to advance the import frontier. It returns a nil action without
// error if hash is unknown, or if importing it now would be out of order —
// the coordinator's in-order delivery engine relies on this nil to detect
// and defer orphaned imports.
func (c *HeaderChain) ConnectBlock(hash chainhash.Hash) (*ImportAction, error) {
	node, err := c.getNode(hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, store.Wrap("get_node", err)
	}
	if c.importTip == nil {
		return nil, nil
	}

	mainHash, mhErr := c.getByHeight(node.Height)
	onMainChain := mhErr == nil && mainHash == hash

	switch {
	case node.Header.PrevBlock == c.importTip.Hash && node.Height == c.importTip.Height+1:
		seed := node
		c.importTip = &seed
		if onMainChain {
			return &ImportAction{Kind: ImportBestBlock, Node: node}, nil
		}
		return &ImportAction{Kind: ImportChainReorg, Node: node}, nil
	case !onMainChain:
		return &ImportAction{Kind: ImportSideBlock, Node: node}, nil
	case node.Height <= c.importTip.Height:
		return &ImportAction{Kind: ImportOldBlock, Node: node}, nil
	default:
		// Not contiguous with the import frontier yet: an earlier height
		// hasn't been delivered. The coordinator retries once it has.
		return nil, nil
	}
}
