package chain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// BlockLocator produces a sparse ancestor list for the current best tip,
// used to negotiate a common ancestor with a peer.
func (c *HeaderChain) BlockLocator() ([]chainhash.Hash, error) {
	tip, err := c.BestTip()
	if err != nil {
		return nil, err
	}
	return c.blockLocatorAt(tip)
}

// BlockLocatorAt produces a locator for a main-chain height other than the
// current tip.
func (c *HeaderChain) BlockLocatorAt(height uint32) ([]chainhash.Hash, error) {
	node, err := c.NodeAtHeight(height)
	if err != nil {
		return nil, err
	}
	return c.blockLocatorAt(node)
}

// BlockLocatorSide produces a locator for a side-chain Action: up to the ten
// most recently connected side-chain nodes (descending height, Old
// excluded), followed by the ordinary mainline locator rooted at the split
// height. This lets a peer serving headers offer the richest continuation
// it can, whether the node we're tracking turns into the new best chain or
// stays a side branch.
func (c *HeaderChain) BlockLocatorSide(a Action) ([]chainhash.Hash, error) {
	var out []chainhash.Hash
	start := 0
	if len(a.New) > 10 {
		start = len(a.New) - 10
	}
	for i := len(a.New) - 1; i >= start; i-- {
		out = append(out, a.New[i].Hash)
	}
	mainline, err := c.BlockLocatorAt(a.Split.Height)
	if err != nil {
		return nil, err
	}
	return append(out, mainline...), nil
}

// blockLocatorAt implements the geometric spacing rule:
// the ten most recent ancestors, then a doubling step back to genesis,
// which is always appended last.
func (c *HeaderChain) blockLocatorAt(tip HeaderNode) ([]chainhash.Hash, error) {
	out := []chainhash.Hash{tip.Hash}
	step := int64(1)
	cur := tip
	for {
		height := int64(cur.Height) - step
		if height <= 0 {
			break
		}
		node, err := c.ancestorAtHeight(cur, uint32(height))
		if err != nil {
			return nil, err
		}
		cur = node
		out = append(out, cur.Hash)
		if len(out) > 10 {
			step *= 2
		}
	}
	out = append(out, *c.params.GenesisHash)
	return out, nil
}

// CompactLocator is the single-hash locator used when re-requesting headers
// from a peer that is already mid-sync.
func (c *HeaderChain) CompactLocator() ([]chainhash.Hash, error) {
	tip, err := c.BestTip()
	if err != nil {
		return nil, err
	}
	return []chainhash.Hash{tip.Hash}, nil
}
