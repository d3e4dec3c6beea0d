package chain

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/spvnode/internal/spv/store"
)

// DownloadEntry names a best-chain block eligible for Merkle-block download.
type DownloadEntry struct {
	Height uint32
	Hash   chainhash.Hash
}

// BlocksToDownload enumerates the best-chain nodes from the earliest one
// whose timestamp is not before fastCatchup up to the tip. When fastCatchup
// is later than the tip's timestamp, NodeAtTimestamp falls back to the tip,
// so the result is the tip alone rather than empty. It does not track
// which of these the coordinator has already requested — that bookkeeping lives in the coordinator's own
// download queue; HeaderChain only answers "what is there to download"
// from chain structure.
func (c *HeaderChain) BlocksToDownload(fastCatchup time.Time) ([]DownloadEntry, error) {
	tip, err := c.BestTip()
	if err != nil {
		return nil, err
	}
	start, err := c.NodeAtTimestamp(fastCatchup)
	if err != nil {
		return nil, err
	}

	out := make([]DownloadEntry, 0, int(tip.Height-start.Height)+1)
	for h := start.Height; h <= tip.Height; h++ {
		hash, err := c.getByHeight(h)
		if err != nil {
			return nil, store.Wrap("get_by_height", err)
		}
		out = append(out, DownloadEntry{Height: h, Hash: hash})
	}
	return out, nil
}

// Rescan re-enumerates the download set from fastCatchup. It is identical
// to BlocksToDownload in what it computes; it exists as its own entry point
// because the coordinator uses it to mark a forced restart of the download
// queue, discarding whatever it had previously enumerated.
func (c *HeaderChain) Rescan(fastCatchup time.Time) ([]DownloadEntry, error) {
	return c.BlocksToDownload(fastCatchup)
}

// NodeWindow returns up to n consecutive main-chain nodes starting at from,
// ascending height — used to answer GetHeaders-style continuation requests.
func (c *HeaderChain) NodeWindow(from chainhash.Hash, n int) ([]HeaderNode, error) {
	start, err := c.getNode(from)
	if err != nil {
		return nil, store.Wrap("get_node", err)
	}
	tip, err := c.BestTip()
	if err != nil {
		return nil, err
	}

	out := make([]HeaderNode, 0, n)
	for h := start.Height; h <= tip.Height && len(out) < n; h++ {
		node, err := c.NodeAtHeight(h)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// NodeAtTimestamp binary-searches the best chain for the earliest node whose
// header timestamp is not before ts. If ts predates genesis it returns
// genesis; if ts is after the tip's timestamp it returns the tip.
func (c *HeaderChain) NodeAtTimestamp(ts time.Time) (HeaderNode, error) {
	tip, err := c.BestTip()
	if err != nil {
		return HeaderNode{}, err
	}

	lo, hi := uint32(0), tip.Height
	result := tip
	for {
		mid := lo + (hi-lo)/2
		node, err := c.NodeAtHeight(mid)
		if err != nil {
			return HeaderNode{}, err
		}
		if !node.Header.Timestamp.Before(ts) {
			result = node
			if mid == 0 {
				break
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
		if lo > hi {
			break
		}
	}
	return result, nil
}
