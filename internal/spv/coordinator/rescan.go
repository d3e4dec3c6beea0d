package coordinator

import (
	"time"

	"go.uber.org/zap"
)

// onRescan restarts Merkle-block download from a client-supplied
// timestamp. A rescan is deferred, never rejected,
// while any peer has an inflight Merkle block.
func (c *Coordinator) onRescan(r RescanRequest) {
	if c.anyInflightMerkles() {
		ts := r.Since
		c.state.pendingRescan = &ts
		c.logger.Info("rescan deferred: merkle blocks inflight", zap.Time("since", r.Since))
		return
	}
	c.completeRescan(r.Since)
}

func (c *Coordinator) anyInflightMerkles() bool {
	for _, entries := range c.state.inflightMerkles {
		if len(entries) > 0 {
			return true
		}
	}
	return false
}

// completeRescan performs the actual reset, invoked either directly from
// onRescan (no inflight work) or from the Merkle pipeline once the last
// inflight batch has drained.
func (c *Coordinator) completeRescan(ts time.Time) {
	c.state.blocksToDownload = make(map[uint32][]downloadEntry)
	c.state.receivedMerkle = make(map[uint32][]DecodedMerkleBlock)

	c.state.fastCatchup = ts

	entries, err := c.chain.Rescan(ts)
	if err != nil {
		c.logger.Error("rescan", zap.Error(err), zap.Time("since", ts))
		c.state.pendingRescan = nil
		return
	}

	start, err := c.chain.NodeAtTimestamp(ts)
	if err == nil {
		if start.Height > 0 {
			if seed, err := c.chain.NodeAtHeight(start.Height - 1); err == nil {
				c.chain.SeedImportTip(seed)
			}
		} else {
			c.chain.SeedImportTip(start)
		}
	}

	for _, e := range entries {
		c.state.addDownload(e.Height, e.Hash)
	}

	c.state.pendingRescan = nil

	for _, id := range c.peers.Keys() {
		c.downloadBlocks(id)
	}
	c.logger.Info("rescan complete", zap.Time("since", ts), zap.Int("queued", len(entries)))
	c.refreshGauges()
}
