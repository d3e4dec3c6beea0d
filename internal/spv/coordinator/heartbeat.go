package coordinator

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
)

// onHeartbeat performs stall recovery: inflight Merkle blocks and txs that have sat unanswered past stallTimeout are requeued.
func (c *Coordinator) onHeartbeat() {
	stalledPeers := make(map[peerset.PeerID]bool)
	now := c.now()

	for peer, entries := range c.state.inflightMerkles {
		var kept []inflightMerkle
		var stalled []inflightMerkle
		for _, e := range entries {
			if now.Sub(e.IssuedAt) > stallTimeout {
				stalled = append(stalled, e)
			} else {
				kept = append(kept, e)
			}
		}
		if len(stalled) == 0 {
			continue
		}
		stalledPeers[peer] = true
		if len(kept) == 0 {
			delete(c.state.inflightMerkles, peer)
		} else {
			c.state.inflightMerkles[peer] = kept
		}
		for _, e := range stalled {
			c.state.addDownload(e.Height, e.Hash)
			c.metrics.IncStallRecoveries()
			c.logger.Warn("merkle block stalled, requeued",
				zap.Stringer("peer", peer),
				zap.Uint32("height", e.Height),
				zap.Stringer("hash", e.Hash),
			)
		}
	}

	for peer, entries := range c.state.inflightTxs {
		var kept []inflightTx
		var stalled []inflightTx
		for _, e := range entries {
			if now.Sub(e.IssuedAt) > stallTimeout {
				stalled = append(stalled, e)
			} else {
				kept = append(kept, e)
			}
		}
		if len(stalled) == 0 {
			continue
		}
		if len(kept) == 0 {
			delete(c.state.inflightTxs, peer)
		} else {
			c.state.inflightTxs[peer] = kept
		}

		hashes := make([]chainhash.Hash, 0, len(stalled))
		for _, e := range stalled {
			hashes = append(hashes, e.Hash)
			c.logger.Warn("tx request stalled, reissuing",
				zap.Stringer("peer", peer),
				zap.Stringer("hash", e.Hash),
			)
		}
		c.downloadTxs(peer, hashes)
	}

	ordered := orderWithStalledLast(c.peers.Keys(), stalledPeers)
	for _, id := range ordered {
		c.downloadBlocks(id)
	}

	c.refreshGauges()
}

func orderWithStalledLast(ids []peerset.PeerID, stalled map[peerset.PeerID]bool) []peerset.PeerID {
	ordered := make([]peerset.PeerID, 0, len(ids))
	var tail []peerset.PeerID
	for _, id := range ids {
		if stalled[id] {
			tail = append(tail, id)
		} else {
			ordered = append(ordered, id)
		}
	}
	return append(ordered, tail...)
}
