package coordinator

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
)

// onHeaders ingests a headers batch from a peer, queues the accepted nodes
// for Merkle-block download, and keeps the header-sync peer and advertised
// heights current.
func (c *Coordinator) onHeaders(peer peerset.PeerID, headers []*wire.BlockHeader) {
	workBefore, err := c.chain.BestTip()
	if err != nil {
		c.logger.Error("headers: best tip", zap.Error(err))
		return
	}

	var accepted []chain.HeaderNode
	for _, h := range headers {
		hash := h.BlockHash()
		if _, err := c.chain.Node(hash); err == nil {
			c.logger.Debug("header already known", zap.Stringer("hash", hash))
			continue
		}

		action, err := c.chain.ConnectHeader(*h, c.now(), true)
		if err != nil {
			var herr *chain.HeaderError
			if errors.As(err, &herr) {
				c.logger.Warn("header rejected",
					zap.String("reason", string(herr.Reason)),
					zap.Stringer("peer", peer),
				)
			} else {
				c.logger.Error("connect header", zap.Error(err), zap.Stringer("peer", peer))
			}
			continue
		}
		if len(action.New) == 0 {
			continue
		}
		accepted = append(accepted, action.New[len(action.New)-1])
	}

	for _, n := range accepted {
		c.maybeQueueDownload(n)
		c.resolveBroadcastBlock(n)
	}

	tipAfter, err := c.chain.BestTip()
	if err != nil {
		c.logger.Error("headers: best tip after connect", zap.Error(err))
		return
	}

	if tipAfter.ChainWork.Cmp(workBefore.ChainWork) > 0 {
		c.peers.UpdateHeight(peer, int32(tipAfter.Height))
		if c.headersSynced() {
			c.state.syncPeer = nil
		} else {
			sync := peer
			c.state.syncPeer = &sync
		}
		c.outbox.Send(peer, newGetHeaders([]chainhash.Hash{tipAfter.Hash}, zeroHash))
	}

	for _, id := range c.peers.Keys() {
		c.downloadBlocks(id)
	}
	c.refreshGauges()
}

// maybeQueueDownload appends an accepted node to the download queue if it
// falls at or after the fast-catchup floor and isn't already tracked.
func (c *Coordinator) maybeQueueDownload(n chain.HeaderNode) {
	if n.Header.Timestamp.Before(c.state.fastCatchup) {
		return
	}
	if tip, ok := c.chain.ImportTip(); ok && n.Height <= tip.Height {
		return
	}
	c.state.addDownload(n.Height, n.Hash)
}

// resolveBroadcastBlock settles pending block announcements: any peer that
// advertised this hash via Inv before we had headers for it gets its
// advertised height raised, and the pending entry is cleared.
func (c *Coordinator) resolveBroadcastBlock(n chain.HeaderNode) {
	for peer, hashes := range c.state.peerBroadcastBlks {
		kept := hashes[:0]
		matched := false
		for _, h := range hashes {
			if h == n.Hash {
				matched = true
				continue
			}
			kept = append(kept, h)
		}
		if matched {
			c.peers.UpdateHeight(peer, int32(n.Height))
			if len(kept) == 0 {
				delete(c.state.peerBroadcastBlks, peer)
			} else {
				c.state.peerBroadcastBlks[peer] = kept
			}
		}
	}
}
