package coordinator

import "go.uber.org/zap"

// onDisconnect returns a dead peer's inflight work to the download queue
// and drops every per-peer record it owned.
func (c *Coordinator) onDisconnect(e DisconnectEvent) {
	// 1. Requeue this peer's inflight Merkle blocks, then give every
	// remaining peer a chance to pick up the newly available work. The
	// entries leave inflightMerkles first, since addDownload skips any
	// hash still inflight.
	inflight := c.state.inflightMerkles[e.Peer]
	delete(c.state.inflightMerkles, e.Peer)
	for _, m := range inflight {
		c.state.addDownload(m.Height, m.Hash)
	}

	// 2. Drop every per-peer entry.
	delete(c.state.inflightTxs, e.Peer)
	delete(c.state.peerBroadcastBlks, e.Peer)
	c.peers.Remove(e.Peer)

	for _, id := range c.peers.Keys() {
		c.downloadBlocks(id)
	}

	// 3. Re-solicit headers from everyone if we just lost our sync peer.
	if c.state.syncPeer != nil && *c.state.syncPeer == e.Peer {
		c.state.syncPeer = nil
		locator, err := c.chain.BlockLocator()
		if err != nil {
			c.logger.Error("disconnect: block locator", zap.Error(err))
		} else {
			msg := newGetHeaders(locator, zeroHash)
			for _, id := range c.peers.Keys() {
				c.outbox.Send(id, msg)
			}
		}
	}

	c.logger.Info("peer disconnected", zap.Stringer("peer", e.Peer))
	c.refreshGauges()
}
