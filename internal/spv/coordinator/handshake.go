package coordinator

import "go.uber.org/zap"

// onHandshake brings a freshly-connected peer up to speed: filter load,
// pending broadcasts, header solicitation, and a first download round.
func (c *Coordinator) onHandshake(e HandshakeEvent) {
	c.peers.SetHandshake(e.Peer, e.Version, e.StartHeight)

	if c.state.bloom != nil {
		c.sendFilterLoad(e.Peer, c.state.bloom)
	}

	for _, tx := range c.state.pendingBroadcast {
		c.outbox.Send(e.Peer, tx)
	}
	c.state.pendingBroadcast = nil

	locator, err := c.chain.BlockLocator()
	if err != nil {
		c.logger.Error("handshake: block locator", zap.Error(err), zap.Stringer("peer", e.Peer))
		return
	}
	c.outbox.Send(e.Peer, newGetHeaders(locator, zeroHash))

	c.downloadBlocks(e.Peer)

	tip, err := c.chain.BestTip()
	if err == nil {
		c.logger.Info("peer handshake complete",
			zap.Stringer("peer", e.Peer),
			zap.Int32("peer_start_height", e.StartHeight),
			zap.Uint32("our_tip_height", tip.Height),
		)
	}
	c.refreshGauges()
}
