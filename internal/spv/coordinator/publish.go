package coordinator

// onPublishTx relays a client transaction to every handshake-complete
// peer, or holds it until one connects.
func (c *Coordinator) onPublishTx(r PublishTxRequest) {
	sent := false
	for _, id := range c.peers.Keys() {
		p, ok := c.peers.Get(id)
		if !ok || !p.Handshake {
			continue
		}
		c.outbox.Send(id, r.Tx)
		sent = true
	}
	if !sent {
		c.state.pendingBroadcast = append(c.state.pendingBroadcast, r.Tx)
	}
}
