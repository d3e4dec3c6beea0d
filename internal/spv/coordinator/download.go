package coordinator

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
)

// downloadBlocks issues the next Merkle-block batch to an eligible peer:
// handshake complete, not the header-sync peer, bloom filter set, nothing
// already inflight on it, and no rescan pending.
func (c *Coordinator) downloadBlocks(peer peerset.PeerID) {
	p, ok := c.peers.Get(peer)
	if !ok || !p.Handshake {
		return
	}
	if c.state.syncPeer != nil && *c.state.syncPeer == peer {
		return
	}
	if c.state.bloom == nil {
		return
	}
	if len(c.state.inflightMerkles[peer]) > 0 {
		return
	}
	if c.state.pendingRescan != nil {
		return
	}

	flat := c.state.flattenDownload()
	if len(flat) > maxDownloadBatch {
		flat = flat[:maxDownloadBatch]
	}

	var batch []downloadEntry
	for _, e := range flat {
		if int32(e.Height) > p.StartHeight {
			break
		}
		batch = append(batch, e)
	}
	if len(batch) == 0 {
		return
	}

	c.state.removeDownloadBatch(batch)

	now := c.now()
	inflight := make([]inflightMerkle, 0, len(batch))
	for _, e := range batch {
		inflight = append(inflight, inflightMerkle{Height: e.Height, Hash: e.Hash, IssuedAt: now})
	}
	c.state.inflightMerkles[peer] = append(c.state.inflightMerkles[peer], inflight...)

	c.outbox.Send(peer, newGetDataMerkle(batch))
	c.outbox.Send(peer, wire.NewMsgPing(0))
	c.refreshGauges()
}

// downloadTxs requests announced transactions not already inflight on
// this peer.
func (c *Coordinator) downloadTxs(peer peerset.PeerID, hashes []chainhash.Hash) {
	if len(hashes) == 0 {
		return
	}

	existing := make(map[chainhash.Hash]bool, len(c.state.inflightTxs[peer]))
	for _, e := range c.state.inflightTxs[peer] {
		existing[e.Hash] = true
	}
	var toRequest []chainhash.Hash
	for _, h := range hashes {
		if !existing[h] {
			toRequest = append(toRequest, h)
		}
	}
	if len(toRequest) == 0 {
		return
	}

	now := c.now()
	for _, h := range toRequest {
		c.state.inflightTxs[peer] = append(c.state.inflightTxs[peer], inflightTx{Hash: h, IssuedAt: now})
	}
	c.outbox.Send(peer, newGetDataTxs(toRequest))
}
