package coordinator

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
)

// onMerkleAssembled is the ingress half of the Merkle pipeline: validating and
// buffering one assembled Merkle block before the in-order delivery engine
// (importReceivedMerkles) tries to advance the import frontier with it.
func (c *Coordinator) onMerkleAssembled(e MerkleAssembledEvent) {
	node, err := c.chain.Node(e.Block.Hash)
	if err != nil {
		// Unsolicited: a block we never asked for, or a stale one from a
		// disconnected peer's former inflight batch. Drop silently.
		return
	}

	c.removeInflightMerkle(e.Peer, e.Block.Hash)

	rootValid := e.Block.Root == node.Header.MerkleRoot
	if !rootValid {
		c.logger.Warn("merkle root mismatch, dropping block",
			zap.Stringer("peer", e.Peer),
			zap.Stringer("hash", e.Block.Hash),
		)
	}

	if c.state.pendingRescan == nil && rootValid {
		c.state.receivedMerkle[node.Height] = append(c.state.receivedMerkle[node.Height], e.Block)
		c.importReceivedMerkles()
		c.downloadBlocks(e.Peer)
	}

	if c.state.pendingRescan != nil && len(c.state.inflightMerkles[e.Peer]) == 0 {
		ts := *c.state.pendingRescan
		c.completeRescan(ts)
	}
	c.refreshGauges()
}

func (c *Coordinator) removeInflightMerkle(peer peerset.PeerID, hash chainhash.Hash) {
	entries := c.state.inflightMerkles[peer]
	kept := entries[:0]
	for _, e := range entries {
		if e.Hash != hash {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(c.state.inflightMerkles, peer)
	} else {
		c.state.inflightMerkles[peer] = kept
	}
}

// importReceivedMerkles is the in-order delivery engine: it advances the
// import frontier through the buffered blocks in ascending height until no
// further block can be connected.
func (c *Coordinator) importReceivedMerkles() {
	if c.anyTxInflight() {
		return
	}
	if c.state.pendingRescan != nil {
		return
	}

	progressed := true
	for progressed {
		progressed = false

		heights := make([]uint32, 0, len(c.state.receivedMerkle))
		for h := range c.state.receivedMerkle {
			heights = append(heights, h)
		}
		sortUint32s(heights)

		for _, height := range heights {
			blocks := append([]DecodedMerkleBlock(nil), c.state.receivedMerkle[height]...)
			for _, dmb := range blocks {
				action, err := c.chain.ConnectBlock(dmb.Hash)
				if err != nil {
					c.logger.Error("connect block", zap.Error(err), zap.Stringer("hash", dmb.Hash))
					continue
				}
				if action == nil {
					continue
				}
				c.deliverImport(dmb, *action)
				c.removeReceivedMerkle(height, dmb.Hash)
				progressed = true
			}
		}
	}

	if c.merkleSynced() {
		c.flushSoloTxs()
	}
}

func (c *Coordinator) anyTxInflight() bool {
	for _, entries := range c.state.inflightTxs {
		if len(entries) > 0 {
			return true
		}
	}
	return false
}

func (c *Coordinator) removeReceivedMerkle(height uint32, hash chainhash.Hash) {
	entries := c.state.receivedMerkle[height]
	kept := entries[:0]
	for _, e := range entries {
		if e.Hash != hash {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(c.state.receivedMerkle, height)
	} else {
		c.state.receivedMerkle[height] = kept
	}
}

func (c *Coordinator) deliverImport(dmb DecodedMerkleBlock, action chain.ImportAction) {
	batch := append([]*wire.MsgTx(nil), dmb.Txs...)
	seen := make(map[chainhash.Hash]bool, len(batch))
	for _, tx := range batch {
		seen[tx.TxHash()] = true
	}
	for _, txid := range dmb.Expected {
		if tx, ok := c.state.soloTxs[txid]; ok && !seen[txid] {
			batch = append(batch, tx)
			seen[txid] = true
			delete(c.state.soloTxs, txid)
		}
	}

	ctx := context.Background()
	if len(batch) > 0 {
		if err := c.wallet.ImportTxs(ctx, batch); err != nil {
			c.logger.Error("import merkle txs", zap.Error(err), zap.Stringer("hash", dmb.Hash))
		}
	}
	if err := c.wallet.ImportMerkle(ctx, action, dmb.Expected); err != nil {
		c.logger.Error("import merkle action", zap.Error(err), zap.Stringer("hash", dmb.Hash))
	}
	c.metrics.ObserveMerkleImport(action.Kind.String())
	c.logger.Info("merkle block imported",
		zap.Stringer("kind", action.Kind),
		zap.Uint32("height", action.Node.Height),
		zap.Stringer("hash", action.Node.Hash),
	)
}

func (c *Coordinator) flushSoloTxs() {
	if len(c.state.soloTxs) == 0 {
		return
	}
	batch := make([]*wire.MsgTx, 0, len(c.state.soloTxs))
	for _, tx := range c.state.soloTxs {
		batch = append(batch, tx)
	}
	if err := c.wallet.ImportTxs(context.Background(), batch); err != nil {
		c.logger.Error("flush solo txs", zap.Error(err))
		return
	}
	c.state.soloTxs = make(map[chainhash.Hash]*wire.MsgTx)
}
