package coordinator

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
)

// onTx routes a transaction received from a peer: straight to the wallet
// once synced, otherwise held with the other solo txs until sync.
func (c *Coordinator) onTx(peer peerset.PeerID, tx *wire.MsgTx) {
	txid := tx.TxHash()

	if c.merkleSynced() {
		if err := c.wallet.ImportTxs(context.Background(), []*wire.MsgTx{tx}); err != nil {
			c.logger.Error("import solo tx", zap.Error(err), zap.Stringer("txid", txid))
		}
	} else {
		c.state.soloTxs[txid] = tx
	}

	for p, entries := range c.state.inflightTxs {
		kept := entries[:0]
		for _, e := range entries {
			if e.Hash != txid {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(c.state.inflightTxs, p)
		} else {
			c.state.inflightTxs[p] = kept
		}
	}

	c.importReceivedMerkles()
}
