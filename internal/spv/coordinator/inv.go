package coordinator

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
)

// onInv requests announced transactions and chases announced blocks we
// have no headers for yet.
func (c *Coordinator) onInv(peer peerset.PeerID, invs []*wire.InvVect) {
	var txHashes []chainhash.Hash
	var blockHashes []chainhash.Hash
	for _, iv := range invs {
		switch iv.Type {
		case wire.InvTypeTx, wire.InvTypeWitnessTx:
			txHashes = append(txHashes, iv.Hash)
		case wire.InvTypeBlock, wire.InvTypeWitnessBlock, wire.InvTypeFilteredBlock:
			blockHashes = append(blockHashes, iv.Hash)
		}
	}

	if len(txHashes) > 0 {
		c.downloadTxs(peer, txHashes)
	}

	if len(blockHashes) == 0 {
		return
	}

	var maxKnownHeight uint32
	haveAny := false
	var notHave []chainhash.Hash
	for _, hash := range blockHashes {
		if n, err := c.chain.Node(hash); err == nil {
			haveAny = true
			if n.Height > maxKnownHeight {
				maxKnownHeight = n.Height
			}
			continue
		}
		notHave = append(notHave, hash)
	}

	if haveAny {
		c.peers.UpdateHeight(peer, int32(maxKnownHeight))
	}

	if len(notHave) == 0 {
		return
	}
	c.state.peerBroadcastBlks[peer] = append(c.state.peerBroadcastBlks[peer], notHave...)

	locator, err := c.chain.BlockLocator()
	if err != nil {
		return
	}
	for _, hash := range notHave {
		c.outbox.Send(peer, newGetHeaders(locator, hash))
	}
}
