package coordinator

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func TestSoloTxArrivesBeforeItsMerkleBlock(t *testing.T) {
	genesisTs := time.Unix(1_600_000_000, 0).UTC()
	h := newHarness(t, genesisTs)

	peer := h.connectPeer(t, 2)
	h.coord.onUpdateBloom(UpdateBloomRequest{Filter: newTestFilter()})

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(5000, []byte{0x01, 0x02}))
	txid := tx.TxHash()

	// Not yet synced: peer advertises height 2, our tip is still genesis.
	h.coord.onTx(peer, tx)

	if len(h.sink.txBatches) != 0 {
		t.Fatalf("expected no wallet import before sync, got %d batches", len(h.sink.txBatches))
	}
	if _, ok := h.coord.state.soloTxs[txid]; !ok {
		t.Fatalf("expected tx to be buffered in soloTxs while out of sync")
	}

	headers := mineChain(t, h.params, 2, genesisTs, 0x03)
	h.deliverHeaders(peer, headers)

	// Now in sync (header height caught up to the peer's advertised
	// height). The Merkle block for height 1 turns out to contain the
	// solo tx.
	h.coord.onMerkleAssembled(MerkleAssembledEvent{
		Peer: peer,
		Block: DecodedMerkleBlock{
			Hash:     headers[0].BlockHash(),
			Root:     headers[0].MerkleRoot,
			Expected: []chainhash.Hash{txid},
		},
	})

	found := false
	for _, batch := range h.sink.txBatches {
		for _, btx := range batch {
			if btx.TxHash() == txid {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected the solo tx to be delivered alongside its Merkle block, batches: %+v", h.sink.txBatches)
	}
	if _, ok := h.coord.state.soloTxs[txid]; ok {
		t.Fatalf("expected solo tx to be removed from soloTxs once delivered")
	}
}
