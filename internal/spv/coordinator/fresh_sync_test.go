package coordinator

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
)

func TestFreshSyncDownloadsAndImportsInOrder(t *testing.T) {
	genesisTs := time.Unix(1_600_000_000, 0).UTC()
	h := newHarness(t, genesisTs)

	peer := h.connectPeer(t, 3)
	h.coord.onUpdateBloom(UpdateBloomRequest{Filter: newTestFilter()})

	headers := mineChain(t, h.params, 3, genesisTs, 0x01)
	h.deliverHeaders(peer, headers)

	if n := h.coord.state.downloadQueueLen(); n != 0 {
		// All three should already be inflight after deliverHeaders
		// triggered download_blocks.
		t.Fatalf("expected empty download queue after dispatch, got %d", n)
	}
	if got := h.coord.state.inflightMerkleLen(); got != 3 {
		t.Fatalf("expected 3 inflight merkle requests, got %d", got)
	}

	// Deliver the three Merkle blocks out of the order they were
	// requested in — the in-order delivery engine must still import them
	// height-ascending.
	order := []int{2, 0, 1}
	for _, i := range order {
		hdr := headers[i]
		h.coord.onMerkleAssembled(MerkleAssembledEvent{
			Peer: peer,
			Block: DecodedMerkleBlock{
				Hash: hdr.BlockHash(),
				Root: hdr.MerkleRoot,
			},
		})
	}

	heights := h.sink.importedHeights()
	if len(heights) != 3 {
		t.Fatalf("expected 3 imports, got %d: %+v", len(heights), heights)
	}
	for i, height := range heights {
		if height != uint32(i+1) {
			t.Fatalf("import %d out of order: got height %d, want %d", i, height, i+1)
		}
	}

	if h.coord.state.inflightMerkleLen() != 0 {
		t.Fatalf("expected no inflight merkles after all imports, got %d", h.coord.state.inflightMerkleLen())
	}

	// A Ping should have been appended after each GetData dispatch.
	msgs := h.outbox.messages(peer)
	foundPing := false
	for _, m := range msgs {
		if _, ok := m.(*wire.MsgPing); ok {
			foundPing = true
		}
	}
	if !foundPing {
		t.Fatalf("expected a Ping to be sent alongside GetData, got %+v", msgs)
	}
}
