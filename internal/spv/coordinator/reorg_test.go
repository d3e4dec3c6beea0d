package coordinator

import (
	"testing"
	"time"
)

func TestReorgToHeavierSideChainRequeuesDownloads(t *testing.T) {
	genesisTs := time.Unix(1_600_000_000, 0).UTC()
	h := newHarness(t, genesisTs)

	peer := h.connectPeer(t, 4)
	h.coord.onUpdateBloom(UpdateBloomRequest{Filter: newTestFilter()})

	shortBranch := mineChain(t, h.params, 2, genesisTs, 0x01)
	h.deliverHeaders(peer, shortBranch)

	queuedAfterShort := h.coord.state.downloadQueueLen() + h.coord.state.inflightMerkleLen()
	if queuedAfterShort != 2 {
		t.Fatalf("expected 2 blocks tracked after short branch, got %d", queuedAfterShort)
	}

	longBranch := mineChain(t, h.params, 4, genesisTs, 0x02)
	h.deliverHeaders(peer, longBranch)

	tip, err := h.chain.BestTip()
	if err != nil {
		t.Fatalf("BestTip: %v", err)
	}
	if tip.Height != 4 {
		t.Fatalf("expected reorg to the 4-header branch, got tip height %d", tip.Height)
	}
	if tip.Hash != longBranch[3].BlockHash() {
		t.Fatalf("tip does not match the longer branch's last header")
	}

	// The short branch's two (now-orphaned) heights are still tracked
	// alongside the longer branch's four new ones — harmless, since a
	// Merkle block for an orphaned header still resolves to a SideBlock/
	// OldBlock import when it eventually arrives (chain.ConnectBlock
	// classifies by hash, not by best-chain membership).
	tracked := h.coord.state.downloadQueueLen() + h.coord.state.inflightMerkleLen()
	if tracked != 6 {
		t.Fatalf("expected 6 blocks tracked (2 orphaned + 4 from the adopted branch), got %d", tracked)
	}
}
