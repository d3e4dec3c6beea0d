package coordinator

import (
	"testing"
	"time"
)

func TestHeartbeatRequeuesStalledMerkleRequest(t *testing.T) {
	genesisTs := time.Unix(1_600_000_000, 0).UTC()
	h := newHarness(t, genesisTs)

	clock := h.nowTime
	h.coord.SetClock(func() time.Time { return clock })

	peer := h.connectPeer(t, 1)
	h.coord.onUpdateBloom(UpdateBloomRequest{Filter: newTestFilter()})

	headers := mineChain(t, h.params, 1, genesisTs, 0x04)
	h.deliverHeaders(peer, headers)

	if n := h.coord.state.inflightMerkleLen(); n != 1 {
		t.Fatalf("expected 1 inflight merkle request after dispatch, got %d", n)
	}
	initialSends := h.outbox.count(peer)

	// Not yet past stallTimeout: heartbeat is a no-op.
	clock = clock.Add(30 * time.Second)
	h.coord.onHeartbeat()
	if n := h.coord.state.inflightMerkleLen(); n != 1 {
		t.Fatalf("expected request to remain inflight before stallTimeout, got %d inflight", n)
	}

	// Past stallTimeout: the request is requeued and — since this is the
	// only connected peer — immediately reissued to it.
	clock = clock.Add(stallTimeout + time.Second)
	h.coord.onHeartbeat()

	if n := h.coord.state.downloadQueueLen(); n != 0 {
		t.Fatalf("expected the stalled request to be redispatched, not left queued, got %d queued", n)
	}
	if n := h.coord.state.inflightMerkleLen(); n != 1 {
		t.Fatalf("expected exactly 1 inflight merkle request after reissue, got %d", n)
	}
	if h.outbox.count(peer) <= initialSends {
		t.Fatalf("expected a fresh GetData to have been sent to peer on stall recovery")
	}
}
