package peerset

import "testing"

func TestInsertRemove(t *testing.T) {
	r := New()
	id := NewPeerID()
	r.Insert(id, nil)
	if r.Len() != 1 {
		t.Fatalf("expected 1 peer, got %d", r.Len())
	}
	if _, ok := r.Get(id); !ok {
		t.Fatalf("expected to find inserted peer")
	}
	old, ok := r.Remove(id)
	if !ok || old.ID != id {
		t.Fatalf("Remove returned %+v, ok=%v", old, ok)
	}
	if r.Len() != 0 {
		t.Fatalf("expected 0 peers after remove, got %d", r.Len())
	}
}

func TestUpdateHeightIsMonotonic(t *testing.T) {
	r := New()
	id := NewPeerID()
	r.Insert(id, nil)
	r.UpdateHeight(id, 100)
	r.UpdateHeight(id, 50)
	p, _ := r.Get(id)
	if p.StartHeight != 100 {
		t.Fatalf("expected height to stay at 100, got %d", p.StartHeight)
	}
	r.UpdateHeight(id, 150)
	p, _ = r.Get(id)
	if p.StartHeight != 150 {
		t.Fatalf("expected height to advance to 150, got %d", p.StartHeight)
	}
}

func TestBestHeight(t *testing.T) {
	r := New()
	a, b := NewPeerID(), NewPeerID()
	r.Insert(a, nil)
	r.Insert(b, nil)
	r.UpdateHeight(a, 10)
	r.UpdateHeight(b, 20)
	if got := r.BestHeight(); got != 20 {
		t.Fatalf("expected best height 20, got %d", got)
	}
}

func TestSetHandshake(t *testing.T) {
	r := New()
	id := NewPeerID()
	r.Insert(id, nil)
	if r.HandshakeComplete(id) {
		t.Fatalf("expected handshake incomplete before SetHandshake")
	}
	r.SetHandshake(id, 70016, 500)
	if !r.HandshakeComplete(id) {
		t.Fatalf("expected handshake complete")
	}
	p, _ := r.Get(id)
	if p.Version != 70016 || p.StartHeight != 500 {
		t.Fatalf("unexpected peer state after handshake: %+v", p)
	}
}
