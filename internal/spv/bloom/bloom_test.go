package bloom

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
)

func TestEmptyFilterHasNoElements(t *testing.T) {
	f := New(100, 0.01, 0, wire.BloomUpdateNone)
	if !f.IsEmpty() {
		t.Fatalf("expected a freshly constructed filter to be empty")
	}
	f.Add([]byte("watched-address"))
	if f.IsEmpty() {
		t.Fatalf("expected filter to be non-empty after Add")
	}
}

func TestMatchesAddedElement(t *testing.T) {
	f := New(100, 0.0001, 42, wire.BloomUpdateAll)
	data := []byte("some-pubkey-script")
	f.Add(data)
	if !f.Matches(data) {
		t.Fatalf("expected filter to match an element it was given")
	}
}

func TestWireRoundTrip(t *testing.T) {
	f := New(100, 0.0001, 7, wire.BloomUpdateAll)
	f.Add([]byte("a"))
	f.Add([]byte("b"))

	msg, err := f.ToWireMsg()
	if err != nil {
		t.Fatalf("ToWireMsg: %v", err)
	}
	if msg.Tweak != 7 || msg.Flags != wire.BloomUpdateAll {
		t.Fatalf("unexpected wire params: %+v", msg)
	}

	roundTripped, err := FromWireMsg(msg)
	if err != nil {
		t.Fatalf("FromWireMsg: %v", err)
	}
	if !roundTripped.Matches([]byte("a")) || !roundTripped.Matches([]byte("b")) {
		t.Fatalf("round-tripped filter lost its elements")
	}
}

func TestEqual(t *testing.T) {
	a := New(100, 0.01, 1, wire.BloomUpdateNone)
	b := New(100, 0.01, 1, wire.BloomUpdateNone)
	a.Add([]byte("x"))
	b.Add([]byte("x"))
	if !a.Equal(b) {
		t.Fatalf("expected identically constructed filters to compare equal")
	}
	b.Add([]byte("y"))
	if a.Equal(b) {
		t.Fatalf("expected filters with different contents to compare unequal")
	}
}
