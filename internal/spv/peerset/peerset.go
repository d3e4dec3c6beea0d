// Package peerset tracks each connected peer's handshake state, advertised
// height, and protocol version. It owns no I/O and is not safe for
// concurrent use — the coordinator that owns it already serializes access.
package peerset

import (
	"net"

	"github.com/google/uuid"
)

// PeerID uniquely identifies one peer connection for the lifetime of the
// process. Reconnections are assigned a fresh id, so a peer's pending
// state is trivially discarded on reconnect rather than contaminated by
// leftover state from a prior connection.
type PeerID uuid.UUID

func (p PeerID) String() string { return uuid.UUID(p).String() }

// NewPeerID mints a fresh identifier for a newly dialed or accepted
// connection.
func NewPeerID() PeerID { return PeerID(uuid.New()) }

// Peer is everything the coordinator knows about one connection.
type Peer struct {
	ID          PeerID
	Addr        net.Addr
	Handshake   bool
	StartHeight int32
	Version     uint32
}

// Registry is the PeerRegistry capability: insert/remove/query over the
// connected peer set.
type Registry struct {
	peers map[PeerID]*Peer
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[PeerID]*Peer)}
}

// Insert adds a newly connected peer, pre-handshake.
func (r *Registry) Insert(id PeerID, addr net.Addr) {
	r.peers[id] = &Peer{ID: id, Addr: addr}
}

// Remove drops a peer and returns its last known state, if any.
func (r *Registry) Remove(id PeerID) (Peer, bool) {
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	delete(r.peers, id)
	return *p, true
}

// Get returns a peer's current state.
func (r *Registry) Get(id PeerID) (Peer, bool) {
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// SetHandshake marks a peer's version handshake complete and records the
// version/start_height it announced.
func (r *Registry) SetHandshake(id PeerID, version uint32, startHeight int32) {
	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.Handshake = true
	p.Version = version
	p.StartHeight = startHeight
}

// UpdateHeight raises a peer's advertised height monotonically: a Headers
// or Inv message never lowers what we believe a peer's chain tip to be.
func (r *Registry) UpdateHeight(id PeerID, height int32) {
	p, ok := r.peers[id]
	if !ok {
		return
	}
	if height > p.StartHeight {
		p.StartHeight = height
	}
}

// Keys returns every connected peer's id. Order is unspecified.
func (r *Registry) Keys() []PeerID {
	out := make([]PeerID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

// Len reports the number of connected peers.
func (r *Registry) Len() int { return len(r.peers) }

// BestHeight returns the maximum advertised start_height across every
// connected peer, or 0 if none are connected.
func (r *Registry) BestHeight() int32 {
	var best int32
	for _, p := range r.peers {
		if p.StartHeight > best {
			best = p.StartHeight
		}
	}
	return best
}

// HandshakeComplete reports whether a peer exists and has completed its
// version handshake.
func (r *Registry) HandshakeComplete(id PeerID) bool {
	p, ok := r.peers[id]
	return ok && p.Handshake
}
