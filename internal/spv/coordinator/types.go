// Package coordinator implements the SPV sync coordinator: the
// single-threaded reactor that drives peer lifecycle, block/tx download
// scheduling, in-order Merkle-block delivery, rescan handling, stall
// recovery, bloom-filter propagation, and transaction relay.
package coordinator

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/spv/bloom"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
)

// DecodedMerkleBlock is the per-peer codec's output once it has buffered a
// merkleblock plus its trailing matching txs.
type DecodedMerkleBlock struct {
	Hash     chainhash.Hash
	Root     chainhash.Hash
	Expected []chainhash.Hash
	Txs      []*wire.MsgTx
}

// PeerEvent is one of Handshake/Disconnect/Inbound/MerkleAssembled. It is
// a closed tagged variant: only the constructors in this file
// implement it.
type PeerEvent interface {
	isPeerEvent()
}

// HandshakeEvent reports a completed version handshake with a peer.
type HandshakeEvent struct {
	Peer        peerset.PeerID
	Version     uint32
	StartHeight int32
}

// DisconnectEvent reports that a peer's connection has ended.
type DisconnectEvent struct {
	Peer peerset.PeerID
}

// InboundEvent carries one decoded wire message from a peer, in wire order.
type InboundEvent struct {
	Peer peerset.PeerID
	Msg  wire.Message
}

// MerkleAssembledEvent reports that a peer's codec has finished buffering a
// merkleblock and its trailing matched txs.
type MerkleAssembledEvent struct {
	Peer  peerset.PeerID
	Block DecodedMerkleBlock
}

func (HandshakeEvent) isPeerEvent()       {}
func (DisconnectEvent) isPeerEvent()      {}
func (InboundEvent) isPeerEvent()         {}
func (MerkleAssembledEvent) isPeerEvent() {}

// ClientRequest is one of UpdateBloom/PublishTx/Rescan/Heartbeat, entering
// the coordinator through a bounded request channel.
type ClientRequest interface {
	isClientRequest()
}

// UpdateBloomRequest asks the coordinator to adopt a new wallet filter.
type UpdateBloomRequest struct {
	Filter *bloom.Filter
}

// PublishTxRequest asks the coordinator to broadcast a client transaction.
type PublishTxRequest struct {
	Tx *wire.MsgTx
}

// RescanRequest asks the coordinator to re-fetch Merkle blocks from the
// Since timestamp.
type RescanRequest struct {
	Since time.Time
}

// HeartbeatRequest fires periodically (every 120s) to drive stall recovery.
type HeartbeatRequest struct{}

func (UpdateBloomRequest) isClientRequest() {}
func (PublishTxRequest) isClientRequest()   {}
func (RescanRequest) isClientRequest()      {}
func (HeartbeatRequest) isClientRequest()   {}

// Outbox is how the coordinator hands an outbound wire message to a
// specific peer's send queue. Concrete implementations live in internal/spv/p2p.
type Outbox interface {
	Send(peer peerset.PeerID, msg wire.Message)
}

// inflightMerkle tracks one outstanding Merkle-block request issued to a
// peer.
type inflightMerkle struct {
	Height   uint32
	Hash     chainhash.Hash
	IssuedAt time.Time
}

// inflightTx tracks one outstanding tx request issued to a peer.
type inflightTx struct {
	Hash     chainhash.Hash
	IssuedAt time.Time
}

// downloadEntry is one (height, hash) pair waiting in the download queue,
// stamped with an insertion sequence so the queue can be flattened in
// (height, insertion order) when building GetData batches.
type downloadEntry struct {
	Height uint32
	Hash   chainhash.Hash
	seq    uint64
}

// state is the coordinator's entire mutable world, touched only from the
// single Run goroutine.
type state struct {
	syncPeer          *peerset.PeerID
	bloom             *bloom.Filter
	blocksToDownload  map[uint32][]downloadEntry
	receivedMerkle    map[uint32][]DecodedMerkleBlock
	soloTxs           map[chainhash.Hash]*wire.MsgTx
	pendingBroadcast  []*wire.MsgTx
	pendingRescan     *time.Time
	fastCatchup       time.Time
	peerBroadcastBlks map[peerset.PeerID][]chainhash.Hash
	inflightMerkles   map[peerset.PeerID][]inflightMerkle
	inflightTxs       map[peerset.PeerID][]inflightTx
	downloadSeq       uint64
}

func newState(fastCatchup time.Time) *state {
	return &state{
		blocksToDownload:  make(map[uint32][]downloadEntry),
		receivedMerkle:    make(map[uint32][]DecodedMerkleBlock),
		soloTxs:           make(map[chainhash.Hash]*wire.MsgTx),
		fastCatchup:       fastCatchup,
		peerBroadcastBlks: make(map[peerset.PeerID][]chainhash.Hash),
		inflightMerkles:   make(map[peerset.PeerID][]inflightMerkle),
		inflightTxs:       make(map[peerset.PeerID][]inflightTx),
	}
}
