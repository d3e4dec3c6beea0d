// Package p2p owns peer connections: it dials a remote node, performs the
// version handshake, and runs one receive pump plus one send queue per
// connection, translating wire traffic into coordinator.PeerEvents and
// coordinator.Outbox.Send calls into wire writes.
package p2p

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/spv/chainparams"
	"github.com/goodnatureofminers/spvnode/internal/spv/coordinator"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
	"github.com/goodnatureofminers/spvnode/pkg/safe"
)

// ourVersion is the protocol version we advertise; filtered-block service
// requires BIP37 support from the remote.
const ourVersion = uint32(wire.BIP0037Version)

// sendQueueDepth bounds each session's outbound message buffer.
const sendQueueDepth = 64

// dialTimeout bounds the TCP dial and version/verack round trip.
const dialTimeout = 10 * time.Second

// HandshakeInfo is what Dial learns about the remote peer during the
// version exchange, before any PeerEvent is emitted.
type HandshakeInfo struct {
	Version     uint32
	StartHeight int32
}

// Session owns one peer connection: a read pump decoding inbound wire
// messages into PeerEvents, and a send queue goroutine serializing
// outbound messages.
type Session struct {
	ID     peerset.PeerID
	Addr   net.Addr
	params chainparams.Params
	logger *zap.Logger

	conn net.Conn
	send chan wire.Message
	done chan struct{}

	pending *pendingMerkle
}

// pendingMerkle accumulates a merkleblock's matched txids until every one
// has arrived as a trailing MsgTx — a peer sends the merkleblock first,
// then the matching transactions.
type pendingMerkle struct {
	hash      chainhash.Hash
	root      chainhash.Hash
	expected  []chainhash.Hash
	remaining map[chainhash.Hash]bool
	txs       []*wire.MsgTx
}

// Dial opens a TCP connection to addr and performs the version handshake
// synchronously, returning an unstarted Session. Callers must register the
// peer in peerset.Registry (and in a Pool, via Add) before calling Start,
// so that the HandshakeEvent Start emits always finds the peer already
// present — mirroring the ordering onHandshake/SetHandshake assumes.
func Dial(ctx context.Context, addr string, params chainparams.Params, tipHeight int32, logger *zap.Logger) (*Session, HandshakeInfo, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, HandshakeInfo{}, fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	ourMsg, err := wire.NewMsgVersionFromConn(conn, 0, int32(tipHeight))
	if err != nil {
		conn.Close()
		return nil, HandshakeInfo{}, fmt.Errorf("p2p: build version message: %w", err)
	}
	if err := ourMsg.AddUserAgent("spvnode", "0.1.0"); err != nil {
		conn.Close()
		return nil, HandshakeInfo{}, fmt.Errorf("p2p: add user agent: %w", err)
	}
	ourMsg.AddService(wire.SFNodeBloom)
	ourMsg.ProtocolVersion = int32(ourVersion)

	if _, err := wire.WriteMessage(conn, ourMsg, ourVersion, params.Net); err != nil {
		conn.Close()
		return nil, HandshakeInfo{}, fmt.Errorf("p2p: write version: %w", err)
	}

	info := HandshakeInfo{}
	for {
		msg, _, err := wire.ReadMessage(conn, ourVersion, params.Net)
		if err != nil {
			conn.Close()
			return nil, HandshakeInfo{}, fmt.Errorf("p2p: read version handshake: %w", err)
		}
		if mv, ok := msg.(*wire.MsgVersion); ok {
			v, err := safe.Uint32(mv.ProtocolVersion)
			if err != nil {
				conn.Close()
				return nil, HandshakeInfo{}, fmt.Errorf("p2p: remote protocol version: %w", err)
			}
			info.Version = v
			info.StartHeight = mv.LastBlock
			break
		}
		// Tolerate an out-of-order message arriving before the remote's
		// version reply; anything that isn't MsgVersion here is noise we
		// don't yet have a PeerEvent channel to forward to.
	}

	if _, err := wire.WriteMessage(conn, wire.NewMsgVerAck(), ourVersion, params.Net); err != nil {
		conn.Close()
		return nil, HandshakeInfo{}, fmt.Errorf("p2p: write verack: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	s := &Session{
		ID:     peerset.NewPeerID(),
		Addr:   conn.RemoteAddr(),
		params: params,
		logger: logger,
		conn:   conn,
		send:   make(chan wire.Message, sendQueueDepth),
		done:   make(chan struct{}),
	}
	return s, info, nil
}

// Start launches the read and write pumps and immediately emits the
// HandshakeEvent the caller's Dial/HandshakeInfo described — the first
// thing the coordinator ever learns about this peer. onDisconnect, if
// non-nil, runs once the read pump exits (after its DisconnectEvent has
// been handed off), so a Pool can prune its own reference without the
// coordinator needing to know the Pool exists.
func (s *Session) Start(ctx context.Context, info HandshakeInfo, peerEvents chan<- coordinator.PeerEvent, onDisconnect func()) {
	go s.writePump(ctx)
	go s.readPump(peerEvents, onDisconnect)

	select {
	case peerEvents <- coordinator.HandshakeEvent{Peer: s.ID, Version: info.Version, StartHeight: info.StartHeight}:
	case <-ctx.Done():
	}
}

// Send implements coordinator.Outbox for a single session's queue. A full
// queue means the peer isn't draining fast enough; the message is dropped
// rather than blocking the coordinator's single reactor goroutine — lost
// GetData/GetHeaders requests are re-issued by the coordinator's stall
// recovery or next locator round anyway.
func (s *Session) Send(msg wire.Message) {
	select {
	case s.send <- msg:
	default:
		s.logger.Warn("p2p: send queue full, dropping message",
			zap.Stringer("peer", s.ID), zap.String("cmd", msg.Command()))
	}
}

// Close tears down the connection and stops both pumps.
func (s *Session) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	s.conn.Close()
}

func (s *Session) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.send:
			if _, err := wire.WriteMessage(s.conn, msg, ourVersion, s.params.Net); err != nil {
				s.logger.Warn("p2p: write failed", zap.Stringer("peer", s.ID), zap.Error(err))
				s.Close()
				return
			}
		}
	}
}

func (s *Session) readPump(peerEvents chan<- coordinator.PeerEvent, onDisconnect func()) {
	defer s.Close()
	defer func() {
		select {
		case peerEvents <- coordinator.DisconnectEvent{Peer: s.ID}:
		case <-s.done:
		}
		if onDisconnect != nil {
			onDisconnect()
		}
	}()

	for {
		msg, _, err := wire.ReadMessage(s.conn, ourVersion, s.params.Net)
		if err != nil {
			s.logger.Info("p2p: peer read error, disconnecting", zap.Stringer("peer", s.ID), zap.Error(err))
			return
		}

		switch m := msg.(type) {
		case *wire.MsgPing:
			s.Send(wire.NewMsgPong(m.Nonce))
		case *wire.MsgPong, *wire.MsgVersion, *wire.MsgVerAck, *wire.MsgAddr, *wire.MsgNotFound:
			// Acknowledged but not acted on post-handshake.
		case *wire.MsgReject:
			s.logger.Warn("p2p: peer rejected a message",
				zap.Stringer("peer", s.ID), zap.String("cmd", m.Cmd), zap.String("reason", m.Reason))
		case *wire.MsgMerkleBlock:
			s.onMerkleBlock(m, peerEvents)
		case *wire.MsgTx:
			s.onTx(m, peerEvents)
		case *wire.MsgHeaders, *wire.MsgInv:
			select {
			case peerEvents <- coordinator.InboundEvent{Peer: s.ID, Msg: msg}:
			case <-s.done:
				return
			}
		default:
			s.logger.Debug("p2p: ignoring unhandled message", zap.String("cmd", msg.Command()))
		}
	}
}

// onMerkleBlock begins (or restarts) accumulation of one merkleblock's
// matched txids. A merkleblock that fails to decode is logged and dropped;
// the coordinator's stall-recovery heartbeat re-requests it.
func (s *Session) onMerkleBlock(m *wire.MsgMerkleBlock, peerEvents chan<- coordinator.PeerEvent) {
	matched, err := decodeMerkleBlock(m)
	if err != nil {
		s.logger.Warn("p2p: dropping unparseable merkleblock", zap.Stringer("peer", s.ID), zap.Error(err))
		return
	}
	if len(matched) == 0 {
		// No matches: nothing trails this message, so the block is
		// already fully assembled.
		select {
		case peerEvents <- coordinator.MerkleAssembledEvent{
			Peer: s.ID,
			Block: coordinator.DecodedMerkleBlock{
				Hash: m.Header.BlockHash(),
				Root: m.Header.MerkleRoot,
			},
		}:
		case <-s.done:
		}
		return
	}
	remaining := make(map[chainhash.Hash]bool, len(matched))
	for _, h := range matched {
		remaining[h] = true
	}
	s.pending = &pendingMerkle{
		hash:      m.Header.BlockHash(),
		root:      m.Header.MerkleRoot,
		expected:  matched,
		remaining: remaining,
	}
}

// onTx routes an incoming tx: if it completes the pending merkleblock's
// matched set, the accumulated DecodedMerkleBlock is emitted; otherwise
// it's a solo broadcast tx forwarded for the coordinator's own gating.
func (s *Session) onTx(tx *wire.MsgTx, peerEvents chan<- coordinator.PeerEvent) {
	txid := tx.TxHash()
	if s.pending != nil && s.pending.remaining[txid] {
		delete(s.pending.remaining, txid)
		s.pending.txs = append(s.pending.txs, tx)
		if len(s.pending.remaining) == 0 {
			p := s.pending
			s.pending = nil
			select {
			case peerEvents <- coordinator.MerkleAssembledEvent{
				Peer: s.ID,
				Block: coordinator.DecodedMerkleBlock{
					Hash:     p.hash,
					Root:     p.root,
					Expected: p.expected,
					Txs:      p.txs,
				},
			}:
			case <-s.done:
			}
		}
		return
	}

	select {
	case peerEvents <- coordinator.InboundEvent{Peer: s.ID, Msg: tx}:
	case <-s.done:
	}
}
