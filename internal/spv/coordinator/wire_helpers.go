package coordinator

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/spv/bloom"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
)

// zeroHash is the wildcard HashStop value meaning "as many headers as the
// peer will send".
var zeroHash chainhash.Hash

// newGetHeaders builds a GetHeaders message from a locator and stop hash.
func newGetHeaders(locator []chainhash.Hash, stop chainhash.Hash) *wire.MsgGetHeaders {
	msg := wire.NewMsgGetHeaders()
	msg.ProtocolVersion = uint32(wire.ProtocolVersion)
	msg.HashStop = stop
	for i := range locator {
		_ = msg.AddBlockLocatorHash(&locator[i])
	}
	return msg
}

// newGetDataMerkle builds a single GetData request listing entries as
// filtered-block inventory vectors.
func newGetDataMerkle(entries []downloadEntry) *wire.MsgGetData {
	msg := wire.NewMsgGetData()
	for _, e := range entries {
		_ = msg.AddInvVect(&wire.InvVect{Type: wire.InvTypeFilteredBlock, Hash: e.Hash})
	}
	return msg
}

// newGetDataTxs builds a single GetData request listing hashes as tx
// inventory vectors.
func newGetDataTxs(hashes []chainhash.Hash) *wire.MsgGetData {
	msg := wire.NewMsgGetData()
	for i := range hashes {
		_ = msg.AddInvVect(&wire.InvVect{Type: wire.InvTypeTx, Hash: hashes[i]})
	}
	return msg
}

func (c *Coordinator) sendFilterLoad(peer peerset.PeerID, f *bloom.Filter) {
	msg, err := f.ToWireMsg()
	if err != nil {
		c.logger.Error("encode filterload", zap.Error(err), zap.Stringer("peer", peer))
		return
	}
	c.outbox.Send(peer, msg)
}
