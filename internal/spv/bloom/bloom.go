// Package bloom wraps the wallet-supplied probabilistic filter the
// coordinator gates Merkle-block downloads on. Filter matching itself is
// performed by peers; this package only builds, serializes, and compares
// the filter the coordinator hands to FilterLoad.
package bloom

import (
	"bytes"

	bbbloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Filter is a bloom-filter value: the bit array plus the BIP37 parameters
// peers need to reconstruct an equivalent filter from a filterload
// message.
type Filter struct {
	set       *bbbloom.BloomFilter
	tweak     uint32
	flags     wire.BloomUpdateType
	hashFuncs uint32
	elements  int
}

// New builds an empty filter sized for n elements at the given false
// positive rate.
func New(n uint, falsePositive float64, tweak uint32, flags wire.BloomUpdateType) *Filter {
	set := bbbloom.NewWithEstimates(n, falsePositive)
	return &Filter{
		set:       set,
		tweak:     tweak,
		flags:     flags,
		hashFuncs: uint32(set.K()),
	}
}

// Add inserts a raw data element (address script, outpoint bytes, txid) the
// wallet wants peers to match against.
func (f *Filter) Add(data []byte) {
	f.set.Add(data)
	f.elements++
}

// AddHash inserts a chain hash (e.g. a txid to watch for in a solo Tx
// announcement).
func (f *Filter) AddHash(h chainhash.Hash) {
	f.Add(h[:])
}

// AddOutPoint inserts a serialized outpoint, used by BloomUpdateAll-style
// filters to follow spends of a wallet's own outputs.
func (f *Filter) AddOutPoint(op wire.OutPoint) {
	var buf bytes.Buffer
	buf.Write(op.Hash[:])
	var idx [4]byte
	idx[0] = byte(op.Index)
	idx[1] = byte(op.Index >> 8)
	idx[2] = byte(op.Index >> 16)
	idx[3] = byte(op.Index >> 24)
	buf.Write(idx[:])
	f.Add(buf.Bytes())
}

// Matches reports whether data might be present in the filter (false
// positives are expected by construction; false negatives are not).
func (f *Filter) Matches(data []byte) bool {
	return f.set.Test(data)
}

// IsEmpty reports whether nothing has ever been added — an empty filter is
// ignored by UpdateBloom since it would match nothing.
func (f *Filter) IsEmpty() bool {
	return f.elements == 0
}

// Equal compares two filters' encoded bit arrays and parameters.
func (f *Filter) Equal(other *Filter) bool {
	if other == nil {
		return false
	}
	if f.tweak != other.tweak || f.flags != other.flags || f.hashFuncs != other.hashFuncs {
		return false
	}
	a, err := f.set.GobEncode()
	if err != nil {
		return false
	}
	b, err := other.set.GobEncode()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// ToWireMsg encodes the filter as the FilterLoad payload sent to peers.
func (f *Filter) ToWireMsg() (*wire.MsgFilterLoad, error) {
	raw, err := f.set.GobEncode()
	if err != nil {
		return nil, err
	}
	return wire.NewMsgFilterLoad(raw, f.hashFuncs, f.tweak, f.flags), nil
}

// FromWireMsg reconstructs a Filter from a received FilterLoad payload
// (used in tests and by any peer-facing server role).
func FromWireMsg(msg *wire.MsgFilterLoad) (*Filter, error) {
	set := &bbbloom.BloomFilter{}
	if err := set.GobDecode(msg.Filter); err != nil {
		return nil, err
	}
	return &Filter{
		set:       set,
		tweak:     msg.Tweak,
		flags:     msg.Flags,
		hashFuncs: msg.HashFuncs,
		elements:  1, // a filter received over the wire is assumed non-empty
	}, nil
}
