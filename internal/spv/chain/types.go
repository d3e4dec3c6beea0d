// Package chain is the single authority on chain structure: header
// validation, difficulty retargeting, chain selection, reorg commit, and
// locator construction, built over the store.HeaderStore capability.
package chain

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/spv/store"
)

// maxMedianTimes is the number of ancestor timestamps kept, newest first,
// for the median time-past check.
const maxMedianTimes = 11

// HeaderNode is the in-memory form of a persisted header record.
type HeaderNode struct {
	Hash        chainhash.Hash
	Header      wire.BlockHeader
	Height      uint32
	ChainWork   *big.Int
	ChildHash   *chainhash.Hash
	MedianTimes []int64
	MinWork     uint32
}

// MedianTime returns the median of the node's recorded ancestor timestamps.
func (n HeaderNode) MedianTime() int64 {
	return medianOf(n.MedianTimes)
}

func medianOf(times []int64) int64 {
	if len(times) == 0 {
		return 0
	}
	sorted := append([]int64(nil), times...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}

// nextMedianTimes builds the child's median-time window: its own timestamp
// prepended (newest-first) to the parent's window, capped at
// maxMedianTimes.
func nextMedianTimes(parent HeaderNode, timestamp int64) []int64 {
	out := make([]int64, 0, maxMedianTimes)
	out = append(out, timestamp)
	out = append(out, parent.MedianTimes...)
	if len(out) > maxMedianTimes {
		out = out[:maxMedianTimes]
	}
	return out
}

func toStoreNode(n HeaderNode) store.Node {
	sn := store.Node{
		Hash:        n.Hash,
		Version:     n.Header.Version,
		PrevBlock:   n.Header.PrevBlock,
		MerkleRoot:  n.Header.MerkleRoot,
		Timestamp:   n.Header.Timestamp.Unix(),
		Bits:        n.Header.Bits,
		Nonce:       n.Header.Nonce,
		Height:      n.Height,
		MedianTimes: n.MedianTimes,
		MinWork:     n.MinWork,
	}
	if n.ChainWork != nil {
		sn.ChainWork = n.ChainWork.Bytes()
	}
	if n.ChildHash != nil {
		sn.HasChild = true
		sn.ChildHash = *n.ChildHash
	}
	return sn
}

func fromStoreNode(sn store.Node) HeaderNode {
	n := HeaderNode{
		Hash: sn.Hash,
		Header: wire.BlockHeader{
			Version:    sn.Version,
			PrevBlock:  sn.PrevBlock,
			MerkleRoot: sn.MerkleRoot,
			Timestamp:  time.Unix(sn.Timestamp, 0).UTC(),
			Bits:       sn.Bits,
			Nonce:      sn.Nonce,
		},
		Height:      sn.Height,
		ChainWork:   new(big.Int).SetBytes(sn.ChainWork),
		MedianTimes: sn.MedianTimes,
		MinWork:     sn.MinWork,
	}
	if sn.HasChild {
		h := sn.ChildHash
		n.ChildHash = &h
	}
	return n
}
