package chain

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
)

// maxTimeOffset bounds how far into the future a header's timestamp may be,
// relative to the network-adjusted time.
const maxTimeOffset = 2 * time.Hour

var bigOne = big.NewInt(1)
var oneLsh256 = new(big.Int).Lsh(bigOne, 256)

// calcWork computes a header's expected hash-trial count,
// 2^256 / (target(bits) + 1) — the per-header chain-work increment.
func calcWork(bits uint32) *big.Int {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return new(big.Int)
	}
	denom := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh256, denom)
}

// verifyHeader runs the ordered validation steps against a
// candidate header whose parent is already known. It does not touch the
// store beyond the lookups ancestorAtHeight/getNode perform.
func (c *HeaderChain) verifyHeader(h wire.BlockHeader, parent HeaderNode, adjustedTime time.Time) (HeaderNode, error) {
	hash := h.BlockHash()

	// 1. proof_of_work
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 || target.Cmp(c.params.PowLimit) > 0 {
		return HeaderNode{}, newHeaderErr(ReasonBadProofOfWork, hash, "target out of range")
	}
	hashNum := blockchain.HashToBig(&hash)
	if hashNum.Cmp(target) >= 0 {
		return HeaderNode{}, newHeaderErr(ReasonBadProofOfWork, hash, "hash does not meet target")
	}

	// 2. timestamp <= adjusted_time + 2h
	if h.Timestamp.After(adjustedTime.Add(maxTimeOffset)) {
		return HeaderNode{}, newHeaderErr(ReasonBadTimestamp, hash, "timestamp too far in future")
	}

	// 3. parent exists — guaranteed by the caller, which already resolved
	// parent via getNode before calling verifyHeader.

	// 4. bits = next_work_required(parent, header)
	wantBits, err := c.nextWorkRequired(parent, h.Timestamp)
	if err != nil {
		return HeaderNode{}, err
	}
	if h.Bits != wantBits {
		return HeaderNode{}, newHeaderErr(ReasonBadWork, hash, "bits mismatch")
	}

	// 5. timestamp > median(parent.median_times)
	if h.Timestamp.Unix() <= parent.MedianTime() {
		return HeaderNode{}, newHeaderErr(ReasonTimestampTooEarly, hash, "timestamp not after median time")
	}

	height := parent.Height + 1

	// 6/7. checkpoint enforcement
	if lastCP := c.params.LastCheckpointHeight(); lastCP >= 0 && int32(height) <= lastCP {
		existing, err := c.getByHeight(height)
		if err == nil && existing != hash {
			return HeaderNode{}, newHeaderErr(ReasonRewritesCheckpoint, hash, "height predates last checkpoint")
		}
	}
	if cp, ok := c.params.CheckpointAt(int32(height)); ok && cp.Height == int32(height) {
		if *cp.Hash != hash {
			return HeaderNode{}, newHeaderErr(ReasonFailsCheckpoint, hash, "checkpoint hash mismatch")
		}
	}

	// 8. network-specific rules: reject version=1 blocks at/above BIP0034Height.
	if c.params.BIP0034Height > 0 && h.Version < 2 && int32(height) >= c.params.BIP0034Height {
		return HeaderNode{}, newHeaderErr(ReasonDisallowedVersion, hash, "version 1 block above BIP34 activation height")
	}

	minWork := parent.MinWork
	if wantBits == c.params.PowLimitBits {
		minWork = wantBits
	}

	return HeaderNode{
		Hash:        hash,
		Header:      h,
		Height:      height,
		ChainWork:   new(big.Int).Add(parent.ChainWork, calcWork(h.Bits)),
		ChildHash:   nil,
		MedianTimes: nextMedianTimes(parent, h.Timestamp.Unix()),
		MinWork:     minWork,
	}, nil
}

// NextWorkRequired exposes the retarget formula for callers that need to
// mine a header extending parent directly, outside of ConnectHeader — the
// coordinator's test suite builds synthetic chains this way.
func (c *HeaderChain) NextWorkRequired(parent HeaderNode, newBlockTime time.Time) (uint32, error) {
	return c.nextWorkRequired(parent, newBlockTime)
}

// nextWorkRequired computes the difficulty target for parent's successor.
// On a chain shorter than one full retarget interval (regtest/edge), it
// falls back to parent.bits rather than walking off the end of the store.
func (c *HeaderChain) nextWorkRequired(parent HeaderNode, newBlockTime time.Time) (uint32, error) {
	interval := uint32(c.params.DiffAdjustInterval)
	if interval == 0 {
		return parent.Header.Bits, nil
	}

	if (parent.Height+1)%interval != 0 {
		if c.params.ReduceMinDifficulty {
			allow := parent.Header.Timestamp.Add(2 * c.params.TargetTimePerBlock)
			if newBlockTime.After(allow) {
				return c.params.PowLimitBits, nil
			}
			return parent.MinWork, nil
		}
		return parent.Header.Bits, nil
	}

	if parent.Height+1 < interval {
		return parent.Header.Bits, nil
	}

	first, err := c.ancestorAtHeight(parent, parent.Height+1-interval)
	if err != nil {
		return 0, err
	}

	actual := parent.Header.Timestamp.Unix() - first.Header.Timestamp.Unix()
	if actual < c.params.MinRetargetTimespan {
		actual = c.params.MinRetargetTimespan
	} else if actual > c.params.MaxRetargetTimespan {
		actual = c.params.MaxRetargetTimespan
	}

	oldTarget := blockchain.CompactToBig(parent.Header.Bits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actual))
	targetTimespan := int64(c.params.TargetTimespan / time.Second)
	newTarget.Div(newTarget, big.NewInt(targetTimespan))

	if newTarget.Cmp(c.params.PowLimit) > 0 {
		newTarget.Set(c.params.PowLimit)
	}
	return blockchain.BigToCompact(newTarget), nil
}
