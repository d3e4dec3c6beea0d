// Package chainparams carries the per-network constants the header chain
// and coordinator need, wrapping btcd's chaincfg.Params rather than
// re-declaring them.
package chainparams

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// Params is the per-network value carried into the HeaderChain and
// coordinator constructors.
type Params struct {
	*chaincfg.Params

	// DiffAdjustInterval is target_timespan / target_spacing, the number
	// of blocks between retargets.
	DiffAdjustInterval int32

	// MinRetargetTimespan / MaxRetargetTimespan bound the clamped actual
	// timespan used by the retarget formula.
	MinRetargetTimespan int64
	MaxRetargetTimespan int64
}

// New derives the retarget bookkeeping fields from a chaincfg.Params value.
func New(p *chaincfg.Params) Params {
	targetTimespan := int64(p.TargetTimespan / time.Second)
	targetSpacing := int64(p.TargetTimePerBlock / time.Second)
	adjustmentFactor := p.RetargetAdjustmentFactor

	return Params{
		Params:              p,
		DiffAdjustInterval:  int32(targetTimespan / targetSpacing),
		MinRetargetTimespan: targetTimespan / adjustmentFactor,
		MaxRetargetTimespan: targetTimespan * adjustmentFactor,
	}
}

// MainNet, TestNet3, RegressionNet, SimNet mirror chaincfg's network
// parameter sets; they're the only constructors callers need in practice.
func MainNet() Params { return New(&chaincfg.MainNetParams) }

func TestNet3() Params { return New(&chaincfg.TestNet3Params) }

func RegressionNet() Params { return New(&chaincfg.RegressionNetParams) }

func SimNet() Params { return New(&chaincfg.SimNetParams) }

// GenesisHeader returns the network's genesis block header.
func (p Params) GenesisHeader() wire.BlockHeader {
	return p.GenesisBlock.Header
}

// CheckpointAt returns the checkpoint at or immediately below height, and
// whether one exists.
func (p Params) CheckpointAt(height int32) (chaincfg.Checkpoint, bool) {
	var best chaincfg.Checkpoint
	found := false
	for _, cp := range p.Checkpoints {
		if cp.Height <= height && (!found || cp.Height > best.Height) {
			best = cp
			found = true
		}
	}
	return best, found
}

// LastCheckpointHeight returns the height of the highest configured
// checkpoint, or -1 if none are configured.
func (p Params) LastCheckpointHeight() int32 {
	height := int32(-1)
	for _, cp := range p.Checkpoints {
		if cp.Height > height {
			height = cp.Height
		}
	}
	return height
}
