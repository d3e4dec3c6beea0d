// Package wallet defines the sink capability the coordinator delivers
// ordered transactions and Merkle-block actions to. Concrete sinks live in
// subpackages: wallet/log for an always-available debug sink,
// wallet/clickhouse for durable storage.
package wallet

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
)

// Sink is the capability the coordinator writes to. ImportTxs for a
// Merkle block's transactions always precedes the ImportMerkle call naming
// that block.
type Sink interface {
	ImportTxs(ctx context.Context, txs []*wire.MsgTx) error
	ImportMerkle(ctx context.Context, action chain.ImportAction, expected []chainhash.Hash) error
}

// Multi fans a single coordinator delivery out to several sinks, in order,
// stopping at the first error. Used to run wallet/log alongside wallet/
// clickhouse without the coordinator knowing how many sinks are attached.
type Multi []Sink

func (m Multi) ImportTxs(ctx context.Context, txs []*wire.MsgTx) error {
	for _, s := range m {
		if err := s.ImportTxs(ctx, txs); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) ImportMerkle(ctx context.Context, action chain.ImportAction, expected []chainhash.Hash) error {
	for _, s := range m {
		if err := s.ImportMerkle(ctx, action, expected); err != nil {
			return err
		}
	}
	return nil
}

var _ Sink = Multi(nil)
