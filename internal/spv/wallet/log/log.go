// Package log implements a wallet.Sink that records deliveries via zap
// instead of persisting them — useful standalone or layered in front of a
// durable sink via wallet.Multi.
package log

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
)

// Sink logs every WalletSink delivery at debug level.
type Sink struct {
	logger *zap.Logger
}

// New returns a logging wallet.Sink.
func New(logger *zap.Logger) *Sink {
	return &Sink{logger: logger}
}

// ImportTxs implements wallet.Sink.
func (s *Sink) ImportTxs(_ context.Context, txs []*wire.MsgTx) error {
	if len(txs) == 0 {
		return nil
	}
	s.logger.Debug("wallet: import_txs", zap.Int("count", len(txs)))
	return nil
}

// ImportMerkle implements wallet.Sink.
func (s *Sink) ImportMerkle(_ context.Context, action chain.ImportAction, expected []chainhash.Hash) error {
	s.logger.Debug("wallet: import_merkle",
		zap.Stringer("kind", action.Kind),
		zap.Uint32("height", action.Node.Height),
		zap.Stringer("hash", action.Node.Hash),
		zap.Int("expected", len(expected)),
	)
	return nil
}
