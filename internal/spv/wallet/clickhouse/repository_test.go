package clickhouse

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
)

// fakeMetrics is a hand-written Metrics double; the interface is a single
// method and not worth a generated mock.
type fakeMetrics struct {
	operation string
	err       error
	called    bool
}

func (f *fakeMetrics) Observe(operation string, err error, started time.Time) {
	f.operation = operation
	f.err = err
	f.called = true
}

func TestNewRepositoryRequiresDSN(t *testing.T) {
	_, err := NewRepository(Config{}, nil, &fakeMetrics{})
	require.Error(t, err)
}

func TestSerializeTxRoundTrips(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x76, 0xa9}))

	raw, err := serializeTx(tx)
	require.NoError(t, err)

	got := wire.NewMsgTx(0)
	require.NoError(t, got.Deserialize(bytes.NewReader(raw)))
	require.Equal(t, tx.TxHash(), got.TxHash())
}

func TestImportKindString(t *testing.T) {
	cases := map[chain.ImportKind]string{
		chain.ImportBestBlock:  "best_block",
		chain.ImportChainReorg: "chain_reorg",
		chain.ImportSideBlock:  "side_block",
		chain.ImportOldBlock:   "old_block",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
}
