// Package clickhouse implements wallet.Sink over ClickHouse, storing every
// delivered transaction and Merkle-block action for later querying by the
// wallet's own application logic.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
	"github.com/goodnatureofminers/spvnode/pkg/batcher"
)

// Metrics observes repository operation outcomes; see
// internal/metrics/wallet.go for the promauto-backed implementation.
type Metrics interface {
	Observe(operation string, err error, started time.Time)
}

type txRow struct {
	txid       string
	raw        []byte
	observedAt time.Time
}

type actionRow struct {
	kind          string
	height        uint32
	hash          string
	expectedCount uint32
	observedAt    time.Time
}

// Repository is a batched ClickHouse-backed wallet.Sink.
type Repository struct {
	conn    clickhouse.Conn
	metrics Metrics

	txBatcher     *batcher.Batcher[txRow]
	actionBatcher *batcher.Batcher[actionRow]
}

// Config controls batching cadence; zero values fall back to sane defaults.
type Config struct {
	DSN           string
	FlushSize     int
	FlushInterval time.Duration
	FlushRPS      int
}

// NewRepository opens a ClickHouse connection and wires up the batched
// writers for transactions and Merkle actions.
func NewRepository(cfg Config, logger *zap.Logger, metrics Metrics) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.FlushRPS <= 0 {
		cfg.FlushRPS = 20
	}

	options, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	r := &Repository{conn: conn, metrics: metrics}
	r.txBatcher = batcher.New(logger, r.flushTxs, cfg.FlushSize, cfg.FlushInterval, cfg.FlushRPS)
	r.actionBatcher = batcher.New(logger, r.flushActions, cfg.FlushSize, cfg.FlushInterval, cfg.FlushRPS)
	return r, nil
}

// Start begins the background flush loops; call once the owning process's
// root context is established.
func (r *Repository) Start(ctx context.Context) {
	r.txBatcher.Start(ctx)
	r.actionBatcher.Start(ctx)
}

// Stop drains and stops the background flush loops.
func (r *Repository) Stop() {
	r.txBatcher.Stop()
	r.actionBatcher.Stop()
}

// Close releases the underlying ClickHouse connection.
func (r *Repository) Close() error {
	return r.conn.Close()
}

// ImportTxs implements wallet.Sink.
func (r *Repository) ImportTxs(ctx context.Context, txs []*wire.MsgTx) error {
	now := time.Now()
	for _, tx := range txs {
		raw, err := serializeTx(tx)
		if err != nil {
			return fmt.Errorf("serialize tx %s: %w", tx.TxHash(), err)
		}
		row := txRow{txid: tx.TxHash().String(), raw: raw, observedAt: now}
		if err := r.txBatcher.Add(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// ImportMerkle implements wallet.Sink.
func (r *Repository) ImportMerkle(ctx context.Context, action chain.ImportAction, expected []chainhash.Hash) error {
	row := actionRow{
		kind:          action.Kind.String(),
		height:        action.Node.Height,
		hash:          action.Node.Hash.String(),
		expectedCount: uint32(len(expected)),
		observedAt:    time.Now(),
	}
	return r.actionBatcher.Add(ctx, row)
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	buf := make([]byte, 0, tx.SerializeSize())
	w := byteSliceWriter{buf: buf}
	if err := tx.Serialize(&w); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// byteSliceWriter adapts append-based growth to io.Writer for
// wire.MsgTx.Serialize, avoiding a bytes.Buffer allocation per call.
type byteSliceWriter struct{ buf []byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (r *Repository) flushTxs(ctx context.Context, rows []txRow) error {
	start := time.Now()
	var err error
	defer func() { r.metrics.Observe("insert_txs", err, start) }()

	if len(rows) == 0 {
		return nil
	}

	const query = `INSERT INTO spv_imported_txs (txid, raw, observed_at) VALUES`
	var batch clickhouse.Batch
	batch, err = r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare txs batch: %w", err)
	}
	for _, row := range rows {
		if err = batch.Append(row.txid, row.raw, row.observedAt); err != nil {
			return fmt.Errorf("append tx row: %w", err)
		}
	}
	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert txs: %w", err)
	}
	return nil
}

func (r *Repository) flushActions(ctx context.Context, rows []actionRow) error {
	start := time.Now()
	var err error
	defer func() { r.metrics.Observe("insert_merkle_actions", err, start) }()

	if len(rows) == 0 {
		return nil
	}

	const query = `INSERT INTO spv_merkle_actions (kind, height, hash, expected_count, observed_at) VALUES`
	var batch clickhouse.Batch
	batch, err = r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare actions batch: %w", err)
	}
	for _, row := range rows {
		if err = batch.Append(row.kind, row.height, row.hash, row.expectedCount, row.observedAt); err != nil {
			return fmt.Errorf("append action row: %w", err)
		}
	}
	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert merkle actions: %w", err)
	}
	return nil
}
