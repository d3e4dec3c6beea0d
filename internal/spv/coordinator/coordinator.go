package coordinator

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/metrics"
	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
	"github.com/goodnatureofminers/spvnode/internal/spv/wallet"
)

// maxDownloadBatch bounds a single GetData Merkle-block request.
const maxDownloadBatch = 500

// A request left unanswered past stallTimeout is requeued by the next
// heartbeat pass.
const (
	heartbeatInterval = 120 * time.Second
	stallTimeout      = 120 * time.Second
)

// Coordinator is the single-threaded reactor owning all sync state. It is
// not safe for concurrent use; Run is its only
// entrypoint and must be the sole caller of every method on it.
type Coordinator struct {
	chain   *chain.HeaderChain
	peers   *peerset.Registry
	wallet  wallet.Sink
	outbox  Outbox
	logger  *zap.Logger
	metrics *metrics.Coordinator

	now func() time.Time

	state *state
}

// Config carries the coordinator's startup parameters. Seed peers and
// network selection are handled by chainparams and internal/spv/p2p.
type Config struct {
	FastCatchup time.Time
}

// New constructs a Coordinator. Init must be called once before Run.
func New(
	c *chain.HeaderChain,
	peers *peerset.Registry,
	sink wallet.Sink,
	outbox Outbox,
	logger *zap.Logger,
	m *metrics.Coordinator,
	cfg Config,
) *Coordinator {
	return &Coordinator{
		chain:   c,
		peers:   peers,
		wallet:  sink,
		outbox:  outbox,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		state:   newState(cfg.FastCatchup),
	}
}

// SetClock overrides the coordinator's time source; used by tests driving
// heartbeat stall recovery deterministically.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Init ensures the header chain has a genesis node, seeds the initial
// download queue from the configured fast-catchup floor, and seeds the
// Merkle-block import frontier immediately below the first height that
// will be downloaded.
func (c *Coordinator) Init() error {
	if err := c.chain.Init(); err != nil {
		return err
	}
	return c.seedDownloadQueue(c.state.fastCatchup)
}

func (c *Coordinator) seedDownloadQueue(fastCatchup time.Time) error {
	entries, err := c.chain.BlocksToDownload(fastCatchup)
	if err != nil {
		return err
	}
	start, err := c.chain.NodeAtTimestamp(fastCatchup)
	if err != nil {
		return err
	}

	var importTipHeight uint32
	if start.Height > 0 {
		seed, err := c.chain.NodeAtHeight(start.Height - 1)
		if err != nil {
			return err
		}
		c.chain.SeedImportTip(seed)
		importTipHeight = seed.Height
	} else {
		c.chain.SeedImportTip(start)
		importTipHeight = start.Height
	}

	// BlocksToDownload falls back to the tip itself when fastCatchup is
	// beyond every known header's timestamp (its documented behavior for
	// a chain shorter than the catchup floor). On a brand-new chain that
	// tip is exactly the import-frontier seed, which needs no Merkle
	// block of its own — exclude it the same way maybeQueueDownload does
	// for headers accepted later.
	for _, e := range entries {
		if e.Height <= importTipHeight {
			continue
		}
		c.state.addDownload(e.Height, e.Hash)
	}
	c.refreshGauges()
	return nil
}

// Run drains peer events and client requests until ctx is canceled. Both
// channels are read in the same select; no lock spans a suspension
// point.
func (c *Coordinator) Run(ctx context.Context, peerEvents <-chan PeerEvent, clientReqs <-chan ClientRequest) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-peerEvents:
			started := c.now()
			c.handlePeerEvent(ev)
			c.metrics.ObserveEvent(peerEventName(ev), started)
		case req := <-clientReqs:
			started := c.now()
			c.handleClientRequest(req)
			c.metrics.ObserveEvent(clientRequestName(req), started)
		}
	}
}

func (c *Coordinator) handlePeerEvent(ev PeerEvent) {
	switch e := ev.(type) {
	case HandshakeEvent:
		c.onHandshake(e)
	case DisconnectEvent:
		c.onDisconnect(e)
	case InboundEvent:
		c.onInbound(e)
	case MerkleAssembledEvent:
		c.onMerkleAssembled(e)
	default:
		c.logger.Error("coordinator: unknown peer event type")
	}
}

func (c *Coordinator) handleClientRequest(req ClientRequest) {
	switch r := req.(type) {
	case UpdateBloomRequest:
		c.onUpdateBloom(r)
	case PublishTxRequest:
		c.onPublishTx(r)
	case RescanRequest:
		c.onRescan(r)
	case HeartbeatRequest:
		c.onHeartbeat()
	default:
		c.logger.Error("coordinator: unknown client request type")
	}
}

func peerEventName(ev PeerEvent) string {
	switch ev.(type) {
	case HandshakeEvent:
		return "handshake"
	case DisconnectEvent:
		return "disconnect"
	case InboundEvent:
		return "inbound"
	case MerkleAssembledEvent:
		return "merkle_assembled"
	default:
		return "unknown"
	}
}

func clientRequestName(req ClientRequest) string {
	switch req.(type) {
	case UpdateBloomRequest:
		return "update_bloom"
	case PublishTxRequest:
		return "publish_tx"
	case RescanRequest:
		return "rescan"
	case HeartbeatRequest:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// onInbound dispatches a decoded wire message by its concrete type.
// Messages this reactor doesn't act on directly
// (Version/VerAck/Ping/Reject) are handled by the p2p session collaborator
// before an InboundEvent is ever emitted.
func (c *Coordinator) onInbound(e InboundEvent) {
	switch msg := e.Msg.(type) {
	case *wire.MsgHeaders:
		c.onHeaders(e.Peer, msg.Headers)
	case *wire.MsgInv:
		c.onInv(e.Peer, msg.InvList)
	case *wire.MsgTx:
		c.onTx(e.Peer, msg)
	default:
		c.logger.Debug("coordinator: ignoring unhandled inbound message type")
	}
}

// headersSynced reports whether our best tip has caught up to every
// connected peer's advertised height.
func (c *Coordinator) headersSynced() bool {
	tip, err := c.chain.BestTip()
	if err != nil {
		return false
	}
	return int32(tip.Height) >= c.peers.BestHeight()
}

// merkleSynced reports the same condition used to gate solo-tx delivery:
// our best tip height has caught up to every peer's.
func (c *Coordinator) merkleSynced() bool {
	return c.headersSynced()
}

func (c *Coordinator) refreshGauges() {
	c.metrics.SetPeersConnected(c.peers.Len())
	c.metrics.SetBlocksToDownload(c.state.downloadQueueLen())
	c.metrics.SetInflightMerkles(c.state.inflightMerkleLen())
}
