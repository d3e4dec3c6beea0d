package p2p

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/spvnode/internal/spv/chainparams"
	"github.com/goodnatureofminers/spvnode/internal/spv/coordinator"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
	"github.com/goodnatureofminers/spvnode/pkg/workerpool"
)

// Pool tracks every live Session and implements coordinator.Outbox by
// routing each Send to the named peer's own send queue. It is the runtime
// counterpart to peerset.Registry: the registry is the coordinator's view
// of "who is connected and synced", the Pool is the actual sockets.
type Pool struct {
	mu       sync.Mutex
	sessions map[peerset.PeerID]*Session
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{sessions: make(map[peerset.PeerID]*Session)}
}

// Add registers a session so Send can reach it. Callers must have already
// called peerset.Registry.Insert for the same id.
func (p *Pool) Add(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = s
}

// Remove drops a session, closing its connection if still open.
func (p *Pool) Remove(id peerset.PeerID) {
	p.mu.Lock()
	s, ok := p.sessions[id]
	delete(p.sessions, id)
	p.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Send implements coordinator.Outbox.
func (p *Pool) Send(peer peerset.PeerID, msg wire.Message) {
	p.mu.Lock()
	s, ok := p.sessions[peer]
	p.mu.Unlock()
	if !ok {
		return
	}
	s.Send(msg)
}

var _ coordinator.Outbox = (*Pool)(nil)

// DialSeeds concurrently dials every seed address, fanning the attempts
// out through pkg/workerpool.Process. A seed that fails to connect is
// logged and skipped — seed dialing is best-effort, not a startup
// precondition, and there is no retry or ban policy beyond this one pass.
func DialSeeds(
	ctx context.Context,
	seeds []string,
	concurrency int,
	params chainparams.Params,
	tipHeight int32,
	peers *peerset.Registry,
	pool *Pool,
	peerEvents chan<- coordinator.PeerEvent,
	logger *zap.Logger,
) error {
	return workerpool.Process(ctx, concurrency, seeds, func(ctx context.Context, addr string) error {
		sess, info, err := Dial(ctx, addr, params, tipHeight, logger)
		if err != nil {
			logger.Warn("p2p: seed dial failed", zap.String("addr", addr), zap.Error(err))
			return nil
		}
		peers.Insert(sess.ID, sess.Addr)
		pool.Add(sess)
		sess.Start(ctx, info, peerEvents, func() { pool.Remove(sess.ID) })
		return nil
	}, nil)
}
