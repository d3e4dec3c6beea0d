package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	coordinatorPeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spvnode",
		Subsystem: "coordinator",
		Name:      "peers_connected",
		Help:      "Current number of connected peers.",
	})

	coordinatorBlocksToDownload = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spvnode",
		Subsystem: "coordinator",
		Name:      "blocks_to_download",
		Help:      "Number of best-chain blocks queued for Merkle-block download.",
	})

	coordinatorInflightMerkles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spvnode",
		Subsystem: "coordinator",
		Name:      "inflight_merkles",
		Help:      "Number of Merkle-block requests currently inflight across all peers.",
	})

	coordinatorStallRecoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spvnode",
		Subsystem: "coordinator",
		Name:      "stall_recoveries_total",
		Help:      "Count of inflight Merkle-block requests re-issued after a stall.",
	})

	coordinatorMerkleImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spvnode",
		Subsystem: "coordinator",
		Name:      "merkle_imports_total",
		Help:      "Count of Merkle blocks delivered to the wallet sink, by action kind.",
	}, []string{"kind"})

	coordinatorEventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spvnode",
		Subsystem: "coordinator",
		Name:      "event_duration_seconds",
		Help:      "Duration of handling one PeerEvent or ClientRequest.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event"})
)

// Coordinator tracks metrics for the SpvCoordinator reactor.
type Coordinator struct{}

// NewCoordinator constructs a Coordinator metrics collector.
func NewCoordinator() *Coordinator { return &Coordinator{} }

// SetPeersConnected publishes the current peer count.
func (m Coordinator) SetPeersConnected(n int) { coordinatorPeersConnected.Set(float64(n)) }

// SetBlocksToDownload publishes the current download-queue depth.
func (m Coordinator) SetBlocksToDownload(n int) { coordinatorBlocksToDownload.Set(float64(n)) }

// SetInflightMerkles publishes the current inflight Merkle-block count.
func (m Coordinator) SetInflightMerkles(n int) { coordinatorInflightMerkles.Set(float64(n)) }

// IncStallRecoveries records a heartbeat-triggered stall recovery.
func (m Coordinator) IncStallRecoveries() { coordinatorStallRecoveriesTotal.Inc() }

// ObserveMerkleImport records a completed wallet delivery.
func (m Coordinator) ObserveMerkleImport(kind string) {
	coordinatorMerkleImportsTotal.WithLabelValues(kind).Inc()
}

// ObserveEvent records the processing duration of one reactor iteration.
func (m Coordinator) ObserveEvent(event string, started time.Time) {
	coordinatorEventDuration.WithLabelValues(event).Observe(time.Since(started).Seconds())
}
