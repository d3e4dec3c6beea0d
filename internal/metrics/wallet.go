package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	walletRepositoryOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spvnode",
		Subsystem: "wallet_repository",
		Name:      "operations_total",
		Help:      "Count of wallet sink repository operations.",
	}, []string{"operation", "status"})
	walletRepositoryOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spvnode",
		Subsystem: "wallet_repository",
		Name:      "operation_duration_seconds",
		Help:      "Duration of wallet sink repository operations.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation", "status"})
)

// WalletRepository tracks metrics for a wallet.Sink backed by durable
// storage.
type WalletRepository struct{}

// NewWalletRepository creates a WalletRepository metrics collector.
func NewWalletRepository() *WalletRepository {
	return &WalletRepository{}
}

// Observe records duration and status of a wallet repository operation.
func (m WalletRepository) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	walletRepositoryOperationsTotal.WithLabelValues(operation, status).Inc()
	walletRepositoryOperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}
