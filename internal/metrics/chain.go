// Package metrics exposes application metrics collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chainHeadersConnectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spvnode",
		Subsystem: "chain",
		Name:      "headers_connected_total",
		Help:      "Count of headers accepted by ConnectHeaders, by resulting action.",
	}, []string{"action"})

	chainHeaderRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spvnode",
		Subsystem: "chain",
		Name:      "headers_rejected_total",
		Help:      "Count of headers rejected by ConnectHeaders, by reason.",
	}, []string{"reason"})

	chainBestHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spvnode",
		Subsystem: "chain",
		Name:      "best_height",
		Help:      "Current best-chain tip height.",
	})

	chainConnectHeadersDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spvnode",
		Subsystem: "chain",
		Name:      "connect_headers_duration_seconds",
		Help:      "Duration of a ConnectHeaders call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
)

// Chain tracks metrics for the HeaderChain component.
type Chain struct{}

// NewChain constructs a Chain metrics collector.
func NewChain() *Chain { return &Chain{} }

// ObserveConnectHeaders records the outcome of a ConnectHeaders call.
func (m Chain) ObserveConnectHeaders(action string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	chainConnectHeadersDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	if err == nil {
		chainHeadersConnectedTotal.WithLabelValues(action).Inc()
	}
}

// ObserveRejection records a rejected header by HeaderError reason.
func (m Chain) ObserveRejection(reason string) {
	chainHeaderRejectedTotal.WithLabelValues(reason).Inc()
}

// SetBestHeight publishes the current best-chain tip height.
func (m Chain) SetBestHeight(height uint32) {
	chainBestHeight.Set(float64(height))
}
