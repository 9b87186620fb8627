package observability

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"fixedswap/native/swap"
)

// EventMetrics turns committed engine events into volume, fee and price
// series. It is registered with the engine as an observer.
type EventMetrics struct {
	volume *prometheus.CounterVec
	fees   *prometheus.CounterVec
	swaps  *prometheus.CounterVec
	price  *prometheus.GaugeVec
	spread *prometheus.GaugeVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking committed swaps and pair
// changes.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedswap",
				Subsystem: "events",
				Name:      "volume_units_total",
				Help:      "Units moved by settled swaps segmented by asset and leg.",
			}, []string{"asset", "leg"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedswap",
				Subsystem: "events",
				Name:      "fee_units_total",
				Help:      "Spread retained by vaults segmented by asset.",
			}, []string{"asset"}),
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fixedswap",
				Subsystem: "events",
				Name:      "swaps_total",
				Help:      "Settled swaps segmented by pair, direction and mode.",
			}, []string{"pair", "direction", "mode"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fixedswap",
				Subsystem: "events",
				Name:      "scaled_price",
				Help:      "Current scaled price per pair.",
			}, []string{"pair"}),
			spread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fixedswap",
				Subsystem: "events",
				Name:      "spread_bps",
				Help:      "Current spread per pair in basis points.",
			}, []string{"pair"}),
		}
		prometheus.MustRegister(
			eventRegistry.volume,
			eventRegistry.fees,
			eventRegistry.swaps,
			eventRegistry.price,
			eventRegistry.spread,
		)
	})
	return eventRegistry
}

// SwapExecuted records the volume and fee of a settled swap.
func (m *EventMetrics) SwapExecuted(_ context.Context, receipt swap.Receipt) {
	if m == nil {
		return
	}
	m.volume.WithLabelValues(labelAsset(receipt.AssetIn), "in").Add(float64(receipt.AmountIn))
	m.volume.WithLabelValues(labelAsset(receipt.AssetOut), "out").Add(float64(receipt.AmountOut))
	if receipt.Fee > 0 {
		m.fees.WithLabelValues(labelAsset(receipt.FeeAsset)).Add(float64(receipt.Fee))
	}
	m.swaps.WithLabelValues(receipt.Pair.String(), receipt.Direction.String(), string(receipt.Mode)).Inc()
}

// PairChanged tracks the latest price and spread of each pair.
func (m *EventMetrics) PairChanged(_ context.Context, event swap.PairEvent) {
	if m == nil {
		return
	}
	pair := event.State.Pair.String()
	m.price.WithLabelValues(pair).Set(float64(event.State.ScaledPrice))
	m.spread.WithLabelValues(pair).Set(float64(event.State.SpreadBps))
}

func labelAsset(asset swap.AssetID) string {
	normalized := strings.TrimSpace(strings.ToUpper(string(asset)))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
