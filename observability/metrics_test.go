package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fixedswap/native/swap"
)

func TestSwapMetricsObserveLabelsByCode(t *testing.T) {
	m := Swap()
	before := testutil.ToFloat64(m.errors.WithLabelValues("swap_exact_in", "guard", "output_too_small"))
	m.Observe("swap_exact_in", 5*time.Millisecond, swap.ErrOutputTooSmall)
	after := testutil.ToFloat64(m.errors.WithLabelValues("swap_exact_in", "guard", "output_too_small"))
	if after-before != 1 {
		t.Fatalf("expected one error increment, got %v", after-before)
	}
	okBefore := testutil.ToFloat64(m.requests.WithLabelValues("swap_exact_in", "success"))
	m.Observe("swap_exact_in", time.Millisecond, nil)
	if got := testutil.ToFloat64(m.requests.WithLabelValues("swap_exact_in", "success")); got-okBefore != 1 {
		t.Fatalf("expected one success increment, got %v", got-okBefore)
	}
	internal := testutil.ToFloat64(m.errors.WithLabelValues("initialize", "internal", "internal"))
	m.Observe("initialize", time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(m.errors.WithLabelValues("initialize", "internal", "internal")); got-internal != 1 {
		t.Fatalf("unknown errors must be labelled internal")
	}
}

func TestEventMetricsTrackSwapsAndPrices(t *testing.T) {
	m := Events()
	pair := swap.PairKey{X: "MXA", Y: "MXB"}
	receipt := swap.Receipt{
		Pair:      pair,
		Direction: swap.XToY,
		Mode:      swap.ModeExactIn,
		AssetIn:   "MXA",
		AssetOut:  "MXB",
		AmountIn:  1000,
		AmountOut: 1980,
		Fee:       20,
		FeeAsset:  "MXB",
	}
	m.SwapExecuted(context.Background(), receipt)
	if got := testutil.ToFloat64(m.volume.WithLabelValues("MXA", "in")); got != 1000 {
		t.Fatalf("expected 1000 units in, got %v", got)
	}
	if got := testutil.ToFloat64(m.fees.WithLabelValues("MXB")); got != 20 {
		t.Fatalf("expected 20 fee units, got %v", got)
	}
	m.PairChanged(context.Background(), swap.PairEvent{
		Kind:  swap.PairPriceUpdated,
		State: swap.PairState{Pair: pair, ScaledPrice: 2_000_000, SpreadBps: 100},
	})
	if got := testutil.ToFloat64(m.price.WithLabelValues(pair.String())); got != 2_000_000 {
		t.Fatalf("expected price gauge 2000000, got %v", got)
	}
}

func TestHTTPMetricsThrottle(t *testing.T) {
	m := HTTP()
	before := testutil.ToFloat64(m.throttles.WithLabelValues("swap", "rate_limit"))
	m.RecordThrottle("swap", "rate_limit")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("swap", "rate_limit")); got-before != 1 {
		t.Fatalf("expected throttle increment")
	}
	m.Observe("swap", "POST", 422, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("swap", "POST", "422")); got < 1 {
		t.Fatalf("expected error series for 422")
	}
}
