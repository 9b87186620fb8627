package swap

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestQuoteExactInWorkedExample(t *testing.T) {
	quote, err := QuoteExactIn(2_000_000, 100, XToY, 1000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Gross != 2000 || quote.Fee != 20 || quote.AmountOut != 1980 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestQuoteExactInDirections(t *testing.T) {
	tests := []struct {
		name   string
		price  uint64
		spread uint64
		dir    Direction
		in     uint64
		gross  uint64
		out    uint64
	}{
		{name: "x to y at parity", price: PriceScale, spread: 0, dir: XToY, in: 500, gross: 500, out: 500},
		{name: "y to x halves at 2.0", price: 2_000_000, spread: 100, dir: YToX, in: 1980, gross: 990, out: 981},
		{name: "x to y fractional price", price: 1_500_000, spread: 30, dir: XToY, in: 3, gross: 4, out: 4},
		{name: "y to x truncates to zero", price: 3_000_000, spread: 0, dir: YToX, in: 2, gross: 0, out: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			quote, err := QuoteExactIn(tc.price, tc.spread, tc.dir, tc.in)
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			if quote.Gross != tc.gross || quote.AmountOut != tc.out {
				t.Fatalf("expected gross=%d out=%d, got %+v", tc.gross, tc.out, quote)
			}
		})
	}
}

func TestQuoteExactOutWorkedExample(t *testing.T) {
	quote, err := QuoteExactOut(2_000_000, 100, XToY, 1980)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Gross != 990 || quote.AmountIn != 1000 || quote.Fee != 10 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	quote, err = QuoteExactOut(2_000_000, 100, YToX, 990)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Gross != 1980 || quote.AmountIn != 2000 {
		t.Fatalf("unexpected reverse quote: %+v", quote)
	}
}

func TestQuoteZeroPriceRejected(t *testing.T) {
	for _, dir := range []Direction{XToY, YToX} {
		if _, err := QuoteExactIn(0, 0, dir, 10); !errors.Is(err, ErrPairNotInitialized) {
			t.Fatalf("exact-in %s: expected ErrPairNotInitialized, got %v", dir, err)
		}
		if _, err := QuoteExactOut(0, 0, dir, 10); !errors.Is(err, ErrPairNotInitialized) {
			t.Fatalf("exact-out %s: expected ErrPairNotInitialized, got %v", dir, err)
		}
	}
}

func TestQuoteOverflowRejected(t *testing.T) {
	if _, err := QuoteExactIn(math.MaxUint64, 0, XToY, math.MaxUint64); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := QuoteExactIn(1, 0, YToX, math.MaxUint64); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := QuoteExactOut(PriceScale, 9_999, XToY, math.MaxUint64/2); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow on gross-up, got %v", err)
	}
}

func TestQuoteInvalidSpread(t *testing.T) {
	if _, err := QuoteExactOut(PriceScale, SpreadScale, XToY, 10); !errors.Is(err, ErrInvalidSpread) {
		t.Fatalf("expected ErrInvalidSpread, got %v", err)
	}
}

func TestMulDivWidensIntermediate(t *testing.T) {
	got, err := mulDiv(math.MaxUint64, PriceScale, PriceScale)
	if err != nil {
		t.Fatalf("mulDiv: %v", err)
	}
	if got != math.MaxUint64 {
		t.Fatalf("expected %d, got %d", uint64(math.MaxUint64), got)
	}
	if _, err := mulDiv(1, 1, 0); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected division guard, got %v", err)
	}
}

func TestPropertyNetNeverExceedsGross(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := rapid.Uint64Range(1, 1_000_000_000_000).Draw(t, "price")
		spread := rapid.Uint64Range(0, SpreadScale-1).Draw(t, "spread")
		amount := rapid.Uint64Range(0, 1_000_000_000_000).Draw(t, "amount")
		dir := rapid.SampledFrom([]Direction{XToY, YToX}).Draw(t, "direction")

		quote, err := QuoteExactIn(price, spread, dir, amount)
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		if quote.AmountOut > quote.Gross {
			t.Fatalf("net %d exceeds gross %d", quote.AmountOut, quote.Gross)
		}
		if spread == 0 && quote.AmountOut != quote.Gross {
			t.Fatalf("zero spread must not charge: %+v", quote)
		}
		if spread > 0 && quote.Gross >= SpreadScale && quote.AmountOut >= quote.Gross {
			t.Fatalf("spread %d charged nothing on gross %d", spread, quote.Gross)
		}
	})
}

func TestPropertyRoundTripLosesValue(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := rapid.Uint64Range(1, 1_000_000_000_000).Draw(t, "price")
		spread := rapid.Uint64Range(0, SpreadScale-1).Draw(t, "spread")
		amount := rapid.Uint64Range(1, 1_000_000_000_000).Draw(t, "amount")

		forward, err := QuoteExactIn(price, spread, XToY, amount)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		back, err := QuoteExactIn(price, spread, YToX, forward.AmountOut)
		if err != nil {
			t.Fatalf("back: %v", err)
		}
		if back.AmountOut > amount {
			t.Fatalf("round trip returned %d for %d", back.AmountOut, amount)
		}
	})
}

func TestPropertyExactOutNeverOverDelivers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := rapid.Uint64Range(1, 1_000_000_000_000).Draw(t, "price")
		spread := rapid.Uint64Range(0, SpreadScale-1).Draw(t, "spread")
		out := rapid.Uint64Range(1, 100_000_000).Draw(t, "out")
		dir := rapid.SampledFrom([]Direction{XToY, YToX}).Draw(t, "direction")

		required, err := QuoteExactOut(price, spread, dir, out)
		if err != nil {
			t.Fatalf("exact-out: %v", err)
		}
		replay, err := QuoteExactIn(price, spread, dir, required.AmountIn)
		if err != nil {
			t.Fatalf("exact-in: %v", err)
		}
		if replay.AmountOut > out {
			t.Fatalf("input %d buys %d, more than %d", required.AmountIn, replay.AmountOut, out)
		}
	})
}

func TestPropertyExactOutSymmetry(t *testing.T) {
	var divisors []uint64
	for k := uint64(1); k <= 1000; k++ {
		if PriceScale%k == 0 {
			divisors = append(divisors, k)
		}
	}
	rapid.Check(t, func(t *rapid.T) {
		spread := rapid.Uint64Range(0, SpreadScale-1).Draw(t, "spread")
		out := rapid.Uint64Range(1, 100_000_000).Draw(t, "out")
		dir := rapid.SampledFrom([]Direction{XToY, YToX}).Draw(t, "direction")

		var price uint64
		if dir == XToY {
			price = PriceScale / rapid.SampledFrom(divisors).Draw(t, "divisor")
		} else {
			price = PriceScale * rapid.Uint64Range(1, 100_000).Draw(t, "multiple")
		}
		required, err := QuoteExactOut(price, spread, dir, out)
		if err != nil {
			t.Fatalf("exact-out: %v", err)
		}
		replay, err := QuoteExactIn(price, spread, dir, required.AmountIn)
		if err != nil {
			t.Fatalf("exact-in: %v", err)
		}
		if replay.AmountOut > out || out-replay.AmountOut > 1 {
			t.Fatalf("price %d spread %d: required %d replays to %d, want %d", price, spread, required.AmountIn, replay.AmountOut, out)
		}
	})
}
