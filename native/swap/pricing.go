package swap

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Quote is the outcome of pricing a swap against a price and spread. Gross is
// the pre-fee output for exact-in and the pre-gross-up input for exact-out.
type Quote struct {
	Direction   Direction
	Mode        Mode
	AmountIn    uint64
	AmountOut   uint64
	Gross       uint64
	Fee         uint64
	ScaledPrice uint64
	SpreadBps   uint64
}

// mulDiv computes a*b/d with a 256-bit intermediate, truncating.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	x := new(uint256.Int).SetUint64(a)
	y := new(uint256.Int).SetUint64(b)
	z := new(uint256.Int).SetUint64(d)
	result, overflow := new(uint256.Int).MulDivOverflow(x, y, z)
	if overflow || !result.IsUint64() {
		return 0, fmt.Errorf("%w: %d*%d/%d", ErrArithmeticOverflow, a, b, d)
	}
	return result.Uint64(), nil
}

func checkPricing(price, spread uint64, dir Direction) error {
	if !dir.Valid() {
		return ErrInvalidDirection
	}
	if price == 0 {
		return ErrPairNotInitialized
	}
	return ValidateSpread(spread)
}

// QuoteExactIn prices amountIn of the input asset. The spread is taken from
// the output.
func QuoteExactIn(price, spread uint64, dir Direction, amountIn uint64) (Quote, error) {
	if err := checkPricing(price, spread, dir); err != nil {
		return Quote{}, err
	}
	var (
		gross uint64
		err   error
	)
	if dir == XToY {
		gross, err = mulDiv(amountIn, price, PriceScale)
	} else {
		gross, err = mulDiv(amountIn, PriceScale, price)
	}
	if err != nil {
		return Quote{}, err
	}
	fee, err := mulDiv(gross, spread, SpreadScale)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Direction:   dir,
		Mode:        ModeExactIn,
		AmountIn:    amountIn,
		AmountOut:   gross - fee,
		Gross:       gross,
		Fee:         fee,
		ScaledPrice: price,
		SpreadBps:   spread,
	}, nil
}

// QuoteExactOut prices the input needed to receive amountOut after the
// spread. The result is the inverse of QuoteExactIn up to truncation.
func QuoteExactOut(price, spread uint64, dir Direction, amountOut uint64) (Quote, error) {
	if err := checkPricing(price, spread, dir); err != nil {
		return Quote{}, err
	}
	var (
		taxed uint64
		err   error
	)
	if dir == XToY {
		taxed, err = mulDiv(amountOut, PriceScale, price)
	} else {
		taxed, err = mulDiv(amountOut, price, PriceScale)
	}
	if err != nil {
		return Quote{}, err
	}
	required, err := mulDiv(taxed, SpreadScale, SpreadScale-spread)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Direction:   dir,
		Mode:        ModeExactOut,
		AmountIn:    required,
		AmountOut:   amountOut,
		Gross:       taxed,
		Fee:         required - taxed,
		ScaledPrice: price,
		SpreadBps:   spread,
	}, nil
}
