package swap

import (
	"fmt"
	"time"
)

const (
	// PriceScale is the fixed-point scale of PairState.ScaledPrice.
	PriceScale uint64 = 1_000_000
	// SpreadScale is the basis-point scale of PairState.SpreadBps.
	SpreadScale uint64 = 10_000
	// DefaultExpirationWindow is applied when a pair is initialised without
	// an explicit window and the engine has no override.
	DefaultExpirationWindow = 30 * time.Second
)

// ValidateSpread ensures the spread leaves a non-zero denominator for
// exact-out pricing.
func ValidateSpread(bps uint64) error {
	if bps >= SpreadScale {
		return fmt.Errorf("%w: got %d", ErrInvalidSpread, bps)
	}
	return nil
}

// ValidateWindow rejects negative expiration windows.
func ValidateWindow(window time.Duration) error {
	if window < 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidWindow, window)
	}
	return nil
}

// InitParams describes a new pair. A zero ExpirationWindow selects the
// engine default.
type InitParams struct {
	Pair             PairKey
	SpreadBps        uint64
	ExpirationWindow time.Duration
}

// Validate checks the parameters before any state is touched.
func (p InitParams) Validate() error {
	if err := p.Pair.Validate(); err != nil {
		return err
	}
	if err := ValidateSpread(p.SpreadBps); err != nil {
		return err
	}
	return ValidateWindow(p.ExpirationWindow)
}

// ParamsUpdate carries optional overrides. Nil fields leave the stored value
// untouched; a zero ExpirationWindow selects the engine default.
type ParamsUpdate struct {
	Price            *uint64
	SpreadBps        *uint64
	ExpirationWindow *time.Duration
}

// Empty reports whether the update carries no fields.
func (u ParamsUpdate) Empty() bool {
	return u.Price == nil && u.SpreadBps == nil && u.ExpirationWindow == nil
}

// Validate checks every present field.
func (u ParamsUpdate) Validate() error {
	if u.SpreadBps != nil {
		if err := ValidateSpread(*u.SpreadBps); err != nil {
			return err
		}
	}
	if u.ExpirationWindow != nil {
		if err := ValidateWindow(*u.ExpirationWindow); err != nil {
			return err
		}
	}
	return nil
}

// Apply writes the present fields onto state.
func (u ParamsUpdate) Apply(state *PairState) {
	if state == nil {
		return
	}
	if u.Price != nil {
		state.ScaledPrice = *u.Price
	}
	if u.SpreadBps != nil {
		state.SpreadBps = *u.SpreadBps
	}
	if u.ExpirationWindow != nil {
		state.ExpirationWindow = *u.ExpirationWindow
	}
}
