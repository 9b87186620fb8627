package swap

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
)

// Initialize registers a new pair with caller as its administrator. The
// price starts at zero, so swaps stay disabled until the administrator sets
// one. Both vaults are opened in the same unit of work.
func (e *Engine) Initialize(ctx context.Context, caller common.Address, params InitParams) (*PairState, error) {
	ctx, span := e.startSpan(ctx, "swap.initialize", params.Pair)
	defer span.End()
	began := time.Now()

	state, err := e.initialize(ctx, caller, params)
	e.finish(span, "initialize", began, err)
	if err != nil {
		return nil, err
	}
	slog.Info("swap pair initialized",
		"pair", state.Pair.String(),
		"administrator", state.Administrator.Hex(),
		"authority", state.Authority.Hex(),
		"spread_bps", state.SpreadBps,
		"expiration_window", state.ExpirationWindow.String())
	e.notifyPair(ctx, PairEvent{Kind: PairInitialized, Actor: caller, State: *state, At: state.CreatedAt})
	return state, nil
}

func (e *Engine) initialize(ctx context.Context, caller common.Address, params InitParams) (*PairState, error) {
	if caller == (common.Address{}) {
		return nil, fmt.Errorf("%w: caller required", ErrUnauthorized)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	window := params.ExpirationWindow
	if window == 0 {
		window = e.defaultWindow
	}
	defer e.lockPair(params.Pair)()

	now := e.clock().UTC()
	state := &PairState{
		Pair:             params.Pair,
		Administrator:    caller,
		Authority:        DeriveAuthority(params.Pair),
		ScaledPrice:      0,
		SpreadBps:        params.SpreadBps,
		ExpirationWindow: window,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := e.store.Atomic(ctx, func(tx StoreTx) error {
		if err := tx.CreatePair(ctx, state); err != nil {
			return err
		}
		if err := tx.OpenVault(ctx, state.Authority, state.Pair.X); err != nil {
			return fmt.Errorf("open vault %s: %w", state.Pair.X, err)
		}
		if err := tx.OpenVault(ctx, state.Authority, state.Pair.Y); err != nil {
			return fmt.Errorf("open vault %s: %w", state.Pair.Y, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// UpdatePrice overwrites the pair price. Only the administrator may call
// it; a price of zero disables swaps.
func (e *Engine) UpdatePrice(ctx context.Context, caller common.Address, pair PairKey, price uint64) (*PairState, error) {
	ctx, span := e.startSpan(ctx, "swap.update_price", pair, attribute.String("swap.price", strconv.FormatUint(price, 10)))
	defer span.End()
	began := time.Now()

	state, err := e.mutate(ctx, caller, pair, func(state *PairState) {
		state.ScaledPrice = price
	})
	e.finish(span, "update_price", began, err)
	if err != nil {
		if Classify(err) == ClassAuthorization {
			slog.Warn("swap price update rejected", "pair", pair.String(), "caller", caller.Hex())
		}
		return nil, err
	}
	slog.Info("swap price updated", "pair", pair.String(), "price", state.ScaledPrice)
	e.notifyPair(ctx, PairEvent{Kind: PairPriceUpdated, Actor: caller, State: *state, At: state.UpdatedAt})
	return state, nil
}

// UpdateParams applies the present fields of update. Only the administrator
// may call it. An empty update changes nothing and emits no event. A zero
// expiration window resets the pair to the engine default, as Initialize does.
func (e *Engine) UpdateParams(ctx context.Context, caller common.Address, pair PairKey, update ParamsUpdate) (*PairState, error) {
	ctx, span := e.startSpan(ctx, "swap.update_params", pair)
	defer span.End()
	began := time.Now()

	if err := update.Validate(); err != nil {
		e.finish(span, "update_params", began, err)
		return nil, err
	}
	if update.ExpirationWindow != nil && *update.ExpirationWindow == 0 {
		window := e.defaultWindow
		update.ExpirationWindow = &window
	}
	var state *PairState
	var err error
	if update.Empty() {
		state, err = e.mutate(ctx, caller, pair, nil)
	} else {
		state, err = e.mutate(ctx, caller, pair, update.Apply)
	}
	e.finish(span, "update_params", began, err)
	if err != nil {
		if Classify(err) == ClassAuthorization {
			slog.Warn("swap params update rejected", "pair", pair.String(), "caller", caller.Hex())
		}
		return nil, err
	}
	if update.Empty() {
		return state, nil
	}
	slog.Info("swap params updated",
		"pair", pair.String(),
		"price", state.ScaledPrice,
		"spread_bps", state.SpreadBps,
		"expiration_window", state.ExpirationWindow.String())
	e.notifyPair(ctx, PairEvent{Kind: PairParamsUpdated, Actor: caller, State: *state, At: state.UpdatedAt})
	return state, nil
}

// mutate loads the pair, checks caller against the administrator and
// persists apply's changes. A nil apply only performs the checks.
func (e *Engine) mutate(ctx context.Context, caller common.Address, pair PairKey, apply func(*PairState)) (*PairState, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	defer e.lockPair(pair)()

	var result *PairState
	err := e.store.Atomic(ctx, func(tx StoreTx) error {
		state, err := tx.LoadPair(ctx, pair)
		if err != nil {
			return err
		}
		if caller == (common.Address{}) || caller != state.Administrator {
			return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
		}
		if apply == nil {
			result = state
			return nil
		}
		apply(state)
		if err := ValidateSpread(state.SpreadBps); err != nil {
			return err
		}
		state.UpdatedAt = e.clock().UTC()
		if err := tx.SavePair(ctx, state); err != nil {
			return err
		}
		result = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
