package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExactInRequest sells up to AmountIn of the input asset.
type ExactInRequest struct {
	Pair         PairKey
	Trader       common.Address
	Direction    Direction
	AmountIn     uint64
	MinAmountOut uint64
}

// ExactOutRequest buys exactly AmountOut of the output asset.
type ExactOutRequest struct {
	Pair        PairKey
	Trader      common.Address
	Direction   Direction
	AmountOut   uint64
	MaxAmountIn uint64
}

// Engine prices and settles swaps and applies administrative changes. All
// mutating operations on one pair are serialised and run as a single unit of
// work against the Store.
type Engine struct {
	store         Store
	clock         func() time.Time
	defaultWindow time.Duration
	metrics       MetricsRecorder
	tracer        trace.Tracer
	newID         func() uuid.UUID

	locksMu sync.Mutex
	locks   map[PairKey]*pairMutex

	observersMu sync.RWMutex
	observers   []Observer
}

// NewEngine constructs an engine on top of store.
func NewEngine(store Store) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("swap: store required")
	}
	return &Engine{
		store:         store,
		clock:         time.Now,
		defaultWindow: DefaultExpirationWindow,
		tracer:        otel.Tracer("native/swap"),
		newID:         uuid.New,
		locks:         make(map[PairKey]*pairMutex),
	}, nil
}

// WithClock overrides the clock used for the expiration guard and
// timestamps.
func (e *Engine) WithClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// WithMetrics attaches a metrics recorder.
func (e *Engine) WithMetrics(metrics MetricsRecorder) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// SetDefaultExpiration changes the window applied to pairs initialised
// without one.
func (e *Engine) SetDefaultExpiration(window time.Duration) error {
	if e == nil {
		return fmt.Errorf("swap: engine not configured")
	}
	if window <= 0 {
		return fmt.Errorf("%w: default must be positive", ErrInvalidWindow)
	}
	e.defaultWindow = window
	return nil
}

// DefaultExpiration returns the window applied to new pairs.
func (e *Engine) DefaultExpiration() time.Duration {
	if e == nil {
		return DefaultExpirationWindow
	}
	return e.defaultWindow
}

// AddObserver registers o for committed swaps and pair changes.
func (e *Engine) AddObserver(o Observer) {
	if e == nil || o == nil {
		return
	}
	e.observersMu.Lock()
	e.observers = append(e.observers, o)
	e.observersMu.Unlock()
}

// pairMutex counts the holders and waiters of one pair's lock so the entry
// can be dropped once nobody references it.
type pairMutex struct {
	mu   sync.Mutex
	refs int
}

// lockPair serialises work on pair and returns the matching unlock. Entries
// live only while referenced, so keys naming unknown pairs do not accumulate.
func (e *Engine) lockPair(pair PairKey) func() {
	e.locksMu.Lock()
	lock, ok := e.locks[pair]
	if !ok {
		lock = &pairMutex{}
		e.locks[pair] = lock
	}
	lock.refs++
	e.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.locks, pair)
		}
		e.locksMu.Unlock()
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, pair PairKey, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("swap.pair", pair.String()))
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (e *Engine) finish(span trace.Span, operation string, began time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("swap.error_code", Code(err)))
	}
	if e.metrics != nil {
		e.metrics.Observe(operation, time.Since(began), err)
	}
}

func (e *Engine) notifySwap(ctx context.Context, receipt Receipt) {
	e.observersMu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.observersMu.RUnlock()
	ctx = context.WithoutCancel(ctx)
	for _, o := range observers {
		o.SwapExecuted(ctx, receipt)
	}
}

func (e *Engine) notifyPair(ctx context.Context, event PairEvent) {
	e.observersMu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.observersMu.RUnlock()
	ctx = context.WithoutCancel(ctx)
	for _, o := range observers {
		o.PairChanged(ctx, event)
	}
}

// Pair returns the current state of pair.
func (e *Engine) Pair(ctx context.Context, pair PairKey) (*PairState, error) {
	var state *PairState
	err := e.store.Atomic(ctx, func(tx StoreTx) error {
		loaded, err := tx.LoadPair(ctx, pair)
		if err != nil {
			return err
		}
		state = loaded
		return nil
	})
	return state, err
}

// QuoteExactIn previews SwapExactIn without balance checks or settlement.
func (e *Engine) QuoteExactIn(ctx context.Context, pair PairKey, dir Direction, amountIn uint64) (Quote, error) {
	if amountIn == 0 {
		return Quote{}, ErrInvalidAmount
	}
	state, err := e.Pair(ctx, pair)
	if err != nil {
		return Quote{}, err
	}
	return QuoteExactIn(state.ScaledPrice, state.SpreadBps, dir, amountIn)
}

// QuoteExactOut previews SwapExactOut without balance checks or settlement.
func (e *Engine) QuoteExactOut(ctx context.Context, pair PairKey, dir Direction, amountOut uint64) (Quote, error) {
	if amountOut == 0 {
		return Quote{}, ErrInvalidAmount
	}
	state, err := e.Pair(ctx, pair)
	if err != nil {
		return Quote{}, err
	}
	return QuoteExactOut(state.ScaledPrice, state.SpreadBps, dir, amountOut)
}

func validateSwap(pair PairKey, trader common.Address, dir Direction, amount uint64) error {
	if err := pair.Validate(); err != nil {
		return err
	}
	if trader == (common.Address{}) {
		return fmt.Errorf("%w: trader required", ErrTransferUnauthorized)
	}
	if !dir.Valid() {
		return ErrInvalidDirection
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	return nil
}

func loadEnabledPair(ctx context.Context, tx StoreTx, pair PairKey) (*PairState, error) {
	state, err := tx.LoadPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	if !state.Enabled() {
		return nil, fmt.Errorf("%w: %s has no price", ErrPairNotInitialized, pair)
	}
	return state, nil
}

// SwapExactIn sells the requested input, clamped to the trader's balance,
// and pays out the priced amount net of the spread.
func (e *Engine) SwapExactIn(ctx context.Context, req ExactInRequest) (Receipt, error) {
	ctx, span := e.startSpan(ctx, "swap.exact_in", req.Pair,
		attribute.String("swap.direction", req.Direction.String()),
		attribute.String("swap.amount_in", strconv.FormatUint(req.AmountIn, 10)))
	defer span.End()
	began := time.Now()

	receipt, err := e.swapExactIn(ctx, req)
	e.finish(span, "swap_exact_in", began, err)
	if err != nil {
		slog.Debug("swap exact-in rejected", "pair", req.Pair.String(), "trader", req.Trader.Hex(), "code", Code(err), "error", err)
		return Receipt{}, err
	}
	e.notifySwap(ctx, receipt)
	return receipt, nil
}

func (e *Engine) swapExactIn(ctx context.Context, req ExactInRequest) (Receipt, error) {
	if err := validateSwap(req.Pair, req.Trader, req.Direction, req.AmountIn); err != nil {
		return Receipt{}, err
	}
	defer e.lockPair(req.Pair)()

	var receipt Receipt
	err := e.store.Atomic(ctx, func(tx StoreTx) error {
		start := e.clock()
		state, err := loadEnabledPair(ctx, tx, req.Pair)
		if err != nil {
			return err
		}
		assetIn, assetOut := req.Direction.Assets(state.Pair)
		balance, err := tx.Balance(ctx, req.Trader, assetIn)
		if err != nil {
			return err
		}
		amountIn := req.AmountIn
		if amountIn > balance {
			amountIn = balance
		}
		if amountIn == 0 {
			return fmt.Errorf("%w: no %s available", ErrUserInsufficientBalance, assetIn)
		}
		quote, err := QuoteExactIn(state.ScaledPrice, state.SpreadBps, req.Direction, amountIn)
		if err != nil {
			return err
		}
		if quote.AmountOut < req.MinAmountOut {
			return fmt.Errorf("%w: %d < %d", ErrOutputTooSmall, quote.AmountOut, req.MinAmountOut)
		}
		if err := settle(ctx, tx, state, req.Trader, assetIn, assetOut, quote); err != nil {
			return err
		}
		end := e.clock()
		if err := checkExpiration(state, start, end); err != nil {
			return err
		}
		receipt = e.receipt(state, req.Trader, assetIn, assetOut, quote, end, end.Sub(start))
		return nil
	})
	return receipt, err
}

// SwapExactOut buys exactly the requested output, charging the grossed-up
// input. The input is never clamped.
func (e *Engine) SwapExactOut(ctx context.Context, req ExactOutRequest) (Receipt, error) {
	ctx, span := e.startSpan(ctx, "swap.exact_out", req.Pair,
		attribute.String("swap.direction", req.Direction.String()),
		attribute.String("swap.amount_out", strconv.FormatUint(req.AmountOut, 10)))
	defer span.End()
	began := time.Now()

	receipt, err := e.swapExactOut(ctx, req)
	e.finish(span, "swap_exact_out", began, err)
	if err != nil {
		slog.Debug("swap exact-out rejected", "pair", req.Pair.String(), "trader", req.Trader.Hex(), "code", Code(err), "error", err)
		return Receipt{}, err
	}
	e.notifySwap(ctx, receipt)
	return receipt, nil
}

func (e *Engine) swapExactOut(ctx context.Context, req ExactOutRequest) (Receipt, error) {
	if err := validateSwap(req.Pair, req.Trader, req.Direction, req.AmountOut); err != nil {
		return Receipt{}, err
	}
	defer e.lockPair(req.Pair)()

	var receipt Receipt
	err := e.store.Atomic(ctx, func(tx StoreTx) error {
		start := e.clock()
		state, err := loadEnabledPair(ctx, tx, req.Pair)
		if err != nil {
			return err
		}
		assetIn, assetOut := req.Direction.Assets(state.Pair)
		quote, err := QuoteExactOut(state.ScaledPrice, state.SpreadBps, req.Direction, req.AmountOut)
		if err != nil {
			return err
		}
		if quote.AmountIn == 0 {
			return fmt.Errorf("%w: %d %s prices to zero input", ErrInvalidAmount, req.AmountOut, assetOut)
		}
		if quote.AmountIn > req.MaxAmountIn {
			return fmt.Errorf("%w: %d > %d", ErrInputTooLarge, quote.AmountIn, req.MaxAmountIn)
		}
		balance, err := tx.Balance(ctx, req.Trader, assetIn)
		if err != nil {
			return err
		}
		if quote.AmountIn > balance {
			return fmt.Errorf("%w: need %d %s, hold %d", ErrUserInsufficientBalance, quote.AmountIn, assetIn, balance)
		}
		if err := settle(ctx, tx, state, req.Trader, assetIn, assetOut, quote); err != nil {
			return err
		}
		end := e.clock()
		if err := checkExpiration(state, start, end); err != nil {
			return err
		}
		receipt = e.receipt(state, req.Trader, assetIn, assetOut, quote, end, end.Sub(start))
		return nil
	})
	return receipt, err
}

// settle moves the input from the trader into its vault, then the output
// from the opposite vault to the trader under the pair's capability.
func settle(ctx context.Context, tx StoreTx, state *PairState, trader common.Address, assetIn, assetOut AssetID, quote Quote) error {
	if err := tx.Move(ctx, quote.AmountIn, assetIn, trader, state.Authority, Signer(trader)); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return fmt.Errorf("%w: %v", ErrUserInsufficientBalance, err)
		}
		return fmt.Errorf("settle input: %w", err)
	}
	if err := tx.Move(ctx, quote.AmountOut, assetOut, state.Authority, trader, newCapability(state.Pair)); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return fmt.Errorf("%w: %v", ErrInsufficientLiquidity, err)
		}
		return fmt.Errorf("settle output: %w", err)
	}
	return nil
}

func checkExpiration(state *PairState, start, end time.Time) error {
	if elapsed := end.Sub(start); elapsed > state.ExpirationWindow {
		return fmt.Errorf("%w: took %s, window %s", ErrExpired, elapsed, state.ExpirationWindow)
	}
	return nil
}

func (e *Engine) receipt(state *PairState, trader common.Address, assetIn, assetOut AssetID, quote Quote, at time.Time, elapsed time.Duration) Receipt {
	feeAsset := assetOut
	if quote.Mode == ModeExactOut {
		feeAsset = assetIn
	}
	return Receipt{
		ID:          e.newID(),
		Pair:        state.Pair,
		Trader:      trader,
		Direction:   quote.Direction,
		Mode:        quote.Mode,
		AssetIn:     assetIn,
		AssetOut:    assetOut,
		AmountIn:    quote.AmountIn,
		AmountOut:   quote.AmountOut,
		Fee:         quote.Fee,
		FeeAsset:    feeAsset,
		ScaledPrice: quote.ScaledPrice,
		SpreadBps:   quote.SpreadBps,
		ExecutedAt:  at.UTC(),
		Elapsed:     elapsed,
	}
}
