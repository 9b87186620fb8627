// Package api holds the JSON wire types shared by the swapd HTTP server, its
// event stream and the swapctl client. Amounts travel as decimal strings so
// the full uint64 range survives JavaScript clients.
package api

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fixedswap/native/swap"
)

// Pair is the public view of a pair's configuration.
type Pair struct {
	X                  string `json:"x"`
	Y                  string `json:"y"`
	Administrator      string `json:"administrator"`
	Authority          string `json:"authority"`
	ScaledPrice        string `json:"scaled_price"`
	SpreadBps          uint64 `json:"spread_bps"`
	ExpirationWindowMs int64  `json:"expiration_window_ms"`
	Enabled            bool   `json:"enabled"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

// PairFrom converts engine state into its wire form.
func PairFrom(state *swap.PairState) Pair {
	if state == nil {
		return Pair{}
	}
	return Pair{
		X:                  string(state.Pair.X),
		Y:                  string(state.Pair.Y),
		Administrator:      state.Administrator.Hex(),
		Authority:          state.Authority.Hex(),
		ScaledPrice:        FormatAmount(state.ScaledPrice),
		SpreadBps:          state.SpreadBps,
		ExpirationWindowMs: state.ExpirationWindow.Milliseconds(),
		Enabled:            state.Enabled(),
		CreatedAt:          formatTime(state.CreatedAt),
		UpdatedAt:          formatTime(state.UpdatedAt),
	}
}

// Receipt is the public view of a settled swap.
type Receipt struct {
	ID          string `json:"id"`
	Pair        string `json:"pair"`
	Trader      string `json:"trader"`
	Direction   string `json:"direction"`
	Mode        string `json:"mode"`
	AssetIn     string `json:"asset_in"`
	AssetOut    string `json:"asset_out"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Fee         string `json:"fee"`
	FeeAsset    string `json:"fee_asset"`
	ScaledPrice string `json:"scaled_price"`
	SpreadBps   uint64 `json:"spread_bps"`
	ExecutedAt  string `json:"executed_at"`
	ElapsedMs   int64  `json:"elapsed_ms"`
}

// ReceiptFrom converts an engine receipt into its wire form.
func ReceiptFrom(r swap.Receipt) Receipt {
	return Receipt{
		ID:          r.ID.String(),
		Pair:        r.Pair.String(),
		Trader:      r.Trader.Hex(),
		Direction:   r.Direction.String(),
		Mode:        string(r.Mode),
		AssetIn:     string(r.AssetIn),
		AssetOut:    string(r.AssetOut),
		AmountIn:    FormatAmount(r.AmountIn),
		AmountOut:   FormatAmount(r.AmountOut),
		Fee:         FormatAmount(r.Fee),
		FeeAsset:    string(r.FeeAsset),
		ScaledPrice: FormatAmount(r.ScaledPrice),
		SpreadBps:   r.SpreadBps,
		ExecutedAt:  formatTime(r.ExecutedAt),
		ElapsedMs:   r.Elapsed.Milliseconds(),
	}
}

// Quote is the preview of a swap at the current price.
type Quote struct {
	Pair        string `json:"pair"`
	Direction   string `json:"direction"`
	Mode        string `json:"mode"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Gross       string `json:"gross"`
	Fee         string `json:"fee"`
	ScaledPrice string `json:"scaled_price"`
	SpreadBps   uint64 `json:"spread_bps"`
}

// QuoteFrom converts a pricing quote into its wire form.
func QuoteFrom(pair swap.PairKey, q swap.Quote) Quote {
	return Quote{
		Pair:        pair.String(),
		Direction:   q.Direction.String(),
		Mode:        string(q.Mode),
		AmountIn:    FormatAmount(q.AmountIn),
		AmountOut:   FormatAmount(q.AmountOut),
		Gross:       FormatAmount(q.Gross),
		Fee:         FormatAmount(q.Fee),
		ScaledPrice: FormatAmount(q.ScaledPrice),
		SpreadBps:   q.SpreadBps,
	}
}

// Holding is one custody record.
type Holding struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
	Vault   bool   `json:"vault,omitempty"`
}

// Balances lists an owner's custody records.
type Balances struct {
	Owner    string    `json:"owner"`
	Holdings []Holding `json:"holdings"`
}

// InitializeRequest creates a pair.
type InitializeRequest struct {
	X                  string `json:"x"`
	Y                  string `json:"y"`
	SpreadBps          uint64 `json:"spread_bps"`
	ExpirationWindowMs int64  `json:"expiration_window_ms,omitempty"`
}

// PriceRequest replaces a pair's scaled price.
type PriceRequest struct {
	ScaledPrice string `json:"scaled_price"`
}

// ParamsRequest updates any subset of a pair's parameters.
type ParamsRequest struct {
	ScaledPrice        *string `json:"scaled_price,omitempty"`
	SpreadBps          *uint64 `json:"spread_bps,omitempty"`
	ExpirationWindowMs *int64  `json:"expiration_window_ms,omitempty"`
}

// ExactInRequest submits an exact-in swap.
type ExactInRequest struct {
	Direction    string `json:"direction"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
}

// ExactOutRequest submits an exact-out swap.
type ExactOutRequest struct {
	Direction   string `json:"direction"`
	AmountOut   string `json:"amount_out"`
	MaxAmountIn string `json:"max_amount_in"`
}

// CreditRequest funds an owner's custody record.
type CreditRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Code    string `json:"code"`
	Class   string `json:"class,omitempty"`
	Message string `json:"message"`
}

// Event kinds carried on the stream.
const (
	EventSwap = "swap"
	EventPair = "pair"
)

// Event is one message on the websocket stream.
type Event struct {
	Sequence uint64   `json:"sequence"`
	Cursor   string   `json:"cursor"`
	Type     string   `json:"type"`
	Kind     string   `json:"kind,omitempty"`
	Actor    string   `json:"actor,omitempty"`
	Swap     *Receipt `json:"swap,omitempty"`
	Pair     *Pair    `json:"pair,omitempty"`
	At       string   `json:"at"`
}

// FormatAmount renders v as a base-10 string.
func FormatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// ParseAmount parses a base-10 uint64. The field name is used in errors.
func ParseAmount(field, raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	v, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a base-10 unsigned integer", field)
	}
	return v, nil
}

// ParseOptionalAmount returns 0 for an empty value.
func ParseOptionalAmount(field, raw string) (uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return ParseAmount(field, raw)
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = int64(math.MaxInt64 / int64(time.Millisecond))

// ParseMillis converts a millisecond count to a duration. Negative values
// pass through for the engine to reject; values past the time.Duration range
// are refused here.
func ParseMillis(field string, ms int64) (time.Duration, error) {
	if ms > maxMillis {
		return 0, fmt.Errorf("%s must not exceed %d", field, maxMillis)
	}
	if ms < -maxMillis {
		return 0, fmt.Errorf("%s must not be below %d", field, -maxMillis)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
