package swap

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const maxAssetLength = 32

// AssetID names a custodied asset. Identifiers are upper-case and limited to
// letters, digits, '.', '-' and '_'.
type AssetID string

// ParseAsset normalises raw into an AssetID.
func ParseAsset(raw string) (AssetID, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", fmt.Errorf("%w: asset required", ErrInvalidPair)
	}
	if len(trimmed) > maxAssetLength {
		return "", fmt.Errorf("%w: asset %q too long", ErrInvalidPair, trimmed)
	}
	for _, r := range trimmed {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			return "", fmt.Errorf("%w: asset %q contains %q", ErrInvalidPair, trimmed, r)
		}
	}
	return AssetID(trimmed), nil
}

func (a AssetID) String() string { return string(a) }

// PairKey identifies a pair by its ordered assets. (X, Y) and (Y, X) are
// different pairs.
type PairKey struct {
	X AssetID
	Y AssetID
}

// NewPairKey parses both assets and validates the pair.
func NewPairKey(x, y string) (PairKey, error) {
	ax, err := ParseAsset(x)
	if err != nil {
		return PairKey{}, err
	}
	ay, err := ParseAsset(y)
	if err != nil {
		return PairKey{}, err
	}
	key := PairKey{X: ax, Y: ay}
	if err := key.Validate(); err != nil {
		return PairKey{}, err
	}
	return key, nil
}

// Validate rejects empty and self-referencing pairs.
func (p PairKey) Validate() error {
	if p.X == "" || p.Y == "" {
		return fmt.Errorf("%w: both assets required", ErrInvalidPair)
	}
	if p.X == p.Y {
		return fmt.Errorf("%w: %s on both sides", ErrInvalidPair, p.X)
	}
	return nil
}

func (p PairKey) String() string { return string(p.X) + "/" + string(p.Y) }

// Direction selects which asset is sold.
type Direction uint8

const (
	// XToY sells X for Y.
	XToY Direction = iota + 1
	// YToX sells Y for X.
	YToX
)

// ParseDirection accepts "x_to_y" and "y_to_x" in any case.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "x_to_y", "xtoy", "x->y":
		return XToY, nil
	case "y_to_x", "ytox", "y->x":
		return YToX, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

func (d Direction) String() string {
	switch d {
	case XToY:
		return "x_to_y"
	case YToX:
		return "y_to_x"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Valid reports whether d is one of the two defined directions.
func (d Direction) Valid() bool { return d == XToY || d == YToX }

// Assets returns the input and output assets of a swap in direction d.
func (d Direction) Assets(pair PairKey) (in, out AssetID) {
	if d == YToX {
		return pair.Y, pair.X
	}
	return pair.X, pair.Y
}

// Mode distinguishes which side of a swap the caller fixed.
type Mode string

const (
	ModeExactIn  Mode = "exact_in"
	ModeExactOut Mode = "exact_out"
)

// PairState is the persisted configuration of one pair.
type PairState struct {
	Pair             PairKey
	Administrator    common.Address
	Authority        common.Address
	ScaledPrice      uint64
	SpreadBps        uint64
	ExpirationWindow time.Duration
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a copy safe to hand to callers.
func (s *PairState) Clone() *PairState {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// Enabled reports whether swaps can be priced against the pair.
func (s *PairState) Enabled() bool {
	return s != nil && s.ScaledPrice > 0
}

// Receipt records one settled swap. Exact-in fees are charged in the output
// asset and exact-out fees in the input asset.
type Receipt struct {
	ID          uuid.UUID
	Pair        PairKey
	Trader      common.Address
	Direction   Direction
	Mode        Mode
	AssetIn     AssetID
	AssetOut    AssetID
	AmountIn    uint64
	AmountOut   uint64
	Fee         uint64
	FeeAsset    AssetID
	ScaledPrice uint64
	SpreadBps   uint64
	ExecutedAt  time.Time
	Elapsed     time.Duration
}

// PairEventKind labels administrative changes.
type PairEventKind string

const (
	PairInitialized   PairEventKind = "initialized"
	PairPriceUpdated  PairEventKind = "price_updated"
	PairParamsUpdated PairEventKind = "params_updated"
)

// PairEvent describes a committed administrative change.
type PairEvent struct {
	Kind  PairEventKind
	Actor common.Address
	State PairState
	At    time.Time
}
