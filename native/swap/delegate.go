package swap

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferDelegate moves custodied balances between records. A record is
// identified by its owner and asset. Every Move is all-or-nothing and must
// be checked with Authorize before any balance changes.
type TransferDelegate interface {
	Balance(ctx context.Context, owner common.Address, asset AssetID) (uint64, error)
	Move(ctx context.Context, amount uint64, asset AssetID, from, to common.Address, auth Authority) error
	// OpenVault registers owner's record for asset as a vault. Vaults can only
	// be debited with a Capability.
	OpenVault(ctx context.Context, owner common.Address, asset AssetID) error
}

// PairStore persists PairState records.
type PairStore interface {
	// LoadPair returns ErrPairNotInitialized when no record exists.
	LoadPair(ctx context.Context, pair PairKey) (*PairState, error)
	// CreatePair returns ErrPairExists when the pair is already registered.
	CreatePair(ctx context.Context, state *PairState) error
	SavePair(ctx context.Context, state *PairState) error
}

// StoreTx is the view of a Store inside one unit of work.
type StoreTx interface {
	PairStore
	TransferDelegate
}

// Store backs the engine. Atomic runs fn as one unit of work: if fn returns
// an error nothing it did is kept.
type Store interface {
	Atomic(ctx context.Context, fn func(tx StoreTx) error) error
	ListPairs(ctx context.Context) ([]*PairState, error)
	Balance(ctx context.Context, owner common.Address, asset AssetID) (uint64, error)
	// Credit adds amount to owner's record. It is the host's deposit path
	// and bypasses transfer authorisation.
	Credit(ctx context.Context, owner common.Address, asset AssetID, amount uint64) error
}

// Observer is notified after a swap or administrative change commits.
type Observer interface {
	SwapExecuted(ctx context.Context, receipt Receipt)
	PairChanged(ctx context.Context, event PairEvent)
}

// MetricsRecorder receives the duration and outcome of every engine operation.
type MetricsRecorder interface {
	Observe(operation string, duration time.Duration, err error)
}
