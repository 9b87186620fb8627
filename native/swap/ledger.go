package swap

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type recordKey struct {
	owner common.Address
	asset AssetID
}

// MemoryStore is an in-process Store. Units of work are serialised by a
// single mutex and rolled back through an undo log.
type MemoryStore struct {
	mu       sync.Mutex
	pairs    map[PairKey]*PairState
	balances map[recordKey]uint64
	vaults   map[recordKey]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairs:    make(map[PairKey]*PairState),
		balances: make(map[recordKey]uint64),
		vaults:   make(map[recordKey]struct{}),
	}
}

// Atomic runs fn with exclusive access to the store.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(tx StoreTx) error) error {
	if m == nil {
		return fmt.Errorf("swap: memory store not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{store: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// ListPairs returns every pair ordered by key.
func (m *MemoryStore) ListPairs(ctx context.Context) ([]*PairState, error) {
	if m == nil {
		return nil, fmt.Errorf("swap: memory store not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PairState, 0, len(m.pairs))
	for _, state := range m.pairs {
		out = append(out, state.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair.String() < out[j].Pair.String()
	})
	return out, nil
}

// Balance returns the balance of owner's record for asset.
func (m *MemoryStore) Balance(ctx context.Context, owner common.Address, asset AssetID) (uint64, error) {
	if m == nil {
		return 0, fmt.Errorf("swap: memory store not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[recordKey{owner, asset}], nil
}

// Credit adds amount to owner's record.
func (m *MemoryStore) Credit(ctx context.Context, owner common.Address, asset AssetID, amount uint64) error {
	if m == nil {
		return fmt.Errorf("swap: memory store not configured")
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{owner, asset}
	current := m.balances[key]
	if current > math.MaxUint64-amount {
		return fmt.Errorf("%w: credit %d to %s", ErrArithmeticOverflow, amount, asset)
	}
	m.balances[key] = current + amount
	return nil
}

type memoryTx struct {
	store *MemoryStore
	undo  []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) setBalance(key recordKey, value uint64) {
	previous, existed := tx.store.balances[key]
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.store.balances[key] = previous
		} else {
			delete(tx.store.balances, key)
		}
	})
	tx.store.balances[key] = value
}

func (tx *memoryTx) LoadPair(ctx context.Context, pair PairKey) (*PairState, error) {
	state, ok := tx.store.pairs[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPairNotInitialized, pair)
	}
	return state.Clone(), nil
}

func (tx *memoryTx) CreatePair(ctx context.Context, state *PairState) error {
	if state == nil {
		return fmt.Errorf("swap: pair state required")
	}
	if _, ok := tx.store.pairs[state.Pair]; ok {
		return fmt.Errorf("%w: %s", ErrPairExists, state.Pair)
	}
	key := state.Pair
	tx.undo = append(tx.undo, func() { delete(tx.store.pairs, key) })
	tx.store.pairs[key] = state.Clone()
	return nil
}

func (tx *memoryTx) SavePair(ctx context.Context, state *PairState) error {
	if state == nil {
		return fmt.Errorf("swap: pair state required")
	}
	previous, ok := tx.store.pairs[state.Pair]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPairNotInitialized, state.Pair)
	}
	key := state.Pair
	tx.undo = append(tx.undo, func() { tx.store.pairs[key] = previous })
	tx.store.pairs[key] = state.Clone()
	return nil
}

func (tx *memoryTx) Balance(ctx context.Context, owner common.Address, asset AssetID) (uint64, error) {
	return tx.store.balances[recordKey{owner, asset}], nil
}

func (tx *memoryTx) Move(ctx context.Context, amount uint64, asset AssetID, from, to common.Address, auth Authority) error {
	src := recordKey{from, asset}
	_, vault := tx.store.vaults[src]
	if err := Authorize(auth, from, vault); err != nil {
		return fmt.Errorf("%w: %s debit by %s", err, from.Hex(), authorityName(auth))
	}
	if amount == 0 {
		return nil
	}
	dst := recordKey{to, asset}
	balance := tx.store.balances[src]
	if balance < amount {
		return fmt.Errorf("%w: %s holds %d %s, need %d", ErrInsufficientFunds, from.Hex(), balance, asset, amount)
	}
	if from == to {
		return nil
	}
	credited := tx.store.balances[dst]
	if credited > math.MaxUint64-amount {
		return fmt.Errorf("%w: credit %d %s", ErrArithmeticOverflow, amount, asset)
	}
	tx.setBalance(src, balance-amount)
	tx.setBalance(dst, credited+amount)
	return nil
}

func (tx *memoryTx) OpenVault(ctx context.Context, owner common.Address, asset AssetID) error {
	key := recordKey{owner, asset}
	if _, ok := tx.store.vaults[key]; ok {
		return nil
	}
	tx.undo = append(tx.undo, func() { delete(tx.store.vaults, key) })
	tx.store.vaults[key] = struct{}{}
	if _, ok := tx.store.balances[key]; !ok {
		tx.setBalance(key, 0)
	}
	return nil
}

func authorityName(auth Authority) string {
	if auth == nil {
		return "nobody"
	}
	return auth.String()
}
