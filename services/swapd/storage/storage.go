package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/glebarez/sqlite"

	"fixedswap/native/swap"
)

// Storage persists pairs and custody records in SQLite and implements
// swap.Store.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("swapd storage path must be configured")
)

var _ swap.Store = (*Storage)(nil)

// Open initialises the backing store using sqlite-compatible DSN.
func Open(path string) (*Storage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises units of work; SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	return s.db.PingContext(ctx)
}

// Atomic runs fn inside a database transaction, committing only when fn
// succeeds.
func (s *Storage) Atomic(ctx context.Context, fn func(tx swap.StoreTx) error) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListPairs returns every registered pair ordered by key.
func (s *Storage) ListPairs(ctx context.Context) ([]*swap.PairState, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT asset_x, asset_y, administrator, authority, scaled_price, spread_bps, expiration_window_ns, created_at, updated_at
        FROM pairs
        ORDER BY asset_x, asset_y
    `)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()
	var out []*swap.PairState
	for rows.Next() {
		state, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairs: %w", err)
	}
	return out, nil
}

// Balance returns the custody balance of owner for asset.
func (s *Storage) Balance(ctx context.Context, owner common.Address, asset swap.AssetID) (uint64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	balance, _, err := loadRecord(ctx, s.db, owner, asset)
	return balance, err
}

// Holding is one custody record.
type Holding struct {
	Asset   swap.AssetID
	Balance uint64
	Vault   bool
}

// Holdings lists every record owned by owner.
func (s *Storage) Holdings(ctx context.Context, owner common.Address) ([]Holding, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT asset, balance, vault FROM custody WHERE owner = ? ORDER BY asset
    `, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()
	var out []Holding
	for rows.Next() {
		var (
			asset, balance string
			vault          bool
		)
		if err := rows.Scan(&asset, &balance, &vault); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		amount, err := parseAmount(balance)
		if err != nil {
			return nil, err
		}
		out = append(out, Holding{Asset: swap.AssetID(asset), Balance: amount, Vault: vault})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holdings: %w", err)
	}
	return out, nil
}

// Credit deposits amount into owner's record.
func (s *Storage) Credit(ctx context.Context, owner common.Address, asset swap.AssetID, amount uint64) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if amount == 0 {
		return swap.ErrInvalidAmount
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	current, vault, err := loadRecord(ctx, tx, owner, asset)
	if err != nil {
		return err
	}
	if current > math.MaxUint64-amount {
		return fmt.Errorf("%w: credit %d %s", swap.ErrArithmeticOverflow, amount, asset)
	}
	if err := putRecord(ctx, tx, owner, asset, current+amount, vault); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) LoadPair(ctx context.Context, pair swap.PairKey) (*swap.PairState, error) {
	row := t.tx.QueryRowContext(ctx, `
        SELECT asset_x, asset_y, administrator, authority, scaled_price, spread_bps, expiration_window_ns, created_at, updated_at
        FROM pairs
        WHERE asset_x = ? AND asset_y = ?
    `, string(pair.X), string(pair.Y))
	state, err := scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", swap.ErrPairNotInitialized, pair)
	}
	return state, err
}

func (t *sqlTx) CreatePair(ctx context.Context, state *swap.PairState) error {
	if state == nil {
		return fmt.Errorf("pair state required")
	}
	res, err := t.tx.ExecContext(ctx, `
        INSERT INTO pairs(asset_x, asset_y, administrator, authority, scaled_price, spread_bps, expiration_window_ns, created_at, updated_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(asset_x, asset_y) DO NOTHING
    `, pairArgs(state)...)
	if err != nil {
		return fmt.Errorf("insert pair: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert pair: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", swap.ErrPairExists, state.Pair)
	}
	return nil
}

func (t *sqlTx) SavePair(ctx context.Context, state *swap.PairState) error {
	if state == nil {
		return fmt.Errorf("pair state required")
	}
	res, err := t.tx.ExecContext(ctx, `
        UPDATE pairs
        SET scaled_price = ?, spread_bps = ?, expiration_window_ns = ?, updated_at = ?
        WHERE asset_x = ? AND asset_y = ?
    `, formatAmount(state.ScaledPrice), state.SpreadBps, int64(state.ExpirationWindow), state.UpdatedAt.UTC().UnixNano(),
		string(state.Pair.X), string(state.Pair.Y))
	if err != nil {
		return fmt.Errorf("update pair: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pair: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", swap.ErrPairNotInitialized, state.Pair)
	}
	return nil
}

func (t *sqlTx) Balance(ctx context.Context, owner common.Address, asset swap.AssetID) (uint64, error) {
	balance, _, err := loadRecord(ctx, t.tx, owner, asset)
	return balance, err
}

func (t *sqlTx) Move(ctx context.Context, amount uint64, asset swap.AssetID, from, to common.Address, auth swap.Authority) error {
	balance, vault, err := loadRecord(ctx, t.tx, from, asset)
	if err != nil {
		return err
	}
	if err := swap.Authorize(auth, from, vault); err != nil {
		return fmt.Errorf("%w: %s", err, from.Hex())
	}
	if balance < amount {
		return fmt.Errorf("%w: %s holds %d %s, need %d", swap.ErrInsufficientFunds, from.Hex(), balance, asset, amount)
	}
	if amount == 0 || from == to {
		return nil
	}
	credited, toVault, err := loadRecord(ctx, t.tx, to, asset)
	if err != nil {
		return err
	}
	if credited > math.MaxUint64-amount {
		return fmt.Errorf("%w: credit %d %s", swap.ErrArithmeticOverflow, amount, asset)
	}
	if err := putRecord(ctx, t.tx, from, asset, balance-amount, vault); err != nil {
		return err
	}
	return putRecord(ctx, t.tx, to, asset, credited+amount, toVault)
}

func (t *sqlTx) OpenVault(ctx context.Context, owner common.Address, asset swap.AssetID) error {
	_, err := t.tx.ExecContext(ctx, `
        INSERT INTO custody(owner, asset, balance, vault)
        VALUES(?, ?, '0', 1)
        ON CONFLICT(owner, asset) DO UPDATE SET vault = 1
    `, owner.Hex(), string(asset))
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	return nil
}

func loadRecord(ctx context.Context, q queryer, owner common.Address, asset swap.AssetID) (uint64, bool, error) {
	var (
		balance string
		vault   bool
	)
	err := q.QueryRowContext(ctx, `
        SELECT balance, vault FROM custody WHERE owner = ? AND asset = ?
    `, owner.Hex(), string(asset)).Scan(&balance, &vault)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query custody: %w", err)
	}
	amount, err := parseAmount(balance)
	if err != nil {
		return 0, false, err
	}
	return amount, vault, nil
}

func putRecord(ctx context.Context, e execer, owner common.Address, asset swap.AssetID, balance uint64, vault bool) error {
	_, err := e.ExecContext(ctx, `
        INSERT INTO custody(owner, asset, balance, vault)
        VALUES(?, ?, ?, ?)
        ON CONFLICT(owner, asset) DO UPDATE SET balance = excluded.balance
    `, owner.Hex(), string(asset), formatAmount(balance), vault)
	if err != nil {
		return fmt.Errorf("save custody: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPair(row scanner) (*swap.PairState, error) {
	var (
		x, y, admin, authority, price string
		spread                        uint64
		window, created, updated      int64
	)
	if err := row.Scan(&x, &y, &admin, &authority, &price, &spread, &window, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan pair: %w", err)
	}
	scaled, err := parseAmount(price)
	if err != nil {
		return nil, err
	}
	return &swap.PairState{
		Pair:             swap.PairKey{X: swap.AssetID(x), Y: swap.AssetID(y)},
		Administrator:    common.HexToAddress(admin),
		Authority:        common.HexToAddress(authority),
		ScaledPrice:      scaled,
		SpreadBps:        spread,
		ExpirationWindow: time.Duration(window),
		CreatedAt:        time.Unix(0, created).UTC(),
		UpdatedAt:        time.Unix(0, updated).UTC(),
	}, nil
}

func pairArgs(state *swap.PairState) []any {
	return []any{
		string(state.Pair.X),
		string(state.Pair.Y),
		state.Administrator.Hex(),
		state.Authority.Hex(),
		formatAmount(state.ScaledPrice),
		state.SpreadBps,
		int64(state.ExpirationWindow),
		state.CreatedAt.UTC().UnixNano(),
		state.UpdatedAt.UTC().UnixNano(),
	}
}

// Amounts are stored as decimal text because SQLite integers are signed.
func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(raw string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stored amount %q: %w", raw, err)
	}
	return v, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS pairs (
    asset_x TEXT NOT NULL,
    asset_y TEXT NOT NULL,
    administrator TEXT NOT NULL,
    authority TEXT NOT NULL,
    scaled_price TEXT NOT NULL,
    spread_bps INTEGER NOT NULL CHECK (spread_bps >= 0 AND spread_bps < 10000),
    expiration_window_ns INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (asset_x, asset_y)
);
CREATE TABLE IF NOT EXISTS custody (
    owner TEXT NOT NULL,
    asset TEXT NOT NULL,
    balance TEXT NOT NULL,
    vault INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (owner, asset)
);
CREATE INDEX IF NOT EXISTS idx_custody_asset ON custody(asset);
`
