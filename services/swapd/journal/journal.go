package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fixedswap/native/swap"
)

const (
	// DriverSQLite selects the pure Go SQLite dialector.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the PostgreSQL dialector.
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000
)

// ErrUnknownDriver is returned for unsupported journal drivers.
var ErrUnknownDriver = errors.New("journal: unknown driver")

// Journal keeps an append-only history of settled swaps and pair changes. It
// implements swap.Observer so the engine feeds it after every commit.
type Journal struct {
	db *gorm.DB
}

var _ swap.Observer = (*Journal)(nil)

// Filter narrows ListSwaps results. Zero values match everything.
type Filter struct {
	Pair   *swap.PairKey
	Trader *common.Address
	Before time.Time
	Limit  int
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database handle required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SwapExecuted records a settled swap. Failures are logged; the swap has
// already committed.
func (j *Journal) SwapExecuted(ctx context.Context, receipt swap.Receipt) {
	if err := j.RecordSwap(ctx, receipt); err != nil {
		slog.Warn("journal swap record failed", "pair", receipt.Pair.String(), "id", receipt.ID.String(), "error", err)
	}
}

// PairChanged records an administrator action.
func (j *Journal) PairChanged(ctx context.Context, event swap.PairEvent) {
	if err := j.RecordPairEvent(ctx, event); err != nil {
		slog.Warn("journal pair audit failed", "pair", event.State.Pair.String(), "kind", string(event.Kind), "error", err)
	}
}

// RecordSwap persists receipt.
func (j *Journal) RecordSwap(ctx context.Context, receipt swap.Receipt) error {
	record := SwapRecord{
		ID:          receipt.ID,
		Pair:        receipt.Pair.String(),
		Trader:      receipt.Trader.Hex(),
		Direction:   receipt.Direction.String(),
		Mode:        string(receipt.Mode),
		AssetIn:     string(receipt.AssetIn),
		AssetOut:    string(receipt.AssetOut),
		AmountIn:    formatAmount(receipt.AmountIn),
		AmountOut:   formatAmount(receipt.AmountOut),
		Fee:         formatAmount(receipt.Fee),
		FeeAsset:    string(receipt.FeeAsset),
		ScaledPrice: formatAmount(receipt.ScaledPrice),
		SpreadBps:   uint32(receipt.SpreadBps),
		ElapsedNs:   int64(receipt.Elapsed),
		ExecutedAt:  receipt.ExecutedAt.UTC(),
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return j.db.WithContext(ctx).Create(&record).Error
}

// RecordPairEvent persists a pair lifecycle event.
func (j *Journal) RecordPairEvent(ctx context.Context, event swap.PairEvent) error {
	audit := PairAudit{
		ID:                 uuid.New(),
		Pair:               event.State.Pair.String(),
		Kind:               string(event.Kind),
		Actor:              event.Actor.Hex(),
		ScaledPrice:        formatAmount(event.State.ScaledPrice),
		SpreadBps:          uint32(event.State.SpreadBps),
		ExpirationWindowNs: int64(event.State.ExpirationWindow),
		At:                 event.At.UTC(),
	}
	return j.db.WithContext(ctx).Create(&audit).Error
}

// ListSwaps returns receipts newest first.
func (j *Journal) ListSwaps(ctx context.Context, filter Filter) ([]swap.Receipt, error) {
	query := j.db.WithContext(ctx).Model(&SwapRecord{})
	if filter.Pair != nil {
		query = query.Where("pair = ?", filter.Pair.String())
	}
	if filter.Trader != nil {
		query = query.Where("trader = ?", filter.Trader.Hex())
	}
	if !filter.Before.IsZero() {
		query = query.Where("executed_at < ?", filter.Before.UTC())
	}
	var records []SwapRecord
	if err := query.Order("executed_at desc").Limit(clampLimit(filter.Limit)).Find(&records).Error; err != nil {
		return nil, err
	}
	receipts := make([]swap.Receipt, 0, len(records))
	for _, record := range records {
		receipt, err := record.receipt()
		if err != nil {
			return nil, fmt.Errorf("decode swap %s: %w", record.ID, err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// PairHistory returns the audit trail for pair, oldest first.
func (j *Journal) PairHistory(ctx context.Context, pair swap.PairKey, limit int) ([]PairAudit, error) {
	var audits []PairAudit
	err := j.db.WithContext(ctx).
		Where("pair = ?", pair.String()).
		Order("at asc").
		Limit(clampLimit(limit)).
		Find(&audits).Error
	return audits, err
}

func (r SwapRecord) receipt() (swap.Receipt, error) {
	x, y, ok := strings.Cut(r.Pair, "/")
	if !ok {
		return swap.Receipt{}, fmt.Errorf("malformed pair %q", r.Pair)
	}
	direction, err := swap.ParseDirection(r.Direction)
	if err != nil {
		return swap.Receipt{}, err
	}
	amounts := make([]uint64, 4)
	for i, raw := range []string{r.AmountIn, r.AmountOut, r.Fee, r.ScaledPrice} {
		amounts[i], err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return swap.Receipt{}, err
		}
	}
	return swap.Receipt{
		ID:          r.ID,
		Pair:        swap.PairKey{X: swap.AssetID(x), Y: swap.AssetID(y)},
		Trader:      common.HexToAddress(r.Trader),
		Direction:   direction,
		Mode:        swap.Mode(r.Mode),
		AssetIn:     swap.AssetID(r.AssetIn),
		AssetOut:    swap.AssetID(r.AssetOut),
		AmountIn:    amounts[0],
		AmountOut:   amounts[1],
		Fee:         amounts[2],
		FeeAsset:    swap.AssetID(r.FeeAsset),
		ScaledPrice: amounts[3],
		SpreadBps:   uint64(r.SpreadBps),
		ExecutedAt:  r.ExecutedAt.UTC(),
		Elapsed:     time.Duration(r.ElapsedNs),
	}, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}
