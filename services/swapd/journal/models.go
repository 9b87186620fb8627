package journal

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SwapRecord is the persisted form of a settled swap receipt. Amounts are
// stored as decimal strings so the full uint64 range survives drivers that
// only accept signed integers.
type SwapRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Pair        string    `gorm:"size:65;index"`
	Trader      string    `gorm:"size:42;index"`
	Direction   string    `gorm:"size:8"`
	Mode        string    `gorm:"size:16"`
	AssetIn     string    `gorm:"size:32"`
	AssetOut    string    `gorm:"size:32"`
	AmountIn    string    `gorm:"size:20"`
	AmountOut   string    `gorm:"size:20"`
	Fee         string    `gorm:"size:20"`
	FeeAsset    string    `gorm:"size:32"`
	ScaledPrice string    `gorm:"size:20"`
	SpreadBps   uint32
	ElapsedNs   int64
	ExecutedAt  time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// PairAudit is the administrator audit trail for pair lifecycle changes.
type PairAudit struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	Pair               string    `gorm:"size:65;index"`
	Kind               string    `gorm:"size:32"`
	Actor              string    `gorm:"size:42;index"`
	ScaledPrice        string    `gorm:"size:20"`
	SpreadBps          uint32
	ExpirationWindowNs int64
	At                 time.Time `gorm:"index"`
	CreatedAt          time.Time
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SwapRecord{},
		&PairAudit{},
	)
}
