// Package database is the durable alert archive.
package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/whalebot/internal/dedup"
	"github.com/web3guy0/whalebot/internal/types"
)

// Archive stores every accepted alert
type Archive struct {
	db *gorm.DB
}

// Models

// AlertRow is one archived alert; DedupKey makes re-archiving idempotent
type AlertRow struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	DedupKey          string `gorm:"uniqueIndex;size:256"`
	TxHash            string `gorm:"index"`
	Chain             string `gorm:"index"`
	AlertType         string `gorm:"index"`
	BlockTimestamp    time.Time
	FromAddress       string
	ToAddress         string
	FromLabel         string
	ToLabel           string
	AssetSymbol       string
	Amount            decimal.NullDecimal `gorm:"type:decimal(38,12)"`
	USDValue          decimal.Decimal     `gorm:"type:decimal(24,2)"`
	Protocol          string
	SourceChain       string
	DestinationChain  string
	AssetSoldSymbol   string
	AssetBoughtSymbol string
	AmountSold        decimal.NullDecimal `gorm:"type:decimal(38,12)"`
	AmountBought      decimal.NullDecimal `gorm:"type:decimal(38,12)"`
	ExplorerURL       string
	Icon              string
	CreatedAt         time.Time `gorm:"index"`
}

// New opens the archive: postgres:// URLs use PostgreSQL, anything else is a SQLite file
func New(dbPath string) (*Archive, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Archive connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Archive initialized (SQLite)")
	}

	if err := db.AutoMigrate(&AlertRow{}); err != nil {
		return nil, err
	}

	return &Archive{db: db}, nil
}

// Close releases the underlying connection pool
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Alert operations

// SaveAlert archives msg, taking amounts from its candidate when present so
// the stored decimals are exact
func (a *Archive) SaveAlert(ctx context.Context, msg types.Message) error {
	row := rowFromRecord(msg.Record)
	if msg.Candidate != nil {
		row = rowFromCandidate(msg.Candidate, msg.Record)
	}
	return a.insert(ctx, row)
}

// SaveRecord archives r; a record already archived under the same key is ignored
func (a *Archive) SaveRecord(ctx context.Context, r types.Record) error {
	return a.insert(ctx, rowFromRecord(r))
}

func (a *Archive) insert(ctx context.Context, row AlertRow) error {
	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(&row).Error
}

// Since returns alerts archived at or after since, newest first
func (a *Archive) Since(ctx context.Context, since time.Time, limit int) ([]types.Record, error) {
	var rows []AlertRow
	q := a.db.WithContext(ctx).Where("created_at >= ?", since).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]types.Record, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}

// Stats operations

// Stats summarizes the archive by alert type
func (a *Archive) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int64
	if err := a.db.WithContext(ctx).Model(&AlertRow{}).Count(&total).Error; err != nil {
		return nil, err
	}
	stats["total_alerts"] = total

	var usd struct {
		Total decimal.Decimal
	}
	if err := a.db.WithContext(ctx).Model(&AlertRow{}).Select("COALESCE(SUM(usd_value), 0) as total").Scan(&usd).Error; err != nil {
		return nil, err
	}
	stats["total_usd"] = usd.Total

	type typeCount struct {
		AlertType string
		Count     int64
	}
	var counts []typeCount
	if err := a.db.WithContext(ctx).Model(&AlertRow{}).Select("alert_type, count(*) as count").Group("alert_type").Scan(&counts).Error; err != nil {
		return nil, err
	}
	byType := make(map[string]int64)
	for _, c := range counts {
		byType[c.AlertType] = c.Count
	}
	stats["by_type"] = byType

	return stats, nil
}

// ─── Conversion ───────────────────────────────────────────────────────────────

func recordKey(r types.Record) string {
	symbol := r.AssetSymbol
	if r.AlertType == types.KindSwap {
		c := types.Candidate{Kind: types.KindSwap, Sold: types.Leg{Symbol: r.AssetSoldSymbol}, Bought: types.Leg{Symbol: r.AssetBoughtSymbol}}
		symbol = c.DedupSymbol()
	}
	return dedup.Key(r.TxHash, r.AlertType, symbol)
}

func toNull(f *float64) decimal.NullDecimal {
	if f == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*f))
}

func fromNull(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

func rowFromRecord(r types.Record) AlertRow {
	return AlertRow{
		DedupKey:          recordKey(r),
		TxHash:            r.TxHash,
		Chain:             r.Chain,
		AlertType:         string(r.AlertType),
		BlockTimestamp:    r.BlockTimestamp,
		FromAddress:       r.FromAddress,
		ToAddress:         r.ToAddress,
		FromLabel:         r.FromLabel,
		ToLabel:           r.ToLabel,
		AssetSymbol:       r.AssetSymbol,
		Amount:            toNull(r.Amount),
		USDValue:          decimal.NewFromFloat(r.USDValue),
		Protocol:          r.Protocol,
		SourceChain:       r.SourceChain,
		DestinationChain:  r.DestinationChain,
		AssetSoldSymbol:   r.AssetSoldSymbol,
		AssetBoughtSymbol: r.AssetBoughtSymbol,
		AmountSold:        toNull(r.AmountSold),
		AmountBought:      toNull(r.AmountBought),
		ExplorerURL:       r.ExplorerURL,
		Icon:              r.Icon,
	}
}

// rowFromCandidate keeps r's presentation fields and replaces every amount
// with the candidate's decimal
func rowFromCandidate(c *types.Candidate, r types.Record) AlertRow {
	row := rowFromRecord(r)
	row.DedupKey = dedup.CandidateKey(c)
	row.Amount = c.Amount
	row.USDValue = c.USDValue
	if c.Kind == types.KindSwap {
		row.AmountSold = c.Sold.Amount
		row.AmountBought = c.Bought.Amount
	}
	return row
}

func (row AlertRow) record() types.Record {
	return types.Record{
		TxHash:            row.TxHash,
		Chain:             row.Chain,
		BlockTimestamp:    row.BlockTimestamp.UTC(),
		AlertType:         types.Kind(row.AlertType),
		Icon:              row.Icon,
		FromAddress:       row.FromAddress,
		ToAddress:         row.ToAddress,
		FromLabel:         row.FromLabel,
		ToLabel:           row.ToLabel,
		AssetSymbol:       row.AssetSymbol,
		Amount:            fromNull(row.Amount),
		USDValue:          row.USDValue.InexactFloat64(),
		Protocol:          row.Protocol,
		SourceChain:       row.SourceChain,
		DestinationChain:  row.DestinationChain,
		AssetSoldSymbol:   row.AssetSoldSymbol,
		AssetBoughtSymbol: row.AssetBoughtSymbol,
		AmountSold:        fromNull(row.AmountSold),
		AmountBought:      fromNull(row.AmountBought),
		ExplorerURL:       row.ExplorerURL,
	}
}
