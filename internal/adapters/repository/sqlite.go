package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
)

const backendSQLite = "sqlite"

// offerRow is the offers table. The document column holds the full record;
// state is duplicated so compare-and-set can filter on it.
type offerRow struct {
	OfferID   string `gorm:"column:offer_id;primaryKey;size:64"`
	State     string `gorm:"column:state;size:32;not null;index"`
	Document  []byte `gorm:"column:document;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (offerRow) TableName() string { return "offers" }

// SQLiteLedger is a Ledger on an embedded SQLite file through gorm.
type SQLiteLedger struct {
	db *gorm.DB
}

var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (creating if needed) the database at path and
// migrates the offers table. ":memory:" gives a private in-memory database.
func NewSQLiteLedger(ctx context.Context, path string) (*SQLiteLedger, error) {
	if path == "" {
		return nil, failure.Newf("ledger.sqlite", failure.ErrValidation, "database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	gl := gormlogger.New(
		logger.StdLogger(slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gl, PrepareStmt: true})
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger handle: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is
	// per connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite ledger: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&offerRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite ledger: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Claim implements Ledger.
func (s *SQLiteLedger) Claim(ctx context.Context, rec offer.Record) (claimed bool, current offer.Record, err error) {
	start := time.Now()
	defer func() { observe(backendSQLite, "claim", start, err) }()

	doc, err := encode(rec)
	if err != nil {
		return false, offer.Record{}, err
	}
	row := offerRow{OfferID: rec.OfferID, State: string(rec.State), Document: doc}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, offer.Record{}, storeError("ledger.claim", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, rec, nil
	}
	cur, err := s.get(ctx, rec.OfferID)
	return false, cur, err
}

// Get implements Ledger.
func (s *SQLiteLedger) Get(ctx context.Context, offerID string) (rec offer.Record, err error) {
	start := time.Now()
	defer func() { observe(backendSQLite, "get", start, err) }()
	return s.get(ctx, offerID)
}

func (s *SQLiteLedger) get(ctx context.Context, offerID string) (offer.Record, error) {
	var row offerRow
	err := s.db.WithContext(ctx).Where("offer_id = ?", offerID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return offer.Record{}, notFound("get", offerID)
	}
	if err != nil {
		return offer.Record{}, storeError("ledger.get", err)
	}
	return decode(row.Document)
}

// Advance implements Ledger.
func (s *SQLiteLedger) Advance(ctx context.Context, rec offer.Record, from ...offer.State) (ok bool, err error) {
	start := time.Now()
	defer func() { observe(backendSQLite, "advance", start, err) }()
	if err := checkAdvance(rec, from); err != nil {
		return false, err
	}

	doc, err := encode(rec)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&offerRow{}).
		Where("offer_id = ? AND state IN ?", rec.OfferID, stateNames(from)).
		Updates(map[string]any{"state": string(rec.State), "document": doc, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, storeError("ledger.advance", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.get(ctx, rec.OfferID); err != nil {
		return false, err
	}
	return false, nil
}

// Release implements Ledger.
func (s *SQLiteLedger) Release(ctx context.Context, offerID string, state offer.State) (err error) {
	start := time.Now()
	defer func() { observe(backendSQLite, "release", start, err) }()

	res := s.db.WithContext(ctx).Where("offer_id = ? AND state = ?", offerID, string(state)).Delete(&offerRow{})
	return storeError("ledger.release", res.Error)
}

// Stats implements Ledger.
func (s *SQLiteLedger) Stats(ctx context.Context) (map[offer.State]int, error) {
	var rows []struct {
		State string
		N     int
	}
	err := s.db.WithContext(ctx).Model(&offerRow{}).Select("state, count(*) as n").Group("state").Scan(&rows).Error
	if err != nil {
		return nil, storeError("ledger.stats", err)
	}
	out := make(map[offer.State]int, len(rows))
	for _, r := range rows {
		out[offer.State(r.State)] = r.N
	}
	publishStats(out)
	return out, nil
}

// Close closes the database.
func (s *SQLiteLedger) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// storeError marks database failures transient: a locked or unreachable
// store is worth another delivery.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return failure.WrapKind(op, failure.ErrTransient, err)
}
