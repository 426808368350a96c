package coordstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradeflow/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore is the coordination substrate shared by every worker process.
// Runs, trades, sessions and partial signals live here; all cross-worker
// synchronization happens through conditional UPDATEs (RowsAffected as the
// claimed/not-claimed signal) and additive counter UPDATEs on these rows.
type GormStore struct {
	db *gorm.DB
}

// Open initializes the store at path and migrates the schema.
func Open(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("coord store: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.ExecutionRunModel{},
		&model.TradeModel{},
		&model.AggregationSessionModel{},
		&model.PartialSignalModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Single writer connection. Every mutation in the protocol is a single
	// short statement, so serializing through one connection keeps
	// SQLITE_BUSY out of the hot path entirely.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PurgeExpired removes run, trade, session and partial-signal rows whose
// TTL has lapsed. Garbage collection only; not part of the coordination
// protocol.
func (s *GormStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("coord store not initialized")
	}
	cutoff := now.UnixMilli()
	var purged int64

	var runIDs []string
	if err := s.db.WithContext(ctx).Model(&model.ExecutionRunModel{}).
		Where("expires_at > 0 AND expires_at < ?", cutoff).
		Pluck("run_id", &runIDs).Error; err != nil {
		return 0, err
	}
	if len(runIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("run_id IN ?", runIDs).Delete(&model.TradeModel{}).Error; err != nil {
			return purged, err
		}
		res := s.db.WithContext(ctx).Where("run_id IN ?", runIDs).Delete(&model.ExecutionRunModel{})
		if res.Error != nil {
			return purged, res.Error
		}
		purged += res.RowsAffected
	}

	var sessionIDs []string
	if err := s.db.WithContext(ctx).Model(&model.AggregationSessionModel{}).
		Where("expires_at > 0 AND expires_at < ?", cutoff).
		Pluck("session_id", &sessionIDs).Error; err != nil {
		return purged, err
	}
	if len(sessionIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("session_id IN ?", sessionIDs).Delete(&model.PartialSignalModel{}).Error; err != nil {
			return purged, err
		}
		res := s.db.WithContext(ctx).Where("session_id IN ?", sessionIDs).Delete(&model.AggregationSessionModel{})
		if res.Error != nil {
			return purged, res.Error
		}
		purged += res.RowsAffected
	}
	return purged, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
