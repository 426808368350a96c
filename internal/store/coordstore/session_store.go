package coordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeflow/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSession inserts the session metadata row. Callers create the
// session before dispatching any strategy worker.
func (s *GormStore) CreateSession(ctx context.Context, session model.AggregationSessionModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("coord store not initialized")
	}
	return s.db.WithContext(ctx).Create(&session).Error
}

// GetSession returns the session row, or (nil, false, nil) when absent.
func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*model.AggregationSessionModel, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("coord store not initialized")
	}
	var session model.AggregationSessionModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &session, true, nil
}

// InsertPartialSignal conditionally puts one strategy's partial signal.
// The (session_id, dsl_file) unique index turns a duplicate delivery into a
// no-op insert; false means this strategy file was already recorded and the
// caller must not increment the counter again.
func (s *GormStore) InsertPartialSignal(ctx context.Context, signal model.PartialSignalModel) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("coord store not initialized")
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "dsl_file"}},
			DoNothing: true,
		}).
		Create(&signal)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementCompletedStrategies atomically bumps the session counter and
// returns the post-increment row from the same statement.
func (s *GormStore) IncrementCompletedStrategies(ctx context.Context, sessionID string) (*model.AggregationSessionModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("coord store not initialized")
	}
	var session model.AggregationSessionModel
	res := s.db.WithContext(ctx).Model(&session).
		Clauses(clause.Returning{}).
		Where("session_id = ?", sessionID).
		Update("completed_strategies", gorm.Expr("completed_strategies + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &session, nil
}

// GetAllPartialSignals returns every stored partial signal of a session,
// ordered by strategy file for stable reconstruction.
func (s *GormStore) GetAllPartialSignals(ctx context.Context, sessionID string) ([]model.PartialSignalModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("coord store not initialized")
	}
	var signals []model.PartialSignalModel
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("dsl_file ASC").
		Find(&signals).Error; err != nil {
		return nil, err
	}
	return signals, nil
}

// UpdateSessionStatus writes the session status unconditionally.
func (s *GormStore) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("coord store not initialized")
	}
	res := s.db.WithContext(ctx).Model(&model.AggregationSessionModel{}).
		Where("session_id = ?", sessionID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindStuckSessions scans the whole table for sessions still Pending past
// the cutoff. Operational query for alerting; it never fails a session
// itself.
func (s *GormStore) FindStuckSessions(ctx context.Context, cutoff time.Time) ([]model.AggregationSessionModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("coord store not initialized")
	}
	var sessions []model.AggregationSessionModel
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.SessionStatusPending, cutoff.UnixMilli()).
		Order("created_at ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
