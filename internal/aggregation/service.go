package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradeflow/internal/logger"
	"tradeflow/internal/store/coordstore"
	"tradeflow/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Service owns the aggregation-session aggregate: N strategy workers each
// store exactly one partial signal, an atomic counter detects completion,
// and a slow scan flags sessions whose workers silently died.
type Service struct {
	store *coordstore.GormStore
}

func NewService(store *coordstore.GormStore) *Service {
	return &Service{store: store}
}

// StrategyConfig names one strategy file and its allocation weight.
type StrategyConfig struct {
	StrategyFile     string          `json:"strategy_file"`
	AllocationWeight decimal.Decimal `json:"allocation_weight"`
}

// CreateSessionInput describes a new aggregation session. The session is
// created before any strategy worker is dispatched.
type CreateSessionInput struct {
	SessionID     string
	CorrelationID string
	Strategies    []StrategyConfig
	CreatedAt     time.Time
	Timeout       time.Duration
	TTL           time.Duration
}

// StorePartialSignalInput is one strategy worker's result.
type StorePartialSignalInput struct {
	SessionID             string
	DSLFile               string
	Allocation            decimal.Decimal
	ConsolidatedPortfolio json.RawMessage
	SignalsData           json.RawMessage
	SignalCount           int
	DataFreshness         json.RawMessage
}

// SignalProgress reports the session counter after a store attempt.
type SignalProgress struct {
	SessionID           string
	CompletedStrategies int
	TotalStrategies     int
	Completed           bool
	Duplicate           bool
}

// SessionSummary is the read model of a session row.
type SessionSummary struct {
	SessionID           string
	CorrelationID       string
	TotalStrategies     int
	CompletedStrategies int
	Status              model.SessionStatus
	Strategies          []StrategyConfig
	CreatedAt           time.Time
	TimeoutAt           time.Time
}

// CreateSession inserts the session metadata row.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("aggregation service not initialized")
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return fmt.Errorf("session_id is required")
	}
	if len(in.Strategies) == 0 {
		return fmt.Errorf("session %s has no strategies", in.SessionID)
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	configs, err := json.Marshal(in.Strategies)
	if err != nil {
		return fmt.Errorf("encoding strategy configs failed: %w", err)
	}
	session := model.AggregationSessionModel{
		SessionID:       in.SessionID,
		CorrelationID:   in.CorrelationID,
		TotalStrategies: len(in.Strategies),
		Status:          model.SessionStatusPending,
		StrategyConfigs: datatypes.JSON(configs),
		CreatedAtUnix:   createdAt.UnixMilli(),
	}
	if in.Timeout > 0 {
		session.TimeoutAtUnix = createdAt.Add(in.Timeout).UnixMilli()
	}
	if in.TTL > 0 {
		session.ExpiresAtUnix = createdAt.Add(in.TTL).UnixMilli()
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return err
	}
	logger.Infof("aggregation: session %s created strategies=%d", in.SessionID, len(in.Strategies))
	return nil
}

// StorePartialSignal records one strategy's output exactly once. The child
// row's conditional put guards against duplicate delivery; only a fresh
// insert increments the session counter, and the counter value comes back
// from the increment statement itself. Duplicates return the
// already-recorded progress, never an error.
func (s *Service) StorePartialSignal(ctx context.Context, in StorePartialSignalInput) (*SignalProgress, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("aggregation service not initialized")
	}
	signal := model.PartialSignalModel{
		SessionID:             in.SessionID,
		DSLFile:               in.DSLFile,
		Allocation:            in.Allocation.InexactFloat64(),
		ConsolidatedPortfolio: datatypes.JSON(in.ConsolidatedPortfolio),
		SignalsData:           datatypes.JSON(in.SignalsData),
		SignalCount:           in.SignalCount,
		DataFreshness:         datatypes.JSON(in.DataFreshness),
		CompletedAtUnix:       time.Now().UnixMilli(),
	}
	inserted, err := s.store.InsertPartialSignal(ctx, signal)
	if err != nil {
		return nil, err
	}
	if !inserted {
		session, ok, err := s.store.GetSession(ctx, in.SessionID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("session %s not found", in.SessionID)
		}
		logger.Debugf("aggregation: duplicate partial signal session=%s file=%s ignored", in.SessionID, in.DSLFile)
		return progressFromModel(session, true), nil
	}
	session, err := s.store.IncrementCompletedStrategies(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	progress := progressFromModel(session, false)
	logger.Infof("aggregation: session=%s file=%s stored progress=%d/%d",
		in.SessionID, in.DSLFile, progress.CompletedStrategies, progress.TotalStrategies)
	return progress, nil
}

// GetSession returns the session summary, or nil when absent.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*SessionSummary, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("aggregation service not initialized")
	}
	session, ok, err := s.store.GetSession(ctx, sessionID)
	if err != nil || !ok {
		return nil, err
	}
	return summaryFromSessionModel(session), nil
}

// GetAllPartialSignals returns every partial signal stored for a session.
func (s *Service) GetAllPartialSignals(ctx context.Context, sessionID string) ([]model.PartialSignalModel, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("aggregation service not initialized")
	}
	return s.store.GetAllPartialSignals(ctx, sessionID)
}

// UpdateSessionStatus writes the session status.
func (s *Service) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("aggregation service not initialized")
	}
	return s.store.UpdateSessionStatus(ctx, sessionID, status)
}

// FindStuckSessions flags sessions still Pending past maxAge for operator
// alerting. It never fails a session itself.
func (s *Service) FindStuckSessions(ctx context.Context, maxAge time.Duration) ([]*SessionSummary, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("aggregation service not initialized")
	}
	sessions, err := s.store.FindStuckSessions(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return nil, err
	}
	out := make([]*SessionSummary, 0, len(sessions))
	for i := range sessions {
		out = append(out, summaryFromSessionModel(&sessions[i]))
	}
	return out, nil
}

func progressFromModel(session *model.AggregationSessionModel, duplicate bool) *SignalProgress {
	return &SignalProgress{
		SessionID:           session.SessionID,
		CompletedStrategies: session.CompletedStrategies,
		TotalStrategies:     session.TotalStrategies,
		Completed:           session.CompletedStrategies >= session.TotalStrategies,
		Duplicate:           duplicate,
	}
}

func summaryFromSessionModel(session *model.AggregationSessionModel) *SessionSummary {
	out := &SessionSummary{
		SessionID:           session.SessionID,
		CorrelationID:       session.CorrelationID,
		TotalStrategies:     session.TotalStrategies,
		CompletedStrategies: session.CompletedStrategies,
		Status:              session.Status,
		CreatedAt:           time.UnixMilli(session.CreatedAtUnix),
	}
	if session.TimeoutAtUnix > 0 {
		out.TimeoutAt = time.UnixMilli(session.TimeoutAtUnix)
	}
	if len(session.StrategyConfigs) > 0 {
		_ = json.Unmarshal(session.StrategyConfigs, &out.Strategies)
	}
	return out
}
