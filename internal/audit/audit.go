// Package audit records an entry for every remote function call the gateway
// serves.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// Record is one audited call.
type Record struct {
	ID            uint      `gorm:"primaryKey"`
	RequestID     string    `gorm:"size:64;index"`
	Principal     string    `gorm:"size:255"`
	Method        string    `gorm:"size:8"`
	Destination   string    `gorm:"size:64;index"`
	Function      string    `gorm:"size:30;index"`
	Transactional bool
	Outcome       string `gorm:"size:32;index"`
	Status        int
	DurationMs    int64
	CreatedAt     time.Time `gorm:"index"`
}

// TableName implements gorm's tabler.
func (Record) TableName() string {
	return "rfc_call_audit"
}

// Store persists audit records.
type Store interface {
	Record(ctx context.Context, rec *Record) error
	Close() error
}

// New creates the store selected by cfg. A disabled audit trail yields a
// store that drops everything.
func New(ctx context.Context, cfg config.AuditConfig, logger observability.Logger) (Store, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if !cfg.Enabled {
		return Nop(), nil
	}

	switch cfg.Store {
	case config.AuditStoreLog, "":
		return NewLogStore(logger), nil
	case config.AuditStoreSQLite:
		s, err := NewSQLStore(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := s.StartRetention(cfg.Retention.Duration(), cfg.PruneSchedule); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown audit store %q", cfg.Store)
	}
}

type nopStore struct{}

func (nopStore) Record(context.Context, *Record) error { return nil }
func (nopStore) Close() error                          { return nil }

// Nop returns a store that drops every record.
func Nop() Store {
	return nopStore{}
}

// LogStore writes records to the log.
type LogStore struct {
	logger observability.Logger
}

// NewLogStore creates a LogStore.
func NewLogStore(logger observability.Logger) *LogStore {
	return &LogStore{logger: logger.With(observability.String("component", "audit"))}
}

// Record implements Store.
func (s *LogStore) Record(ctx context.Context, rec *Record) error {
	s.logger.WithContext(ctx).Info("rfc call",
		observability.String("request_id", rec.RequestID),
		observability.String("principal", rec.Principal),
		observability.String("method", rec.Method),
		observability.String("destination", rec.Destination),
		observability.String("function", rec.Function),
		observability.Bool("transactional", rec.Transactional),
		observability.String("outcome", rec.Outcome),
		observability.Int("status", rec.Status),
		observability.Int64("duration_ms", rec.DurationMs),
	)
	return nil
}

// Close implements Store.
func (s *LogStore) Close() error {
	return nil
}
