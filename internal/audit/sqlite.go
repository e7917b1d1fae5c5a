package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Destination string
	Function    string
	Outcome     string
	Since       time.Time
	Limit       int
}

// SQLStore keeps records in SQLite through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger observability.Logger

	mu    sync.Mutex
	prune *cron.Cron
}

// NewSQLStore opens dsn and migrates the audit table.
func NewSQLStore(ctx context.Context, dsn string, logger observability.Logger) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	s := &SQLStore{db: db, logger: logger}
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}

	logger.Info("audit trail enabled", observability.String("store", "sqlite"))
	return s, nil
}

// Record implements Store.
func (s *SQLStore) Record(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Query returns records matching f, newest first.
func (s *SQLStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")

	if f.Destination != "" {
		q = q.Where("destination = ?", f.Destination)
	}
	if f.Function != "" {
		q = q.Where("function = ?", f.Function)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var records []Record
	return records, q.Find(&records).Error
}

// Prune deletes records older than before.
func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&Record{})
	return result.RowsAffected, result.Error
}

// StartRetention deletes records older than retention on schedule until
// the store is closed.
func (s *SQLStore) StartRetention(retention time.Duration, schedule string) error {
	if retention <= 0 {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { s.pruneOlderThan(retention) }); err != nil {
		return fmt.Errorf("invalid audit prune schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	s.prune = c
	s.mu.Unlock()
	c.Start()

	s.logger.Info("audit retention scheduled",
		observability.Duration("retention", retention),
		observability.String("schedule", schedule),
	)
	return nil
}

func (s *SQLStore) pruneOlderThan(retention time.Duration) {
	n, err := s.Prune(context.Background(), time.Now().UTC().Add(-retention))
	if err != nil {
		s.logger.Error("failed to prune audit records", observability.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pruned audit records", observability.Int64("deleted", n))
	}
}

// Close stops the retention schedule and closes the database.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	if s.prune != nil {
		<-s.prune.Stop().Done()
		s.prune = nil
	}
	s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
