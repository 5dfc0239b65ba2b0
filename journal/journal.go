package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"reflexstake/core/events"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxRecentLimit      = 500
)

// EventRecord is one persisted event. Position orders records in emission
// order independent of wall-clock resolution.
type EventRecord struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Position   int64             `gorm:"uniqueIndex" json:"position"`
	Type       string            `gorm:"size:64;index" json:"type"`
	Attributes map[string]string `gorm:"serializer:json" json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Journal persists the machine's event stream through gorm. It implements
// events.Emitter; write failures are logged and never reach the emitter.
type Journal struct {
	mu       sync.Mutex
	db       *gorm.DB
	logger   *slog.Logger
	clock    clockwork.Clock
	position int64
}

// Option customises a Journal.
type Option func(*Journal)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(c clockwork.Clock) Option {
	return func(j *Journal) {
		if c != nil {
			j.clock = c
		}
	}
}

// Open connects to the named driver ("sqlite" or "postgres") and migrates the
// schema.
func Open(driver, dsn string, opts ...Option) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db, opts...)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, opts ...Option) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: db required")
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	j := &Journal{db: db, logger: slog.Default(), clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(j)
	}
	var last struct{ Max *int64 }
	if err := db.Model(&EventRecord{}).Select("MAX(position) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: read position: %w", err)
	}
	if last.Max != nil {
		j.position = *last.Max
	}
	return j, nil
}

// Emit implements events.Emitter.
func (j *Journal) Emit(ev events.Event) {
	if j == nil || ev == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if _, err := j.Append(ctx, ev); err != nil {
		j.logger.Error("journal write failed",
			slog.String("event", ev.EventType()),
			slog.String("error", err.Error()))
	}
}

// Append persists ev and returns the stored record.
func (j *Journal) Append(ctx context.Context, ev events.Event) (EventRecord, error) {
	env := events.Render(ev)
	j.mu.Lock()
	defer j.mu.Unlock()
	record := EventRecord{
		ID:         uuid.New(),
		Position:   j.position + 1,
		Type:       env.Type,
		Attributes: env.Attributes,
		CreatedAt:  j.clock.Now().UTC(),
	}
	if record.Attributes == nil {
		record.Attributes = map[string]string{}
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return EventRecord{}, err
	}
	j.position = record.Position
	return record, nil
}

// Query filters Recent.
type Query struct {
	Type  string
	After int64
	Limit int
}

// Recent returns the newest records matching q, newest first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]EventRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	tx := j.db.WithContext(ctx).Model(&EventRecord{})
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	if q.After > 0 {
		tx = tx.Where("position > ?", q.After)
	}
	var out []EventRecord
	if err := tx.Order("position DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
