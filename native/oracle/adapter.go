package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	coreerrors "reflexstake/core/errors"
	"reflexstake/observability"
)

var (
	errNoFeed       = errors.New("oracle: feed not configured")
	errStalePrice   = errors.New("oracle: price stale")
	errInvalidPrice = errors.New("oracle: price must be positive")
	errFuturePrice  = errors.New("oracle: price timestamp in the future")
)

// maxClockSkew bounds how far ahead of local time a feed timestamp may be.
const maxClockSkew = 30 * time.Second

// Config captures the adapter knobs.
type Config struct {
	FeedID   string
	MaxAge   time.Duration
	CacheTTL time.Duration
}

// Adapter consults a primary feed and falls back to a backup when the primary
// fails or serves a price older than MaxAge. Served prices are cached for
// CacheTTL, which never exceeds MaxAge.
type Adapter struct {
	mu       sync.Mutex
	primary  Feed
	backup   Feed
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	cached   *Snapshot
	cachedAt time.Time
}

// NewAdapter constructs an adapter over the supplied feeds. The backup may be
// nil.
func NewAdapter(cfg Config, primary, backup Feed) (*Adapter, error) {
	cfg.FeedID = strings.TrimSpace(cfg.FeedID)
	if cfg.FeedID == "" {
		return nil, fmt.Errorf("oracle: feed id required")
	}
	if primary == nil {
		return nil, errNoFeed
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("oracle: max age must be positive")
	}
	if cfg.CacheTTL < 0 || cfg.CacheTTL > cfg.MaxAge {
		cfg.CacheTTL = cfg.MaxAge
	}
	return &Adapter{
		primary: primary,
		backup:  backup,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}, nil
}

// SetClock overrides the time source.
func (a *Adapter) SetClock(clock clockwork.Clock) {
	if a == nil || clock == nil {
		return
	}
	a.mu.Lock()
	a.clock = clock
	a.mu.Unlock()
}

func (a *Adapter) SetLogger(logger *slog.Logger) {
	if a == nil || logger == nil {
		return
	}
	a.mu.Lock()
	a.logger = logger
	a.mu.Unlock()
}

// FeedID returns the identifier the adapter queries.
func (a *Adapter) FeedID() string { return a.cfg.FeedID }

// MaxAge returns the staleness window.
func (a *Adapter) MaxAge() time.Duration { return a.cfg.MaxAge }

// Invalidate drops the cached price.
func (a *Adapter) Invalidate() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}

// Price returns a price no older than MaxAge, or ErrPriceUnavailable when
// neither feed can supply one.
func (a *Adapter) Price(ctx context.Context) (Snapshot, error) {
	if a == nil {
		return Snapshot{}, fmt.Errorf("%w: %v", coreerrors.ErrPriceUnavailable, errNoFeed)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics := observability.Oracle()
	now := a.clock.Now()
	if a.cached != nil && now.Sub(a.cachedAt) < a.cfg.CacheTTL {
		if age := now.Sub(a.cached.Price.AsOf); age <= a.cfg.MaxAge {
			snap := *a.cached
			snap.Price = snap.Price.Clone()
			snap.Source = SourceCache
			snap.Age = age
			metrics.RecordFetch(string(SourceCache), nil)
			metrics.RecordServed(age)
			return snap, nil
		}
	}

	price, primaryErr := a.fetch(ctx, a.primary, now)
	metrics.RecordFetch(string(SourcePrimary), primaryErr)
	source := SourcePrimary
	if primaryErr != nil {
		a.logger.Warn("primary price feed unavailable",
			slog.String("feed", a.cfg.FeedID),
			slog.String("error", primaryErr.Error()))
		var backupErr error = errNoFeed
		if a.backup != nil {
			price, backupErr = a.fetch(ctx, a.backup, now)
			metrics.RecordFetch(string(SourceBackup), backupErr)
		}
		if backupErr != nil {
			metrics.RecordUnavailable()
			return Snapshot{}, fmt.Errorf("%w: primary: %v; backup: %v", coreerrors.ErrPriceUnavailable, primaryErr, backupErr)
		}
		source = SourceBackup
	}

	snap := Snapshot{FeedID: a.cfg.FeedID, Price: price, Source: source, Age: now.Sub(price.AsOf)}
	if snap.Age < 0 {
		snap.Age = 0
	}
	cached := snap
	cached.Price = price.Clone()
	a.cached = &cached
	a.cachedAt = now
	metrics.RecordServed(snap.Age)
	return snap, nil
}

func (a *Adapter) fetch(ctx context.Context, feed Feed, now time.Time) (Price, error) {
	if feed == nil {
		return Price{}, errNoFeed
	}
	price, err := feed.GetPrice(ctx, a.cfg.FeedID)
	if err != nil {
		return Price{}, err
	}
	if price.Value == nil || price.Value.IsZero() {
		return Price{}, errInvalidPrice
	}
	if price.AsOf.IsZero() {
		return Price{}, fmt.Errorf("%w: missing timestamp", errStalePrice)
	}
	if price.AsOf.After(now.Add(maxClockSkew)) {
		return Price{}, errFuturePrice
	}
	if age := now.Sub(price.AsOf); age > a.cfg.MaxAge {
		return Price{}, fmt.Errorf("%w: age %s exceeds %s", errStalePrice, age, a.cfg.MaxAge)
	}
	return price.Clone(), nil
}
