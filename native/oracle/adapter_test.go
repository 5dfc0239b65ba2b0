package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	coreerrors "reflexstake/core/errors"
)

const testFeed = "reflex-usd"

func newTestAdapter(t *testing.T, clock clockwork.Clock, primary, backup Feed, ttl time.Duration) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(Config{FeedID: testFeed, MaxAge: time.Minute, CacheTTL: ttl}, primary, backup)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	adapter.SetClock(clock)
	return adapter
}

func countingFeed(calls *int, price func() (Price, error)) Feed {
	return FeedFunc(func(ctx context.Context, feedID string) (Price, error) {
		*calls++
		if feedID != testFeed {
			return Price{}, errors.New("unexpected feed id")
		}
		return price()
	})
}

func TestAdapterServesPrimaryAndCaches(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	var calls int
	primary := countingFeed(&calls, func() (Price, error) {
		return Price{Value: uint256.NewInt(150_000_000), Decimals: 8, AsOf: clock.Now()}, nil
	})
	adapter := newTestAdapter(t, clock, primary, nil, 10*time.Second)

	snap, err := adapter.Price(context.Background())
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if snap.Source != SourcePrimary || !snap.Price.Value.Eq(uint256.NewInt(150_000_000)) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	clock.Advance(5 * time.Second)
	snap, err = adapter.Price(context.Background())
	if err != nil {
		t.Fatalf("cached price: %v", err)
	}
	if snap.Source != SourceCache || snap.Age != 5*time.Second {
		t.Fatalf("expected cached snapshot aged 5s, got %+v", snap)
	}
	if calls != 1 {
		t.Fatalf("expected one feed call, got %d", calls)
	}

	clock.Advance(10 * time.Second)
	if snap, err = adapter.Price(context.Background()); err != nil || snap.Source != SourcePrimary {
		t.Fatalf("expected refetch from primary, got %+v %v", snap, err)
	}
	if calls != 2 {
		t.Fatalf("expected two feed calls, got %d", calls)
	}

	adapter.Invalidate()
	if _, err := adapter.Price(context.Background()); err != nil || calls != 3 {
		t.Fatalf("expected invalidate to force a fetch, calls=%d err=%v", calls, err)
	}
}

func TestAdapterFallsBackOnStalePrimary(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	manualPrimary := NewManualFeed()
	manualBackup := NewManualFeed()
	manualPrimary.Set(testFeed, Price{Value: uint256.NewInt(100), Decimals: 2, AsOf: clock.Now().Add(-2 * time.Minute)})
	if err := manualBackup.SetDecimal(testFeed, "1.25", 2, clock.Now()); err != nil {
		t.Fatalf("set backup: %v", err)
	}
	adapter := newTestAdapter(t, clock, manualPrimary, manualBackup, 0)

	snap, err := adapter.Price(context.Background())
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if snap.Source != SourceBackup || !snap.Price.Value.Eq(uint256.NewInt(125)) {
		t.Fatalf("expected backup price 125, got %+v", snap)
	}
}

func TestAdapterFallsBackOnPrimaryError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	primary := NewManualFeed()
	primary.Fail(testFeed, errors.New("upstream down"))
	backup := NewManualFeed()
	backup.Set(testFeed, Price{Value: uint256.NewInt(99), Decimals: 0, AsOf: clock.Now()})
	adapter := newTestAdapter(t, clock, primary, backup, 0)

	snap, err := adapter.Price(context.Background())
	if err != nil || snap.Source != SourceBackup {
		t.Fatalf("expected backup snapshot, got %+v %v", snap, err)
	}
}

func TestAdapterUnavailableWhenBothFeedsFail(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	primary := NewManualFeed()
	primary.Fail(testFeed, errors.New("timeout"))
	backup := NewManualFeed()
	backup.Set(testFeed, Price{Value: uint256.NewInt(99), AsOf: clock.Now().Add(-time.Hour)})

	adapter := newTestAdapter(t, clock, primary, backup, 0)
	if _, err := adapter.Price(context.Background()); !errors.Is(err, coreerrors.ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable, got %v", err)
	}

	noBackup := newTestAdapter(t, clock, primary, nil, 0)
	if _, err := noBackup.Price(context.Background()); !errors.Is(err, coreerrors.ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable without backup, got %v", err)
	}
}

func TestAdapterNeverServesCacheBeyondMaxAge(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	primary := NewManualFeed()
	primary.Set(testFeed, Price{Value: uint256.NewInt(7), AsOf: clock.Now().Add(-59 * time.Second)})
	adapter := newTestAdapter(t, clock, primary, nil, time.Minute)

	if _, err := adapter.Price(context.Background()); err != nil {
		t.Fatalf("price: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := adapter.Price(context.Background()); !errors.Is(err, coreerrors.ErrPriceUnavailable) {
		t.Fatalf("expected aged cache to be unavailable, got %v", err)
	}
}

func TestAdapterRejectsInvalidPrices(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	cases := map[string]Price{
		"zero":   {Value: new(uint256.Int), AsOf: clock.Now()},
		"nil":    {AsOf: clock.Now()},
		"no ts":  {Value: uint256.NewInt(1)},
		"future": {Value: uint256.NewInt(1), AsOf: clock.Now().Add(time.Hour)},
	}
	for name, price := range cases {
		t.Run(name, func(t *testing.T) {
			feed := NewManualFeed()
			feed.Set(testFeed, price)
			adapter := newTestAdapter(t, clock, feed, nil, 0)
			if _, err := adapter.Price(context.Background()); !errors.Is(err, coreerrors.ErrPriceUnavailable) {
				t.Fatalf("expected unavailable, got %v", err)
			}
		})
	}
}

func TestNewAdapterValidatesConfig(t *testing.T) {
	feed := NewManualFeed()
	if _, err := NewAdapter(Config{MaxAge: time.Minute}, feed, nil); err == nil {
		t.Fatalf("expected missing feed id to fail")
	}
	if _, err := NewAdapter(Config{FeedID: testFeed}, feed, nil); err == nil {
		t.Fatalf("expected zero max age to fail")
	}
	if _, err := NewAdapter(Config{FeedID: testFeed, MaxAge: time.Minute}, nil, feed); err == nil {
		t.Fatalf("expected missing primary to fail")
	}
}

func TestScaleDecimal(t *testing.T) {
	got, err := ScaleDecimal("2.123456789", 8)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if !got.Eq(uint256.NewInt(212_345_678)) {
		t.Fatalf("scaled = %s", got.Dec())
	}
	for _, bad := range []string{"", "abc", "-1", "0", "0.000000001"} {
		if _, err := ScaleDecimal(bad, 8); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}
