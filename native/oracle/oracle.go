package oracle

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// Price is a USD quote expressed as Value / 10^Decimals.
type Price struct {
	Value    *uint256.Int
	Decimals uint8
	AsOf     time.Time
}

// Clone returns a deep copy of the price.
func (p Price) Clone() Price {
	out := Price{Decimals: p.Decimals, AsOf: p.AsOf}
	if p.Value != nil {
		out.Value = new(uint256.Int).Set(p.Value)
	}
	return out
}

// Feed resolves the latest price for a feed identifier.
type Feed interface {
	GetPrice(ctx context.Context, feedID string) (Price, error)
}

// FeedFunc adapts a function into a Feed.
type FeedFunc func(ctx context.Context, feedID string) (Price, error)

func (f FeedFunc) GetPrice(ctx context.Context, feedID string) (Price, error) {
	return f(ctx, feedID)
}

// Source identifies where a served price came from.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceBackup  Source = "backup"
	SourceCache   Source = "cache"
)

// Snapshot is a served price together with its provenance.
type Snapshot struct {
	FeedID string
	Price  Price
	Source Source
	Age    time.Duration
}
