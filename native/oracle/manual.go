package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// ManualFeed provides an in-memory feed used for tests and manual overrides
// during incident response.
type ManualFeed struct {
	mu     sync.RWMutex
	prices map[string]Price
	errs   map[string]error
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{prices: make(map[string]Price), errs: make(map[string]error)}
}

func manualKey(feedID string) string {
	return strings.ToLower(strings.TrimSpace(feedID))
}

// Set stores the price for the feed and clears any injected failure.
func (m *ManualFeed) Set(feedID string, price Price) {
	if m == nil {
		return
	}
	key := manualKey(feedID)
	m.mu.Lock()
	m.prices[key] = price.Clone()
	delete(m.errs, key)
	m.mu.Unlock()
}

// SetDecimal records a decimal USD price scaled to the requested precision.
func (m *ManualFeed) SetDecimal(feedID, value string, decimals uint8, asOf time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	scaled, err := ScaleDecimal(value, decimals)
	if err != nil {
		return fmt.Errorf("manual feed: %w", err)
	}
	m.Set(feedID, Price{Value: scaled, Decimals: decimals, AsOf: asOf})
	return nil
}

// Fail makes subsequent lookups for the feed return err.
func (m *ManualFeed) Fail(feedID string, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.errs[manualKey(feedID)] = err
	m.mu.Unlock()
}

// GetPrice implements Feed.
func (m *ManualFeed) GetPrice(_ context.Context, feedID string) (Price, error) {
	if m == nil {
		return Price{}, fmt.Errorf("manual feed not configured")
	}
	key := manualKey(feedID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errs[key]; err != nil {
		return Price{}, err
	}
	stored, ok := m.prices[key]
	if !ok {
		return Price{}, fmt.Errorf("manual feed: price for %s not found", feedID)
	}
	return stored.Clone(), nil
}

// ScaleDecimal converts a positive decimal string into an integer scaled by
// 10^decimals, truncating excess precision.
func ScaleDecimal(value string, decimals uint8) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	scaled := new(big.Int).Quo(rat.Num(), rat.Denom())
	if scaled.Sign() == 0 {
		return nil, fmt.Errorf("price %q below precision", value)
	}
	out, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, fmt.Errorf("price %q overflows", value)
	}
	return out, nil
}
