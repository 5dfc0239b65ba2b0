package staking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	coreerrors "reflexstake/core/errors"
	"reflexstake/core/events"
	"reflexstake/crypto"
	"reflexstake/native/oracle"
)

// Tiers returns a copy of the ascending tier list.
func (e *Engine) Tiers() []Tier {
	if e == nil {
		return nil
	}
	out := make([]Tier, len(e.tiers))
	for i, t := range e.tiers {
		out[i] = t.clone()
	}
	return out
}

// AddTier appends a tier. Its threshold must exceed every existing threshold.
func (e *Engine) AddTier(tier Tier) (int, error) {
	if e == nil {
		return NoTier, errNilEngine
	}
	candidate, err := normaliseTier(tier)
	if err != nil {
		return NoTier, err
	}
	next := append(e.Tiers(), candidate)
	if err := validateTiers(next); err != nil {
		return NoTier, err
	}
	e.tiers = next
	index := len(next) - 1
	e.emitter.Emit(events.TierList{Action: "add", Index: index, Label: candidate.Label, Count: len(next)})
	return index, nil
}

// UpdateTier replaces the tier at index. expectedLabel must match the tier
// currently at that index so callers holding a stale index fail rather than
// edit the wrong tier.
func (e *Engine) UpdateTier(index int, expectedLabel string, tier Tier) error {
	if e == nil {
		return errNilEngine
	}
	if err := e.checkIndex(index, expectedLabel); err != nil {
		return err
	}
	candidate, err := normaliseTier(tier)
	if err != nil {
		return err
	}
	next := e.Tiers()
	next[index] = candidate
	if err := validateTiers(next); err != nil {
		return err
	}
	e.tiers = next
	e.emitter.Emit(events.TierList{Action: "update", Index: index, Label: candidate.Label, Count: len(next)})
	return nil
}

// RemoveTier deletes the tier at index; later tiers shift down by one.
func (e *Engine) RemoveTier(index int, expectedLabel string) error {
	if e == nil {
		return errNilEngine
	}
	if err := e.checkIndex(index, expectedLabel); err != nil {
		return err
	}
	label := e.tiers[index].Label
	current := e.Tiers()
	next := append(current[:index:index], current[index+1:]...)
	e.tiers = next
	e.emitter.Emit(events.TierList{Action: "remove", Index: index, Label: label, Count: len(next)})
	return nil
}

// TierIndex resolves a label to its current index.
func (e *Engine) TierIndex(label string) (int, bool) {
	label = strings.TrimSpace(label)
	for i, t := range e.tiers {
		if strings.EqualFold(t.Label, label) {
			return i, true
		}
	}
	return NoTier, false
}

func (e *Engine) checkIndex(index int, expectedLabel string) error {
	if index < 0 || index >= len(e.tiers) {
		return fmt.Errorf("%w: index %d of %d", coreerrors.ErrInvalidTierIndex, index, len(e.tiers))
	}
	if !strings.EqualFold(e.tiers[index].Label, strings.TrimSpace(expectedLabel)) {
		return fmt.Errorf("%w: index %d holds %q, not %q", coreerrors.ErrInvalidTierIndex, index, e.tiers[index].Label, expectedLabel)
	}
	return nil
}

func normaliseTier(tier Tier) (Tier, error) {
	out := tier.clone()
	out.Label = strings.TrimSpace(out.Label)
	if out.Label == "" {
		return Tier{}, fmt.Errorf("%w: label required", coreerrors.ErrInvalidTier)
	}
	if out.USDThreshold == nil || out.USDThreshold.IsZero() {
		return Tier{}, fmt.Errorf("%w: threshold for %q must be positive", coreerrors.ErrInvalidTier, out.Label)
	}
	return out, nil
}

// validateTiers enforces strictly ascending thresholds and unique labels.
func validateTiers(tiers []Tier) error {
	seen := make(map[string]struct{}, len(tiers))
	for i, t := range tiers {
		key := strings.ToLower(t.Label)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate label %q", coreerrors.ErrInvalidTier, t.Label)
		}
		seen[key] = struct{}{}
		if i > 0 && !t.USDThreshold.Gt(tiers[i-1].USDThreshold) {
			return fmt.Errorf("%w: threshold of %q must exceed %q", coreerrors.ErrInvalidTier, t.Label, tiers[i-1].Label)
		}
	}
	return nil
}

// USDValue converts a principal into wad-scaled USD at the supplied price.
func (e *Engine) USDValue(principal *uint256.Int, price oracle.Price) (*uint256.Int, error) {
	if price.Value == nil {
		return nil, fmt.Errorf("%w: empty price", coreerrors.ErrPriceUnavailable)
	}
	exp := uint64(e.tokenDecimals) + uint64(price.Decimals)
	if exp > 77 {
		return nil, fmt.Errorf("%w: %d decimals", coreerrors.ErrArithmeticOverflow, exp)
	}
	scaledPrice, overflow := new(uint256.Int).MulOverflow(price.Value, wad)
	if overflow {
		return nil, fmt.Errorf("%w: price scaling", coreerrors.ErrArithmeticOverflow)
	}
	denominator := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(exp))
	value, overflow := new(uint256.Int).MulDivOverflow(principal, scaledPrice, denominator)
	if overflow {
		return nil, fmt.Errorf("%w: usd value", coreerrors.ErrArithmeticOverflow)
	}
	return value, nil
}

func (e *Engine) tierFor(usd *uint256.Int) int {
	index := NoTier
	for i, t := range e.tiers {
		if t.USDThreshold.Gt(usd) {
			break
		}
		index = i
	}
	return index
}

func (e *Engine) resolve(ctx context.Context, principal *uint256.Int) (TierResolution, error) {
	snapshot, err := e.prices.Price(ctx)
	if err != nil {
		return TierResolution{Index: NoTier}, err
	}
	usd, err := e.USDValue(principal, snapshot.Price)
	if err != nil {
		return TierResolution{Index: NoTier}, err
	}
	res := TierResolution{Index: e.tierFor(usd), USDValue: usd, Price: snapshot}
	if res.Index != NoTier {
		res.Label = e.tiers[res.Index].Label
	}
	return res, nil
}

// EffectiveTier resolves owner's tier against a fresh price. It never falls
// back to the advisory index: a price failure yields NoTier and the error.
func (e *Engine) EffectiveTier(ctx context.Context, owner crypto.Address) (TierResolution, error) {
	if e == nil || e.prices == nil {
		return TierResolution{Index: NoTier}, errNilEngine
	}
	principal := new(uint256.Int)
	if record, ok := e.stakes[owner]; ok {
		principal = record.Principal
	}
	return e.resolve(ctx, principal)
}

// HasTierAccess reports whether owner currently qualifies for the labelled
// tier or any tier above it.
func (e *Engine) HasTierAccess(ctx context.Context, owner crypto.Address, label string) (bool, error) {
	required, ok := e.TierIndex(label)
	if !ok {
		return false, fmt.Errorf("%w: unknown tier %q", coreerrors.ErrInvalidTier, label)
	}
	res, err := e.EffectiveTier(ctx, owner)
	if err != nil {
		return false, err
	}
	return res.Index >= required, nil
}

// RefreshTier re-resolves owner's advisory tier index.
func (e *Engine) RefreshTier(ctx context.Context, owner crypto.Address) (StakeRecord, error) {
	if e == nil {
		return StakeRecord{}, errNilEngine
	}
	record, ok := e.stakes[owner]
	if !ok {
		return StakeRecord{}, ErrNoStake
	}
	if err := e.refreshTier(ctx, record); err != nil {
		return record.Clone(), err
	}
	return record.Clone(), nil
}

// refreshTier updates the advisory index in place. On failure the previous
// index is kept and the error returned for the caller to surface.
func (e *Engine) refreshTier(ctx context.Context, record *StakeRecord) error {
	res, err := e.resolve(ctx, record.Principal)
	if err != nil {
		e.logger.Warn("tier refresh deferred",
			slog.String("owner", record.Owner.String()),
			slog.String("error", err.Error()))
		return err
	}
	if res.Index == record.TierIndexAtLastUpdate {
		return nil
	}
	from := record.TierIndexAtLastUpdate
	record.TierIndexAtLastUpdate = res.Index
	e.emitter.Emit(events.TierChanged{Owner: record.Owner, From: from, To: res.Index, Label: res.Label, USDValue: res.USDValue})
	return nil
}
