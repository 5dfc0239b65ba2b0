package reflection

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	coreerrors "reflexstake/core/errors"
	"reflexstake/crypto"
)

// MaxFeeBps is the basis point denominator; a schedule may not exceed it.
const MaxFeeBps = 10_000

// ComponentRedistribution is the conventional name of the reflected component.
const ComponentRedistribution = "redistribution"

// FeeComponent is one named slice of the transfer fee. Reflected components are
// redistributed to every included holder through the rate; all others are
// credited explicitly to Sink.
type FeeComponent struct {
	Name    string
	Bps     uint32
	Sink    crypto.Address
	Reflect bool
}

// FeeSchedule enumerates the fee components and the schedule version.
type FeeSchedule struct {
	Version    uint64
	Components []FeeComponent
}

// Clone returns a deep copy of the schedule.
func (s FeeSchedule) Clone() FeeSchedule {
	clone := FeeSchedule{Version: s.Version}
	if len(s.Components) > 0 {
		clone.Components = append([]FeeComponent(nil), s.Components...)
	}
	return clone
}

// TotalBps sums the basis points of all components.
func (s FeeSchedule) TotalBps() uint32 {
	var total uint32
	for _, c := range s.Components {
		total += c.Bps
	}
	return total
}

// Component resolves a component by name.
func (s FeeSchedule) Component(name string) (FeeComponent, bool) {
	normalized := NormalizeComponent(name)
	for _, c := range s.Components {
		if c.Name == normalized {
			return c, true
		}
	}
	return FeeComponent{}, false
}

// NormalizeComponent canonicalises component identifiers for consistent lookups.
func NormalizeComponent(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Validate checks the schedule is internally consistent and normalises names.
func (s *FeeSchedule) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: schedule required", coreerrors.ErrInvalidFeeSchedule)
	}
	seen := make(map[string]struct{}, len(s.Components))
	var total uint64
	for i := range s.Components {
		c := &s.Components[i]
		c.Name = NormalizeComponent(c.Name)
		if c.Name == "" {
			return fmt.Errorf("%w: component %d has no name", coreerrors.ErrInvalidFeeSchedule, i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: duplicate component %q", coreerrors.ErrInvalidFeeSchedule, c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Reflect && !c.Sink.IsZero() {
			return fmt.Errorf("%w: reflected component %q must not route to a sink", coreerrors.ErrInvalidFeeSchedule, c.Name)
		}
		if !c.Reflect && c.Sink.IsZero() && c.Bps > 0 {
			return fmt.Errorf("%w: component %q requires a sink", coreerrors.ErrInvalidFeeSchedule, c.Name)
		}
		total += uint64(c.Bps)
	}
	if total > MaxFeeBps {
		return fmt.Errorf("%w: total %d bps exceeds %d", coreerrors.ErrInvalidFeeSchedule, total, MaxFeeBps)
	}
	return nil
}

// SinkCredit is the explicit credit owed to a fee sink.
type SinkCredit struct {
	Component string
	Sink      crypto.Address
	Amount    *uint256.Int
}

// FeeBreakdown summarises the computed fee for a gross amount. Fee always equals
// gross*totalBps/10000; sink shares are floored per component and the rounding
// remainder stays with the reflected share.
type FeeBreakdown struct {
	Gross     *uint256.Int
	Fee       *uint256.Int
	Net       *uint256.Int
	Reflected *uint256.Int
	Sinks     []SinkCredit
	Version   uint64
}

func zeroBreakdown(gross *uint256.Int, version uint64) FeeBreakdown {
	return FeeBreakdown{
		Gross:     new(uint256.Int).Set(gross),
		Fee:       new(uint256.Int),
		Net:       new(uint256.Int).Set(gross),
		Reflected: new(uint256.Int),
		Version:   version,
	}
}

// Apply evaluates the schedule against the gross amount.
func (s FeeSchedule) Apply(gross *uint256.Int) (FeeBreakdown, error) {
	if gross == nil {
		gross = new(uint256.Int)
	}
	result := zeroBreakdown(gross, s.Version)
	total := s.TotalBps()
	if total == 0 || gross.IsZero() {
		return result, nil
	}
	fee, err := bpsOf(gross, total)
	if err != nil {
		return FeeBreakdown{}, err
	}
	remaining := new(uint256.Int).Set(fee)
	for _, c := range s.Components {
		if c.Reflect || c.Bps == 0 {
			continue
		}
		share, err := bpsOf(gross, c.Bps)
		if err != nil {
			return FeeBreakdown{}, err
		}
		if share.IsZero() {
			continue
		}
		remaining.Sub(remaining, share)
		result.Sinks = append(result.Sinks, SinkCredit{Component: c.Name, Sink: c.Sink, Amount: share})
	}
	result.Fee = fee
	result.Net = new(uint256.Int).Sub(gross, fee)
	result.Reflected = remaining
	return result, nil
}

func bpsOf(amount *uint256.Int, bps uint32) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(uint64(bps)))
	if overflow {
		return nil, fmt.Errorf("%w: fee on %s", coreerrors.ErrArithmeticOverflow, amount.Dec())
	}
	return product.Div(product, uint256.NewInt(MaxFeeBps)), nil
}
