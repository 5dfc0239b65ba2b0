package reflection

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"reflexstake/core/events"
	"reflexstake/crypto"
)

var errInconsistentSnapshot = errors.New("ledger: snapshot inconsistent")

// Snapshot is the persisted form of the ledger. Accounts are ordered by address
// bytes so identical ledgers produce identical encodings.
type Snapshot struct {
	TotalSupply     *uint256.Int
	GenesisRate     *uint256.Int
	ReflectedSupply *uint256.Int
	SumExcludedTrue *uint256.Int
	Accounts        []Account
	Fees            FeeSchedule
	MaxTransfer     *uint256.Int
}

// Export captures a deep copy of the ledger state.
func (l *Ledger) Export() Snapshot {
	snap := Snapshot{
		TotalSupply:     new(uint256.Int).Set(l.totalSupply),
		GenesisRate:     new(uint256.Int).Set(l.genesisRate),
		ReflectedSupply: new(uint256.Int).Set(l.reflectedSupply),
		SumExcludedTrue: new(uint256.Int).Set(l.sumExcludedTrue),
		Accounts:        make([]Account, 0, len(l.accounts)),
		Fees:            l.fees.Clone(),
		MaxTransfer:     l.MaxTransferAmount(),
	}
	for _, acc := range l.accounts {
		snap.Accounts = append(snap.Accounts, *acc.clone())
	}
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return bytes.Compare(snap.Accounts[i].Address.Bytes(), snap.Accounts[j].Address.Bytes()) < 0
	})
	return snap
}

// Restore rebuilds a ledger from a snapshot after checking that the stored
// aggregates match the per-account balances.
func Restore(snap Snapshot) (*Ledger, error) {
	if snap.TotalSupply == nil || snap.TotalSupply.IsZero() {
		return nil, errZeroSupply
	}
	if snap.GenesisRate == nil || snap.GenesisRate.IsZero() {
		return nil, fmt.Errorf("%w: missing genesis rate", errInconsistentSnapshot)
	}
	l := &Ledger{
		totalSupply:     new(uint256.Int).Set(snap.TotalSupply),
		genesisRate:     new(uint256.Int).Set(snap.GenesisRate),
		reflectedSupply: new(uint256.Int),
		sumExcludedTrue: new(uint256.Int),
		accounts:        make(map[crypto.Address]*Account, len(snap.Accounts)),
		emitter:         events.NoopEmitter{},
	}
	for i := range snap.Accounts {
		src := snap.Accounts[i]
		if src.Address.IsZero() {
			return nil, fmt.Errorf("%w: zero address entry", errInconsistentSnapshot)
		}
		if _, dup := l.accounts[src.Address]; dup {
			return nil, fmt.Errorf("%w: duplicate account %s", errInconsistentSnapshot, src.Address)
		}
		acc := newAccount(src.Address)
		acc.ExcludedFromReward = src.ExcludedFromReward
		acc.ExcludedFromFee = src.ExcludedFromFee
		if src.Reflected != nil {
			acc.Reflected.Set(src.Reflected)
		}
		if src.True != nil {
			acc.True.Set(src.True)
		}
		if acc.ExcludedFromReward {
			if _, overflow := l.sumExcludedTrue.AddOverflow(l.sumExcludedTrue, acc.True); overflow {
				return nil, fmt.Errorf("%w: excluded sum overflow", errInconsistentSnapshot)
			}
		} else if _, overflow := l.reflectedSupply.AddOverflow(l.reflectedSupply, acc.Reflected); overflow {
			return nil, fmt.Errorf("%w: reflected sum overflow", errInconsistentSnapshot)
		}
		l.accounts[acc.Address] = acc
	}
	if snap.ReflectedSupply == nil || !l.reflectedSupply.Eq(snap.ReflectedSupply) {
		return nil, fmt.Errorf("%w: reflected supply mismatch", errInconsistentSnapshot)
	}
	if snap.SumExcludedTrue == nil || !l.sumExcludedTrue.Eq(snap.SumExcludedTrue) || l.sumExcludedTrue.Gt(l.totalSupply) {
		return nil, fmt.Errorf("%w: excluded sum mismatch", errInconsistentSnapshot)
	}
	if _, err := l.rateFor(l.reflectedSupply, l.sumExcludedTrue); err != nil {
		return nil, err
	}
	fees := snap.Fees.Clone()
	version := fees.Version
	if err := fees.Validate(); err != nil {
		return nil, err
	}
	fees.Version = version
	l.fees = fees
	if snap.MaxTransfer != nil && !snap.MaxTransfer.IsZero() {
		l.maxTransfer = new(uint256.Int).Set(snap.MaxTransfer)
	}
	return l, nil
}
