package staking

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

// Snapshot is the persisted form of the engine. The strategy itself is not part
// of it; callers reattach one after restoring.
type Snapshot struct {
	Account         crypto.Address
	TokenDecimals   uint8
	MinLockDuration time.Duration
	LockOverride    *time.Duration
	Tiers           []Tier
	Stakes          []StakeRecord
	TotalLocked     *uint256.Int
	Yield           YieldState
}

// Export captures a deep copy of the engine state with stakes ordered by owner.
func (e *Engine) Export() Snapshot {
	minLock, override := e.LockPolicy()
	snap := Snapshot{
		Account:         e.account,
		TokenDecimals:   e.tokenDecimals,
		MinLockDuration: minLock,
		LockOverride:    override,
		Tiers:           e.Tiers(),
		Stakes:          make([]StakeRecord, 0, len(e.stakes)),
		TotalLocked:     cloneAmount(e.totalLocked),
		Yield:           e.yield.clone(),
	}
	for _, record := range e.stakes {
		snap.Stakes = append(snap.Stakes, record.Clone())
	}
	sort.Slice(snap.Stakes, func(i, j int) bool {
		return bytes.Compare(snap.Stakes[i].Owner.Bytes(), snap.Stakes[j].Owner.Bytes()) < 0
	})
	return snap
}

// RestoreEngine rebuilds an engine from a snapshot, checking that the stored
// total matches the per-owner principal.
func RestoreEngine(snap Snapshot, ledger Ledger, prices PriceSource) (*Engine, error) {
	engine, err := NewEngine(snap.Account, ledger, prices, Params{
		TokenDecimals:    snap.TokenDecimals,
		MinLockDuration:  snap.MinLockDuration,
		LockOverride:     snap.LockOverride,
		MaxDeploymentBps: snap.Yield.MaxDeploymentBps,
		MinReserve:       snap.Yield.MinReserve,
		AutoDeploy:       snap.Yield.AutoDeploy,
	})
	if err != nil {
		return nil, err
	}
	tiers := make([]Tier, 0, len(snap.Tiers))
	for _, t := range snap.Tiers {
		normalised, err := normaliseTier(t)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, normalised)
	}
	if err := validateTiers(tiers); err != nil {
		return nil, err
	}
	engine.tiers = tiers

	total := new(uint256.Int)
	for _, record := range snap.Stakes {
		if record.Owner.IsZero() {
			return nil, fmt.Errorf("staking engine: snapshot stake without owner")
		}
		if _, dup := engine.stakes[record.Owner]; dup {
			return nil, fmt.Errorf("staking engine: duplicate stake for %s", record.Owner)
		}
		clone := record.Clone()
		if _, overflow := total.AddOverflow(total, clone.Principal); overflow {
			return nil, fmt.Errorf("staking engine: snapshot principal overflows")
		}
		engine.stakes[record.Owner] = &clone
	}
	if snap.TotalLocked == nil || !total.Eq(snap.TotalLocked) {
		return nil, fmt.Errorf("staking engine: snapshot total locked does not match stakes")
	}
	engine.totalLocked = total
	engine.yield.DeployedShares = cloneAmount(snap.Yield.DeployedShares)
	return engine, nil
}
