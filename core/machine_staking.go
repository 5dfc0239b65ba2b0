package core

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"

	"reflexstake/crypto"
	nativecommon "reflexstake/native/common"
	"reflexstake/native/oracle"
	"reflexstake/native/staking"
	"reflexstake/native/yield"
)

// Stake locks amount of the owner's balance in the engine.
func (m *Machine) Stake(ctx context.Context, owner crypto.Address, amount *uint256.Int) (res staking.StakeResult, err error) {
	ctx, done := m.begin(ctx, nativecommon.ModuleStaking, "stake")
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	return m.engine.Stake(ctx, owner, amount)
}

// Unstake releases amount of the owner's principal.
func (m *Machine) Unstake(ctx context.Context, owner crypto.Address, amount *uint256.Int) (res staking.UnstakeResult, err error) {
	ctx, done := m.begin(ctx, nativecommon.ModuleStaking, "unstake")
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	return m.engine.Unstake(ctx, owner, amount)
}

// RefreshTier re-resolves the owner's advisory tier index.
func (m *Machine) RefreshTier(ctx context.Context, owner crypto.Address) (record staking.StakeRecord, err error) {
	ctx, done := m.begin(ctx, nativecommon.ModuleStaking, "refresh_tier")
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	return m.engine.RefreshTier(ctx, owner)
}

// StakeOf returns the owner's stake record.
func (m *Machine) StakeOf(owner crypto.Address) (staking.StakeRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.StakeOf(owner)
}

// Stakes lists every stake record ordered by owner address.
func (m *Machine) Stakes() []staking.StakeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.Export().Stakes
}

// UnlockTime reports when the owner may next unstake.
func (m *Machine) UnlockTime(owner crypto.Address) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.UnlockTime(owner)
}

// EffectiveTier resolves the owner's tier against a fresh price.
func (m *Machine) EffectiveTier(ctx context.Context, owner crypto.Address) (res staking.TierResolution, err error) {
	ctx, done := m.begin(ctx, nativecommon.ModuleStaking, "effective_tier")
	defer done(&err)
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	return m.engine.EffectiveTier(ctx, owner)
}

// HasTierAccess reports whether the owner currently qualifies for label. A
// price failure never grants access.
func (m *Machine) HasTierAccess(ctx context.Context, owner crypto.Address, label string) (ok bool, err error) {
	ctx, done := m.begin(ctx, nativecommon.ModuleStaking, "tier_access", attribute.String("tier", label))
	defer done(&err)
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	return m.engine.HasTierAccess(ctx, owner, label)
}

// Price returns the oracle price snapshot used for tier decisions.
func (m *Machine) Price(ctx context.Context) (oracle.Snapshot, error) {
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	return m.prices.Price(ctx)
}

// Tiers returns the ascending tier list.
func (m *Machine) Tiers() []staking.Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.Tiers()
}

// StakingPolicy is the lock policy and tier list in one consistent read.
type StakingPolicy struct {
	MinLockDuration time.Duration
	LockOverride    *time.Duration
	TotalLocked     *uint256.Int
	Tiers           []staking.Tier
}

func (m *Machine) StakingPolicy() StakingPolicy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	minLock, override := m.engine.LockPolicy()
	return StakingPolicy{
		MinLockDuration: minLock,
		LockOverride:    override,
		TotalLocked:     m.engine.TotalLocked(),
		Tiers:           m.engine.Tiers(),
	}
}

// YieldTotals summarises locked principal and deployment.
func (m *Machine) YieldTotals() staking.YieldTotals {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.Totals()
}

func (m *Machine) adminStaking(ctx context.Context, caller crypto.Address, op string, fn func(context.Context) error) (err error) {
	ctx, done := m.begin(ctx, nativecommon.ModuleStaking, op)
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.authorize(caller); err != nil {
		return err
	}
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	return fn(ctx)
}

// AddTier appends a tier above the current highest threshold.
func (m *Machine) AddTier(ctx context.Context, caller crypto.Address, tier staking.Tier) (index int, err error) {
	index = staking.NoTier
	err = m.adminStaking(ctx, caller, "add_tier", func(context.Context) error {
		var addErr error
		index, addErr = m.engine.AddTier(tier)
		return addErr
	})
	return index, err
}

// UpdateTier replaces the tier at index when it still carries expectedLabel.
func (m *Machine) UpdateTier(ctx context.Context, caller crypto.Address, index int, expectedLabel string, tier staking.Tier) error {
	return m.adminStaking(ctx, caller, "update_tier", func(context.Context) error {
		return m.engine.UpdateTier(index, expectedLabel, tier)
	})
}

// RemoveTier deletes the tier at index when it still carries expectedLabel.
func (m *Machine) RemoveTier(ctx context.Context, caller crypto.Address, index int, expectedLabel string) error {
	return m.adminStaking(ctx, caller, "remove_tier", func(context.Context) error {
		return m.engine.RemoveTier(index, expectedLabel)
	})
}

func (m *Machine) SetMinLockDuration(ctx context.Context, caller crypto.Address, d time.Duration) error {
	return m.adminStaking(ctx, caller, "set_min_lock", func(context.Context) error {
		return m.engine.SetMinLockDuration(d)
	})
}

// SetLockOverride installs an override that supersedes the minimum lock
// duration. A zero override allows immediate unstaking; nil clears it.
func (m *Machine) SetLockOverride(ctx context.Context, caller crypto.Address, override *time.Duration) error {
	return m.adminStaking(ctx, caller, "set_lock_override", func(context.Context) error {
		return m.engine.SetLockOverride(override)
	})
}

// SetStrategy reassigns the yield venue. Deployed shares are not migrated.
func (m *Machine) SetStrategy(ctx context.Context, caller crypto.Address, strategy yield.Strategy) error {
	return m.adminStaking(ctx, caller, "set_strategy", func(context.Context) error {
		return m.engine.SetStrategy(strategy)
	})
}

func (m *Machine) SetMaxDeploymentBps(ctx context.Context, caller crypto.Address, bps uint32) error {
	return m.adminStaking(ctx, caller, "set_max_deployment", func(context.Context) error {
		return m.engine.SetMaxDeploymentBps(bps)
	})
}

func (m *Machine) SetMinReserve(ctx context.Context, caller crypto.Address, reserve *uint256.Int) error {
	return m.adminStaking(ctx, caller, "set_min_reserve", func(context.Context) error {
		return m.engine.SetMinReserve(reserve)
	})
}

func (m *Machine) SetAutoDeploy(ctx context.Context, caller crypto.Address, enabled bool) error {
	return m.adminStaking(ctx, caller, "set_auto_deploy", func(context.Context) error {
		return m.engine.SetAutoDeploy(enabled)
	})
}

// DeployToYield moves locked principal to the strategy.
func (m *Machine) DeployToYield(ctx context.Context, caller crypto.Address, amount *uint256.Int) (accepted *uint256.Int, err error) {
	err = m.adminStaking(ctx, caller, "deploy", func(ctx context.Context) error {
		var deployErr error
		accepted, deployErr = m.engine.DeployToYield(ctx, amount)
		return deployErr
	})
	return accepted, err
}

// WithdrawFromYield recalls principal from the strategy.
func (m *Machine) WithdrawFromYield(ctx context.Context, caller crypto.Address, amount *uint256.Int) (returned *uint256.Int, err error) {
	err = m.adminStaking(ctx, caller, "withdraw", func(ctx context.Context) error {
		var withdrawErr error
		returned, withdrawErr = m.engine.WithdrawFromYield(ctx, amount)
		return withdrawErr
	})
	return returned, err
}

// CheckDeployment compares tracked shares against the strategy's balance. It
// takes the write lock because a mismatch raises an alert event.
func (m *Machine) CheckDeployment(ctx context.Context) (check staking.DeploymentCheck, err error) {
	ctx, done := m.begin(ctx, nativecommon.ModuleStaking, "check_deployment")
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	return m.engine.CheckDeployment(ctx)
}

func (m *Machine) ReconcileByRedeploy(ctx context.Context, caller crypto.Address) (result staking.ReconcileResult, err error) {
	err = m.adminStaking(ctx, caller, "reconcile_redeploy", func(ctx context.Context) error {
		var reconcileErr error
		result, reconcileErr = m.engine.ReconcileByRedeploy(ctx)
		return reconcileErr
	})
	return result, err
}

func (m *Machine) ResetDeployedShares(ctx context.Context, caller crypto.Address) (result staking.ReconcileResult, err error) {
	err = m.adminStaking(ctx, caller, "reconcile_reset", func(ctx context.Context) error {
		var resetErr error
		result, resetErr = m.engine.ResetDeployedShares(ctx)
		return resetErr
	})
	return result, err
}

// Reconcile runs the named reconciliation mode.
func (m *Machine) Reconcile(ctx context.Context, caller crypto.Address, mode staking.ReconcileMode) (staking.ReconcileResult, error) {
	switch mode {
	case staking.ReconcileRedeploy:
		return m.ReconcileByRedeploy(ctx, caller)
	case staking.ReconcileReset:
		return m.ResetDeployedShares(ctx, caller)
	default:
		return staking.ReconcileResult{}, errUnknownReconcileMode
	}
}
