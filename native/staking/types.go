package staking

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"reflexstake/crypto"
	"reflexstake/native/oracle"
)

// NoTier marks a record or resolution without a qualifying tier.
const NoTier = -1

// StakeRecord tracks the locked principal of one owner. Records survive a zero
// principal so FirstLockTime keeps its history.
type StakeRecord struct {
	Owner                 crypto.Address
	Principal             *uint256.Int
	FirstLockTime         time.Time
	LastLockTime          time.Time
	TierIndexAtLastUpdate int
}

func newRecord(owner crypto.Address) *StakeRecord {
	return &StakeRecord{Owner: owner, Principal: new(uint256.Int), TierIndexAtLastUpdate: NoTier}
}

// Clone returns a deep copy of the record.
func (r StakeRecord) Clone() StakeRecord {
	out := r
	out.Principal = new(uint256.Int)
	if r.Principal != nil {
		out.Principal.Set(r.Principal)
	}
	return out
}

// Tier is an access level unlocked once the USD value of locked principal,
// scaled by 1e18, reaches USDThreshold.
type Tier struct {
	USDThreshold *uint256.Int
	Label        string
}

func (t Tier) clone() Tier {
	out := Tier{Label: t.Label}
	if t.USDThreshold != nil {
		out.USDThreshold = new(uint256.Int).Set(t.USDThreshold)
	}
	return out
}

// YieldState is the engine's bookkeeping of principal deployed to the strategy.
type YieldState struct {
	DeployedShares   *uint256.Int
	MaxDeploymentBps uint32
	MinReserve       *uint256.Int
	AutoDeploy       bool
}

func (y YieldState) clone() YieldState {
	out := YieldState{MaxDeploymentBps: y.MaxDeploymentBps, AutoDeploy: y.AutoDeploy}
	out.DeployedShares = cloneAmount(y.DeployedShares)
	out.MinReserve = cloneAmount(y.MinReserve)
	return out
}

// Params are the construction-time knobs of the engine.
type Params struct {
	TokenDecimals    uint8
	MinLockDuration  time.Duration
	LockOverride     *time.Duration
	MaxDeploymentBps uint32
	MinReserve       *uint256.Int
	AutoDeploy       bool
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	if p.MinLockDuration < 0 {
		return fmt.Errorf("staking: min lock duration must not be negative")
	}
	if p.LockOverride != nil && *p.LockOverride < 0 {
		return fmt.Errorf("staking: lock override must not be negative")
	}
	if p.MaxDeploymentBps > basisPoints {
		return fmt.Errorf("staking: max deployment %d bps exceeds %d", p.MaxDeploymentBps, basisPoints)
	}
	if p.TokenDecimals > maxDecimals {
		return fmt.Errorf("staking: token decimals %d exceed %d", p.TokenDecimals, maxDecimals)
	}
	return nil
}

// StakeResult reports a committed stake. DeployErr carries a failed
// best-effort auto-deployment; the stake itself stands.
type StakeResult struct {
	Record    StakeRecord
	Deployed  *uint256.Int
	DeployErr error
	TierErr   error
}

// UnstakeResult reports a committed unstake.
type UnstakeResult struct {
	Record   StakeRecord
	Recalled *uint256.Int
	TierErr  error
}

// TierResolution is the outcome of a fresh tier query.
type TierResolution struct {
	Index    int
	Label    string
	USDValue *uint256.Int
	Price    oracle.Snapshot
}

// YieldTotals summarises the deployment state for queries.
type YieldTotals struct {
	TotalLocked      *uint256.Int
	LocalBalance     *uint256.Int
	DeployedShares   *uint256.Int
	DeploymentCap    *uint256.Int
	MaxDeploymentBps uint32
	MinReserve       *uint256.Int
	AutoDeploy       bool
	Custody          crypto.Address
}

// DeploymentCheck compares tracked shares against the strategy balance.
type DeploymentCheck struct {
	DeployedShares  *uint256.Int
	StrategyBalance *uint256.Int
	Healthy         bool
}

// ReconcileMode names the explicit reconciliation strategies.
type ReconcileMode string

const (
	ReconcileRedeploy ReconcileMode = "redeploy"
	ReconcileReset    ReconcileMode = "reset"
)

// ReconcileResult reports an explicit reconciliation.
type ReconcileResult struct {
	Mode            ReconcileMode
	DeployedBefore  *uint256.Int
	DeployedAfter   *uint256.Int
	StrategyBalance *uint256.Int
	Deposited       *uint256.Int
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func minAmount(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

func invalidAmount(amount *uint256.Int) bool {
	return amount == nil || amount.IsZero()
}

