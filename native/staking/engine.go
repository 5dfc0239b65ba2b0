package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	coreerrors "reflexstake/core/errors"
	"reflexstake/core/events"
	"reflexstake/crypto"
	nativecommon "reflexstake/native/common"
	"reflexstake/native/oracle"
	"reflexstake/native/reflection"
	"reflexstake/native/yield"
	"reflexstake/observability"
)

// ErrNoStake is returned for owners that have never staked.
var ErrNoStake = errors.New("staking engine: no stake record")

var (
	errNilEngine          = errors.New("staking engine: not initialised")
	errZeroOwner          = errors.New("staking engine: owner required")
	errSelfStake          = errors.New("staking engine: engine account cannot stake")
	errEngineNotExempt    = errors.New("staking engine: engine account must be fee-exempt")
	errCustodyNotExempt   = errors.New("staking engine: strategy custody must be fee-exempt")
	errNilLedger          = errors.New("staking engine: ledger not configured")
	errNilPrices          = errors.New("staking engine: price source not configured")
	errAdapterOverReports = errors.New("staking engine: adapter reported more than requested")
)

const (
	basisPoints = 10_000
	// maxDecimals keeps 10^(token+price decimals) within 256 bits.
	maxDecimals = 38
)

var wad = uint256.NewInt(1_000_000_000_000_000_000)

// Ledger is the slice of the reflective ledger the engine moves tokens through.
type Ledger interface {
	Transfer(from, to crypto.Address, amount *uint256.Int) (reflection.TransferResult, error)
	BalanceOf(addr crypto.Address) *uint256.Int
	IsExcludedFromFee(addr crypto.Address) bool
}

// PriceSource yields USD prices for tier resolution.
type PriceSource interface {
	Price(ctx context.Context) (oracle.Snapshot, error)
}

// Engine tracks locked principal, tier eligibility and yield deployment. It
// holds no lock of its own; core.Machine serialises access.
type Engine struct {
	account       crypto.Address
	ledger        Ledger
	prices        PriceSource
	strategy      yield.Strategy
	clock         clockwork.Clock
	logger        *slog.Logger
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	tokenDecimals uint8
	minLock       time.Duration
	lockOverride  *time.Duration
	tiers         []Tier
	stakes        map[crypto.Address]*StakeRecord
	totalLocked   *uint256.Int
	yield         YieldState
}

// NewEngine constructs an engine whose principal is held by account on the
// ledger. The account must already be fee-exempt.
func NewEngine(account crypto.Address, ledger Ledger, prices PriceSource, params Params) (*Engine, error) {
	if ledger == nil {
		return nil, errNilLedger
	}
	if prices == nil {
		return nil, errNilPrices
	}
	if account.IsZero() {
		return nil, fmt.Errorf("staking engine: account required")
	}
	if !ledger.IsExcludedFromFee(account) {
		return nil, errEngineNotExempt
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var override *time.Duration
	if params.LockOverride != nil {
		d := *params.LockOverride
		override = &d
	}
	return &Engine{
		account:       account,
		ledger:        ledger,
		prices:        prices,
		clock:         clockwork.NewRealClock(),
		logger:        slog.Default(),
		emitter:       events.NoopEmitter{},
		tokenDecimals: params.TokenDecimals,
		minLock:       params.MinLockDuration,
		lockOverride:  override,
		stakes:        make(map[crypto.Address]*StakeRecord),
		totalLocked:   new(uint256.Int),
		yield: YieldState{
			DeployedShares:   new(uint256.Int),
			MaxDeploymentBps: params.MaxDeploymentBps,
			MinReserve:       cloneAmount(params.MinReserve),
			AutoDeploy:       params.AutoDeploy,
		},
	}, nil
}

func (e *Engine) SetClock(clock clockwork.Clock) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Account returns the ledger account holding locked principal.
func (e *Engine) Account() crypto.Address { return e.account }

// Stake locks amount from owner. The transfer into the engine is fee-free, the
// advisory tier is refreshed and, when enabled, a bounded fraction of the local
// balance is deployed to the strategy.
func (e *Engine) Stake(ctx context.Context, owner crypto.Address, amount *uint256.Int) (StakeResult, error) {
	if e == nil || e.ledger == nil {
		return StakeResult{}, errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStaking); err != nil {
		return StakeResult{}, err
	}
	if invalidAmount(amount) {
		return StakeResult{}, coreerrors.ErrInvalidAmount
	}
	if owner.IsZero() {
		return StakeResult{}, errZeroOwner
	}
	if owner == e.account {
		return StakeResult{}, errSelfStake
	}

	record := e.record(owner)
	principal, overflow := new(uint256.Int).AddOverflow(record.Principal, amount)
	if overflow {
		return StakeResult{}, fmt.Errorf("%w: principal", coreerrors.ErrArithmeticOverflow)
	}
	total, overflow := new(uint256.Int).AddOverflow(e.totalLocked, amount)
	if overflow {
		return StakeResult{}, fmt.Errorf("%w: total locked", coreerrors.ErrArithmeticOverflow)
	}
	if _, err := e.ledger.Transfer(owner, e.account, amount); err != nil {
		return StakeResult{}, err
	}

	now := e.clock.Now()
	record.Principal = principal
	record.LastLockTime = now
	if record.FirstLockTime.IsZero() {
		record.FirstLockTime = now
	}
	e.stakes[owner] = record
	e.totalLocked = total
	e.emitter.Emit(events.Staked{Owner: owner, Amount: new(uint256.Int).Set(amount), Principal: cloneAmount(principal), LockedAt: now})

	result := StakeResult{Deployed: new(uint256.Int)}
	result.TierErr = e.refreshTier(ctx, record)
	if e.yield.AutoDeploy && e.strategy != nil {
		deployed, err := e.autoDeploy(ctx)
		if err != nil {
			e.logger.Warn("auto-deploy after stake failed",
				slog.String("operation", "stake"),
				slog.String("owner", owner.String()),
				slog.String("error", err.Error()))
			result.DeployErr = err
		} else {
			result.Deployed = deployed
		}
	}
	e.publishTotals()
	result.Record = record.Clone()
	return result, nil
}

// Unstake releases amount of owner's principal once the lock duration has
// elapsed. When the local balance is short the gap is recalled from the
// strategy first; if local plus recallable value cannot cover the amount the
// call fails before touching the strategy.
func (e *Engine) Unstake(ctx context.Context, owner crypto.Address, amount *uint256.Int) (UnstakeResult, error) {
	if e == nil || e.ledger == nil {
		return UnstakeResult{}, errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStaking); err != nil {
		return UnstakeResult{}, err
	}
	if err := e.ledgerOpen(); err != nil {
		return UnstakeResult{}, err
	}
	if invalidAmount(amount) {
		return UnstakeResult{}, coreerrors.ErrInvalidAmount
	}
	existing, ok := e.stakes[owner]
	if !ok {
		return UnstakeResult{}, fmt.Errorf("%w: %v", coreerrors.ErrInsufficientBalance, ErrNoStake)
	}
	if amount.Gt(existing.Principal) {
		return UnstakeResult{}, fmt.Errorf("%w: principal %s below %s", coreerrors.ErrInsufficientBalance, existing.Principal.Dec(), amount.Dec())
	}
	now := e.clock.Now()
	required := e.effectiveLock()
	if elapsed := now.Sub(existing.LastLockTime); elapsed < required {
		return UnstakeResult{}, fmt.Errorf("%w: %s remaining", coreerrors.ErrLockDurationNotMet, required-elapsed)
	}

	recalled := new(uint256.Int)
	local := e.ledger.BalanceOf(e.account)
	if local.Lt(amount) {
		shortfall := new(uint256.Int).Sub(amount, local)
		if err := e.checkRecoverable(ctx, local, amount); err != nil {
			return UnstakeResult{}, err
		}
		returned, err := e.recall(ctx, shortfall)
		if err != nil {
			return UnstakeResult{}, err
		}
		recalled = returned
		if local = e.ledger.BalanceOf(e.account); local.Lt(amount) {
			e.publishTotals()
			return UnstakeResult{Recalled: recalled}, fmt.Errorf("%w: partial recall of %s left %s available for %s",
				coreerrors.ErrInsufficientBalance, recalled.Dec(), local.Dec(), amount.Dec())
		}
	}
	if _, err := e.ledger.Transfer(e.account, owner, amount); err != nil {
		e.publishTotals()
		return UnstakeResult{Recalled: recalled}, err
	}

	record := existing.Clone()
	record.Principal.Sub(record.Principal, amount)
	e.stakes[owner] = &record
	e.totalLocked.Sub(e.totalLocked, amount)
	e.emitter.Emit(events.Unstaked{Owner: owner, Amount: new(uint256.Int).Set(amount), Principal: cloneAmount(record.Principal), Recalled: cloneAmount(recalled)})

	result := UnstakeResult{Recalled: recalled}
	result.TierErr = e.refreshTier(ctx, &record)
	e.publishTotals()
	result.Record = record.Clone()
	return result, nil
}

// checkRecoverable fails when local plus what the strategy can still return
// falls short of amount.
func (e *Engine) checkRecoverable(ctx context.Context, local, amount *uint256.Int) error {
	if e.strategy == nil || e.yield.DeployedShares.IsZero() {
		return fmt.Errorf("%w: engine holds %s of %s", coreerrors.ErrInsufficientBalance, local.Dec(), amount.Dec())
	}
	balance, err := e.strategyBalance(ctx)
	if err != nil {
		return err
	}
	recallable := minAmount(e.yield.DeployedShares, balance)
	recoverable, overflow := new(uint256.Int).AddOverflow(local, recallable)
	if overflow {
		return fmt.Errorf("%w: recoverable balance", coreerrors.ErrArithmeticOverflow)
	}
	if recoverable.Lt(amount) {
		return fmt.Errorf("%w: recoverable %s below %s", coreerrors.ErrInsufficientBalance, recoverable.Dec(), amount.Dec())
	}
	return nil
}

func (e *Engine) record(owner crypto.Address) *StakeRecord {
	if existing, ok := e.stakes[owner]; ok {
		clone := existing.Clone()
		return &clone
	}
	return newRecord(owner)
}

func (e *Engine) effectiveLock() time.Duration {
	if e.lockOverride != nil {
		return *e.lockOverride
	}
	return e.minLock
}

// StakeOf returns a copy of owner's record.
func (e *Engine) StakeOf(owner crypto.Address) (StakeRecord, bool) {
	if e == nil {
		return StakeRecord{}, false
	}
	record, ok := e.stakes[owner]
	if !ok {
		return StakeRecord{}, false
	}
	return record.Clone(), true
}

// TotalLocked returns the sum of all principal.
func (e *Engine) TotalLocked() *uint256.Int { return cloneAmount(e.totalLocked) }

// UnlockTime reports when owner may next unstake under the current policy.
func (e *Engine) UnlockTime(owner crypto.Address) (time.Time, bool) {
	record, ok := e.stakes[owner]
	if !ok {
		return time.Time{}, false
	}
	return record.LastLockTime.Add(e.effectiveLock()), true
}

// SetMinLockDuration updates the minimum time between the last lock and an
// unstake.
func (e *Engine) SetMinLockDuration(d time.Duration) error {
	if e == nil {
		return errNilEngine
	}
	if d < 0 {
		return fmt.Errorf("staking engine: min lock duration must not be negative")
	}
	e.minLock = d
	e.emitLockPolicy()
	return nil
}

// SetLockOverride installs an override for the lock duration. A zero override
// permits immediate unstaking; nil clears it.
func (e *Engine) SetLockOverride(override *time.Duration) error {
	if e == nil {
		return errNilEngine
	}
	if override == nil {
		e.lockOverride = nil
	} else {
		if *override < 0 {
			return fmt.Errorf("staking engine: lock override must not be negative")
		}
		d := *override
		e.lockOverride = &d
	}
	e.emitLockPolicy()
	return nil
}

// LockPolicy returns the minimum lock duration and the active override.
func (e *Engine) LockPolicy() (time.Duration, *time.Duration) {
	if e.lockOverride == nil {
		return e.minLock, nil
	}
	d := *e.lockOverride
	return e.minLock, &d
}

func (e *Engine) emitLockPolicy() {
	minLock, override := e.LockPolicy()
	e.emitter.Emit(events.LockPolicy{MinLockDuration: minLock, Override: override})
}

func (e *Engine) publishTotals() {
	observability.Staking().SetTotals(e.totalLocked.ToBig(), e.yield.DeployedShares.ToBig())
}
