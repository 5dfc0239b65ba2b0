package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	coreerrors "reflexstake/core/errors"
	"reflexstake/core/events"
	nativecommon "reflexstake/native/common"
	"reflexstake/native/yield"
	"reflexstake/observability"
)

// Strategy returns the configured yield strategy, if any.
func (e *Engine) Strategy() yield.Strategy { return e.strategy }

// SetStrategy points the engine at a new venue. Tracked shares are not
// migrated; a follow-up CheckDeployment reports any resulting mismatch.
func (e *Engine) SetStrategy(strategy yield.Strategy) error {
	if e == nil {
		return errNilEngine
	}
	if strategy == nil {
		e.strategy = nil
		e.emitter.Emit(events.YieldStrategy{})
		return nil
	}
	custody := strategy.Custody()
	if custody.IsZero() || custody == e.account {
		return fmt.Errorf("staking engine: invalid strategy custody %s", custody)
	}
	if !e.ledger.IsExcludedFromFee(custody) {
		return errCustodyNotExempt
	}
	e.strategy = strategy
	e.emitter.Emit(events.YieldStrategy{Custody: custody})
	return nil
}

// SetMaxDeploymentBps bounds deployments to a fraction of total locked
// principal.
func (e *Engine) SetMaxDeploymentBps(bps uint32) error {
	if e == nil {
		return errNilEngine
	}
	if bps > basisPoints {
		return fmt.Errorf("staking engine: max deployment %d bps exceeds %d", bps, basisPoints)
	}
	e.yield.MaxDeploymentBps = bps
	e.emitYieldParams()
	return nil
}

// SetMinReserve sets the local balance that deployments must leave behind.
func (e *Engine) SetMinReserve(reserve *uint256.Int) error {
	if e == nil {
		return errNilEngine
	}
	e.yield.MinReserve = cloneAmount(reserve)
	e.emitYieldParams()
	return nil
}

func (e *Engine) SetAutoDeploy(enabled bool) error {
	if e == nil {
		return errNilEngine
	}
	e.yield.AutoDeploy = enabled
	e.emitYieldParams()
	return nil
}

func (e *Engine) emitYieldParams() {
	e.emitter.Emit(events.YieldParams{
		MaxDeploymentBps: e.yield.MaxDeploymentBps,
		MinReserve:       cloneAmount(e.yield.MinReserve),
		AutoDeploy:       e.yield.AutoDeploy,
	})
}

// YieldState returns a copy of the deployment bookkeeping.
func (e *Engine) YieldState() YieldState { return e.yield.clone() }

// DeploymentCap is MaxDeploymentBps of the current total locked principal.
func (e *Engine) DeploymentCap() *uint256.Int {
	limit, overflow := new(uint256.Int).MulDivOverflow(e.totalLocked, uint256.NewInt(uint64(e.yield.MaxDeploymentBps)), uint256.NewInt(basisPoints))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return limit
}

// Totals summarises locked principal and deployment state.
func (e *Engine) Totals() YieldTotals {
	totals := YieldTotals{
		TotalLocked:      cloneAmount(e.totalLocked),
		LocalBalance:     e.ledger.BalanceOf(e.account),
		DeployedShares:   cloneAmount(e.yield.DeployedShares),
		DeploymentCap:    e.DeploymentCap(),
		MaxDeploymentBps: e.yield.MaxDeploymentBps,
		MinReserve:       cloneAmount(e.yield.MinReserve),
		AutoDeploy:       e.yield.AutoDeploy,
	}
	if e.strategy != nil {
		totals.Custody = e.strategy.Custody()
	}
	return totals
}

// deployable is the most that may be deployed now: the local balance above the
// reserve, bounded by the headroom under the deployment cap.
func (e *Engine) deployable() (*uint256.Int, *uint256.Int) {
	local := e.ledger.BalanceOf(e.account)
	available := new(uint256.Int)
	if local.Gt(e.yield.MinReserve) {
		available.Sub(local, e.yield.MinReserve)
	}
	headroom := new(uint256.Int)
	if limit := e.DeploymentCap(); limit.Gt(e.yield.DeployedShares) {
		headroom.Sub(limit, e.yield.DeployedShares)
	}
	return available, headroom
}

// DeployToYield moves amount of locked principal to the strategy. Deployed
// shares grow by exactly what the strategy accepted.
func (e *Engine) DeployToYield(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if e == nil {
		return nil, errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStaking); err != nil {
		return nil, err
	}
	if invalidAmount(amount) {
		return nil, coreerrors.ErrInvalidAmount
	}
	if e.strategy == nil {
		return nil, coreerrors.ErrStrategyNotConfigured
	}
	available, headroom := e.deployable()
	if amount.Gt(headroom) {
		return nil, fmt.Errorf("%w: %s requested, %s of headroom", coreerrors.ErrDeploymentCapExceeded, amount.Dec(), headroom.Dec())
	}
	if amount.Gt(available) {
		return nil, fmt.Errorf("%w: %s requested, %s above reserve", coreerrors.ErrInsufficientBalance, amount.Dec(), available.Dec())
	}
	accepted, err := e.deploy(ctx, amount)
	e.publishTotals()
	return accepted, err
}

func (e *Engine) autoDeploy(ctx context.Context) (*uint256.Int, error) {
	available, headroom := e.deployable()
	amount := minAmount(available, headroom)
	if amount.IsZero() {
		return new(uint256.Int), nil
	}
	return e.deploy(ctx, amount)
}

// ledgerOpen fails while token movement is paused. Every strategy call checks
// it first so a venue side effect never commits without its custody transfer.
func (e *Engine) ledgerOpen() error {
	return nativecommon.Guard(e.pauses, nativecommon.ModuleLedger)
}

func (e *Engine) deploy(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.ledgerOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	accepted, err := e.strategy.Deposit(ctx, amount)
	if err == nil && accepted == nil {
		err = errors.New("strategy returned no amount")
	}
	observability.Staking().ObserveAdapter("deposit", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: deposit %s: %v", coreerrors.ErrAdapterCallFailed, amount.Dec(), err)
	}
	if accepted.Gt(amount) {
		return nil, fmt.Errorf("%w: deposit accepted %s of %s: %v", coreerrors.ErrAdapterCallFailed, accepted.Dec(), amount.Dec(), errAdapterOverReports)
	}
	if accepted.IsZero() {
		return accepted, nil
	}
	custody := e.strategy.Custody()
	if _, err := e.ledger.Transfer(e.account, custody, accepted); err != nil {
		e.logger.Error("strategy accepted deposit but custody transfer failed",
			slog.Bool("alert", true),
			slog.String("accepted", accepted.Dec()),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("staking engine: custody transfer of %s: %w", accepted.Dec(), err)
	}
	e.yield.DeployedShares.Add(e.yield.DeployedShares, accepted)
	e.emitter.Emit(events.YieldDeployed{
		Requested: new(uint256.Int).Set(amount),
		Accepted:  cloneAmount(accepted),
		Deployed:  cloneAmount(e.yield.DeployedShares),
		Custody:   custody,
	})
	return accepted, nil
}

// WithdrawFromYield recalls amount from the strategy. Requests above the
// tracked shares fail without calling the strategy.
func (e *Engine) WithdrawFromYield(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if e == nil {
		return nil, errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStaking); err != nil {
		return nil, err
	}
	if invalidAmount(amount) {
		return nil, coreerrors.ErrInvalidAmount
	}
	if e.strategy == nil {
		return nil, coreerrors.ErrStrategyNotConfigured
	}
	if amount.Gt(e.yield.DeployedShares) {
		return nil, fmt.Errorf("%w: %s requested, %s deployed", coreerrors.ErrInsufficientBalance, amount.Dec(), e.yield.DeployedShares.Dec())
	}
	returned, err := e.recall(ctx, amount)
	e.publishTotals()
	return returned, err
}

// recall withdraws up to amount and decrements deployed shares by exactly what
// came back. amount never exceeds the tracked shares.
func (e *Engine) recall(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.ledgerOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	returned, err := e.strategy.Withdraw(ctx, amount)
	if err == nil && returned == nil {
		err = errors.New("strategy returned no amount")
	}
	observability.Staking().ObserveAdapter("withdraw", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: withdraw %s: %v", coreerrors.ErrAdapterCallFailed, amount.Dec(), err)
	}
	if returned.Gt(amount) {
		return nil, fmt.Errorf("%w: withdraw returned %s of %s: %v", coreerrors.ErrAdapterCallFailed, returned.Dec(), amount.Dec(), errAdapterOverReports)
	}
	if returned.IsZero() {
		return returned, nil
	}
	custody := e.strategy.Custody()
	if _, err := e.ledger.Transfer(custody, e.account, returned); err != nil {
		e.alertMismatch("custody could not return recalled principal", returned, nil)
		return nil, fmt.Errorf("%w: custody return of %s: %v", coreerrors.ErrDeployedSharesMismatch, returned.Dec(), err)
	}
	e.yield.DeployedShares.Sub(e.yield.DeployedShares, returned)
	e.emitter.Emit(events.YieldWithdrawn{
		Requested: new(uint256.Int).Set(amount),
		Returned:  cloneAmount(returned),
		Deployed:  cloneAmount(e.yield.DeployedShares),
	})
	return returned, nil
}

func (e *Engine) strategyBalance(ctx context.Context) (*uint256.Int, error) {
	start := time.Now()
	balance, err := e.strategy.CurrentBalance(ctx)
	if err == nil && balance == nil {
		err = errors.New("strategy returned no balance")
	}
	observability.Staking().ObserveAdapter("balance", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: balance: %v", coreerrors.ErrAdapterCallFailed, err)
	}
	return balance, nil
}

// CheckDeployment verifies the strategy holds at least the tracked shares.
// A shortfall is an operator alert and returns ErrDeployedSharesMismatch.
func (e *Engine) CheckDeployment(ctx context.Context) (DeploymentCheck, error) {
	if e == nil {
		return DeploymentCheck{}, errNilEngine
	}
	if e.strategy == nil {
		return DeploymentCheck{}, coreerrors.ErrStrategyNotConfigured
	}
	balance, err := e.strategyBalance(ctx)
	if err != nil {
		return DeploymentCheck{}, err
	}
	check := DeploymentCheck{
		DeployedShares:  cloneAmount(e.yield.DeployedShares),
		StrategyBalance: balance,
		Healthy:         !e.yield.DeployedShares.Gt(balance),
	}
	if !check.Healthy {
		e.alertMismatch("deployed shares exceed strategy balance", e.yield.DeployedShares, balance)
		return check, fmt.Errorf("%w: tracked %s, strategy holds %s", coreerrors.ErrDeployedSharesMismatch, check.DeployedShares.Dec(), balance.Dec())
	}
	return check, nil
}

func (e *Engine) alertMismatch(msg string, deployed, balance *uint256.Int) {
	var custodyStr string
	custody := e.strategy.Custody()
	if !custody.IsZero() {
		custodyStr = custody.String()
	}
	balanceStr := "unknown"
	if balance != nil {
		balanceStr = balance.Dec()
	}
	e.logger.Error(msg,
		slog.Bool("alert", true),
		slog.String("deployed", deployed.Dec()),
		slog.String("strategyBalance", balanceStr),
		slog.String("custody", custodyStr))
	observability.Staking().RecordMismatch()
	e.emitter.Emit(events.YieldMismatch{Deployed: cloneAmount(deployed), StrategyBalance: cloneAmount(balance), Custody: custody})
}

// ReconcileByRedeploy deposits fresh principal so the strategy again holds the
// tracked shares. Tracked shares do not change. A short acceptance leaves the
// mismatch in place and is reported.
func (e *Engine) ReconcileByRedeploy(ctx context.Context) (ReconcileResult, error) {
	if e == nil {
		return ReconcileResult{}, errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStaking); err != nil {
		return ReconcileResult{}, err
	}
	if e.strategy == nil {
		return ReconcileResult{}, coreerrors.ErrStrategyNotConfigured
	}
	balance, err := e.strategyBalance(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{
		Mode:            ReconcileRedeploy,
		DeployedBefore:  cloneAmount(e.yield.DeployedShares),
		DeployedAfter:   cloneAmount(e.yield.DeployedShares),
		StrategyBalance: balance,
		Deposited:       new(uint256.Int),
	}
	if !e.yield.DeployedShares.Gt(balance) {
		return result, nil
	}
	gap := new(uint256.Int).Sub(e.yield.DeployedShares, balance)
	if err := e.ledgerOpen(); err != nil {
		return result, err
	}
	if local := e.ledger.BalanceOf(e.account); local.Lt(gap) {
		return result, fmt.Errorf("%w: gap %s exceeds local balance %s", coreerrors.ErrInsufficientBalance, gap.Dec(), local.Dec())
	}
	start := time.Now()
	accepted, err := e.strategy.Deposit(ctx, gap)
	if err == nil && accepted == nil {
		err = errors.New("strategy returned no amount")
	}
	observability.Staking().ObserveAdapter("deposit", time.Since(start), err)
	if err != nil {
		return result, fmt.Errorf("%w: redeploy %s: %v", coreerrors.ErrAdapterCallFailed, gap.Dec(), err)
	}
	if accepted.Gt(gap) {
		return result, fmt.Errorf("%w: redeploy accepted %s of %s: %v", coreerrors.ErrAdapterCallFailed, accepted.Dec(), gap.Dec(), errAdapterOverReports)
	}
	if !accepted.IsZero() {
		if _, err := e.ledger.Transfer(e.account, e.strategy.Custody(), accepted); err != nil {
			return result, fmt.Errorf("staking engine: custody transfer of %s: %w", accepted.Dec(), err)
		}
	}
	result.Deposited = accepted
	result.StrategyBalance = new(uint256.Int).Add(balance, accepted)
	observability.Staking().RecordReconciliation(string(ReconcileRedeploy))
	e.emitReconciled(result)
	e.publishTotals()
	if accepted.Lt(gap) {
		return result, fmt.Errorf("%w: strategy accepted %s of %s gap", coreerrors.ErrDeployedSharesMismatch, accepted.Dec(), gap.Dec())
	}
	return result, nil
}

// ResetDeployedShares administratively sets tracked shares to the strategy's
// reported balance.
func (e *Engine) ResetDeployedShares(ctx context.Context) (ReconcileResult, error) {
	if e == nil {
		return ReconcileResult{}, errNilEngine
	}
	if e.strategy == nil {
		return ReconcileResult{}, coreerrors.ErrStrategyNotConfigured
	}
	balance, err := e.strategyBalance(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{
		Mode:            ReconcileReset,
		DeployedBefore:  cloneAmount(e.yield.DeployedShares),
		DeployedAfter:   cloneAmount(balance),
		StrategyBalance: cloneAmount(balance),
		Deposited:       new(uint256.Int),
	}
	e.yield.DeployedShares = cloneAmount(balance)
	e.logger.Warn("deployed shares reset to strategy balance",
		slog.String("before", result.DeployedBefore.Dec()),
		slog.String("after", result.DeployedAfter.Dec()))
	observability.Staking().RecordReconciliation(string(ReconcileReset))
	e.emitReconciled(result)
	e.publishTotals()
	return result, nil
}

func (e *Engine) emitReconciled(result ReconcileResult) {
	e.emitter.Emit(events.YieldReconciled{
		Mode:            string(result.Mode),
		DeployedBefore:  cloneAmount(result.DeployedBefore),
		DeployedAfter:   cloneAmount(result.DeployedAfter),
		StrategyBalance: cloneAmount(result.StrategyBalance),
	})
}
