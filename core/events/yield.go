package events

import (
	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

const (
	// TypeYieldDeployed is emitted when principal moves to the strategy.
	TypeYieldDeployed = "yield.deployed"
	// TypeYieldWithdrawn is emitted when the strategy returns principal.
	TypeYieldWithdrawn = "yield.withdrawn"
	// TypeYieldMismatch signals deployed shares exceeding the strategy balance.
	TypeYieldMismatch = "yield.mismatch"
	// TypeYieldReconciled is emitted after an explicit reconciliation.
	TypeYieldReconciled = "yield.reconciled"
	// TypeYieldStrategy is emitted when the strategy target is reassigned.
	TypeYieldStrategy = "yield.strategy"
	// TypeYieldParams is emitted when deployment parameters change.
	TypeYieldParams = "yield.params"
)

type YieldDeployed struct {
	Requested *uint256.Int
	Accepted  *uint256.Int
	Deployed  *uint256.Int
	Custody   crypto.Address
}

func (YieldDeployed) EventType() string { return TypeYieldDeployed }

func (e YieldDeployed) Event() Envelope {
	return Envelope{Type: TypeYieldDeployed, Attributes: map[string]string{
		"requested": formatAmount(e.Requested),
		"accepted":  formatAmount(e.Accepted),
		"deployed":  formatAmount(e.Deployed),
		"custody":   formatAddress(e.Custody),
	}}
}

type YieldWithdrawn struct {
	Requested *uint256.Int
	Returned  *uint256.Int
	Deployed  *uint256.Int
}

func (YieldWithdrawn) EventType() string { return TypeYieldWithdrawn }

func (e YieldWithdrawn) Event() Envelope {
	return Envelope{Type: TypeYieldWithdrawn, Attributes: map[string]string{
		"requested": formatAmount(e.Requested),
		"returned":  formatAmount(e.Returned),
		"deployed":  formatAmount(e.Deployed),
	}}
}

type YieldMismatch struct {
	Deployed        *uint256.Int
	StrategyBalance *uint256.Int
	Custody         crypto.Address
}

func (YieldMismatch) EventType() string { return TypeYieldMismatch }

func (e YieldMismatch) Event() Envelope {
	return Envelope{Type: TypeYieldMismatch, Attributes: map[string]string{
		"deployed":        formatAmount(e.Deployed),
		"strategyBalance": formatAmount(e.StrategyBalance),
		"custody":         formatAddress(e.Custody),
	}}
}

type YieldReconciled struct {
	Mode            string
	DeployedBefore  *uint256.Int
	DeployedAfter   *uint256.Int
	StrategyBalance *uint256.Int
}

func (YieldReconciled) EventType() string { return TypeYieldReconciled }

func (e YieldReconciled) Event() Envelope {
	return Envelope{Type: TypeYieldReconciled, Attributes: map[string]string{
		"mode":            e.Mode,
		"deployedBefore":  formatAmount(e.DeployedBefore),
		"deployedAfter":   formatAmount(e.DeployedAfter),
		"strategyBalance": formatAmount(e.StrategyBalance),
	}}
}

type YieldStrategy struct {
	Custody crypto.Address
}

func (YieldStrategy) EventType() string { return TypeYieldStrategy }

func (e YieldStrategy) Event() Envelope {
	return Envelope{Type: TypeYieldStrategy, Attributes: map[string]string{
		"custody": formatAddress(e.Custody),
	}}
}

type YieldParams struct {
	MaxDeploymentBps uint32
	MinReserve       *uint256.Int
	AutoDeploy       bool
}

func (YieldParams) EventType() string { return TypeYieldParams }

func (e YieldParams) Event() Envelope {
	return Envelope{Type: TypeYieldParams, Attributes: map[string]string{
		"maxDeploymentBps": formatAmount(uint256.NewInt(uint64(e.MaxDeploymentBps))),
		"minReserve":       formatAmount(e.MinReserve),
		"autoDeploy":       formatBool(e.AutoDeploy),
	}}
}
