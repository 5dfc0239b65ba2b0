package genesis

import (
	"fmt"

	"reflexstake/crypto"
	"reflexstake/native/reflection"
	"reflexstake/native/staking"
)

// BuildGenesisFromSpec materialises the ledger and staking engine described by
// spec. Module accounts are made fee-exempt and excluded from rewards before
// any allocation so engine-held principal never accrues reflections. The fee
// schedule is installed after allocations, which are therefore fee-free.
func BuildGenesisFromSpec(spec *GenesisSpec, prices staking.PriceSource) (*reflection.Ledger, *staking.Engine, error) {
	if spec == nil {
		return nil, nil, fmt.Errorf("genesis spec must not be nil")
	}
	if spec.totalSupply == nil {
		if err := spec.validate(); err != nil {
			return nil, nil, err
		}
	}
	ledger, err := reflection.NewLedger(spec.totalSupply, spec.holder)
	if err != nil {
		return nil, nil, fmt.Errorf("genesis ledger: %w", err)
	}

	modules := []crypto.Address{spec.Staking.account}
	if !spec.Staking.custody.IsZero() {
		modules = append(modules, spec.Staking.custody)
	}
	for _, addr := range modules {
		if err := ledger.SetExcludedFromFee(addr, true); err != nil {
			return nil, nil, fmt.Errorf("genesis module %s: %w", addr, err)
		}
		if err := ledger.SetExcludedFromReward(addr, true); err != nil {
			return nil, nil, fmt.Errorf("genesis module %s: %w", addr, err)
		}
	}
	for _, addr := range spec.feeExempt {
		if err := ledger.SetExcludedFromFee(addr, true); err != nil {
			return nil, nil, fmt.Errorf("genesis fee exemption %s: %w", addr, err)
		}
	}
	for _, addr := range spec.rewardless {
		if ledger.IsExcludedFromReward(addr) {
			continue
		}
		if err := ledger.SetExcludedFromReward(addr, true); err != nil {
			return nil, nil, fmt.Errorf("genesis reward exclusion %s: %w", addr, err)
		}
	}
	for i, alloc := range spec.Allocations {
		if _, err := ledger.Transfer(spec.holder, alloc.address, alloc.amount); err != nil {
			return nil, nil, fmt.Errorf("genesis allocation[%d]: %w", i, err)
		}
	}
	if len(spec.schedule.Components) > 0 {
		if err := ledger.SetFeeSchedule(spec.schedule); err != nil {
			return nil, nil, fmt.Errorf("genesis fees: %w", err)
		}
	}
	ledger.SetMaxTransferAmount(spec.maxTransfer)

	engine, err := staking.NewEngine(spec.Staking.account, ledger, prices, spec.Staking.params)
	if err != nil {
		return nil, nil, fmt.Errorf("genesis staking: %w", err)
	}
	for i, tier := range spec.Staking.tiers {
		if _, err := engine.AddTier(tier); err != nil {
			return nil, nil, fmt.Errorf("genesis tier[%d]: %w", i, err)
		}
	}
	return ledger, engine, nil
}
