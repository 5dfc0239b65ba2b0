package core

import (
	"context"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"

	"reflexstake/crypto"
	nativecommon "reflexstake/native/common"
	"reflexstake/native/reflection"
	"reflexstake/observability"
)

// Transfer moves amount from the sender to the recipient, charging the current
// fee schedule unless either side is fee-exempt.
func (m *Machine) Transfer(ctx context.Context, from, to crypto.Address, amount *uint256.Int) (res reflection.TransferResult, err error) {
	_, done := m.begin(ctx, nativecommon.ModuleLedger, "transfer")
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err = m.ledger.Transfer(from, to, amount)
	if err == nil && res.Fee != nil && !res.Fee.IsZero() {
		m.recordFee()
	}
	return res, err
}

func (m *Machine) recordFee() {
	observability.Ledger().RecordFee()
}

// SetExcludedFromReward moves an account in or out of the reward set without
// changing its balance.
func (m *Machine) SetExcludedFromReward(ctx context.Context, caller, addr crypto.Address, excluded bool) (err error) {
	_, done := m.begin(ctx, nativecommon.ModuleLedger, "set_reward_exclusion", attribute.Bool("excluded", excluded))
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.authorize(caller); err != nil {
		return err
	}
	return m.ledger.SetExcludedFromReward(addr, excluded)
}

// SetExcludedFromFee toggles an account's fee exemption.
func (m *Machine) SetExcludedFromFee(ctx context.Context, caller, addr crypto.Address, excluded bool) (err error) {
	_, done := m.begin(ctx, nativecommon.ModuleLedger, "set_fee_exemption", attribute.Bool("excluded", excluded))
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.authorize(caller); err != nil {
		return err
	}
	return m.ledger.SetExcludedFromFee(addr, excluded)
}

// SetFeeSchedule replaces the fee schedule for subsequent transfers.
func (m *Machine) SetFeeSchedule(ctx context.Context, caller crypto.Address, schedule reflection.FeeSchedule) (err error) {
	_, done := m.begin(ctx, nativecommon.ModuleLedger, "set_fee_schedule")
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.authorize(caller); err != nil {
		return err
	}
	return m.ledger.SetFeeSchedule(schedule)
}

// SetMaxTransferAmount sets the per-transfer cap; nil or zero disables it.
func (m *Machine) SetMaxTransferAmount(ctx context.Context, caller crypto.Address, limit *uint256.Int) (err error) {
	_, done := m.begin(ctx, nativecommon.ModuleLedger, "set_transfer_cap")
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.authorize(caller); err != nil {
		return err
	}
	m.ledger.SetMaxTransferAmount(limit)
	return nil
}

// BalanceOf returns an account's effective balance.
func (m *Machine) BalanceOf(addr crypto.Address) *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.BalanceOf(addr)
}

// Account returns an account's stored representation with its balance.
func (m *Machine) Account(addr crypto.Address) reflection.AccountView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Account(addr)
}

// LedgerSummary is a point-in-time view of the ledger globals.
type LedgerSummary struct {
	TotalSupply     *uint256.Int
	Rate            *uint256.Int
	ReflectedSupply *uint256.Int
	SumExcludedTrue *uint256.Int
	MaxTransfer     *uint256.Int
	Fees            reflection.FeeSchedule
}

// Ledger summarises the ledger globals under one read lock.
func (m *Machine) Ledger() LedgerSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return LedgerSummary{
		TotalSupply:     m.ledger.TotalSupply(),
		Rate:            m.ledger.Rate(),
		ReflectedSupply: m.ledger.ReflectedSupply(),
		SumExcludedTrue: m.ledger.SumExcludedTrue(),
		MaxTransfer:     m.ledger.MaxTransferAmount(),
		Fees:            m.ledger.FeeSchedule(),
	}
}

// Audit runs the conservation check over every account.
func (m *Machine) Audit() reflection.AuditReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Audit()
}
