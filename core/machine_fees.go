package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"

	"reflexstake/core/events"
	"reflexstake/crypto"
	nativecommon "reflexstake/native/common"
)

var (
	errNoConverter          = errors.New("machine: fee converter not configured")
	errConverterNotExempt   = errors.New("machine: converter account must be fee-exempt")
	errUnknownSink          = errors.New("machine: account is not a fee sink")
	errUnknownReconcileMode = errors.New("machine: unknown reconcile mode")
)

// FeeConverter is the narrow interface to the external service that turns
// collected fees into the settlement asset. The machine moves the sink balance
// to Account and then asks the converter to process it.
type FeeConverter interface {
	Account() crypto.Address
	Convert(ctx context.Context, sink crypto.Address, amount *uint256.Int) (reference string, err error)
}

// Settlement reports a completed fee sweep.
type Settlement struct {
	Sink      crypto.Address
	Amount    *uint256.Int
	Reference string
}

// SettleFees sweeps the full balance of a fee sink to the converter. If the
// converter rejects the sweep the tokens are returned to the sink.
func (m *Machine) SettleFees(ctx context.Context, caller, sink crypto.Address) (out Settlement, err error) {
	ctx, done := m.begin(ctx, nativecommon.ModuleLedger, "settle_fees", attribute.String("sink", sink.String()))
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.authorize(caller); err != nil {
		return Settlement{}, err
	}
	if m.converter == nil {
		return Settlement{}, errNoConverter
	}
	if !m.isSink(sink) {
		return Settlement{}, fmt.Errorf("%w: %s", errUnknownSink, sink)
	}
	account := m.converter.Account()
	if account.IsZero() || !m.ledger.IsExcludedFromFee(account) {
		return Settlement{}, errConverterNotExempt
	}
	amount := m.ledger.BalanceOf(sink)
	out = Settlement{Sink: sink, Amount: amount}
	if amount.IsZero() {
		return out, nil
	}
	if _, err := m.ledger.Transfer(sink, account, amount); err != nil {
		return Settlement{}, fmt.Errorf("machine: sweep %s: %w", sink, err)
	}
	ctx, cancel := m.adapterContext(ctx)
	defer cancel()
	reference, convertErr := m.converter.Convert(ctx, sink, amount)
	if convertErr != nil {
		if _, err := m.ledger.Transfer(account, sink, amount); err != nil {
			m.logger.Error("fee sweep could not be returned to sink",
				slog.Bool("alert", true),
				slog.String("sink", sink.String()),
				slog.String("amount", amount.Dec()),
				slog.String("error", err.Error()))
		}
		return Settlement{}, fmt.Errorf("machine: convert fees from %s: %w", sink, convertErr)
	}
	out.Reference = reference
	m.emitter.Emit(events.FeesSettled{Sink: sink, Amount: new(uint256.Int).Set(amount), Reference: reference})
	return out, nil
}

func (m *Machine) isSink(addr crypto.Address) bool {
	if addr.IsZero() {
		return false
	}
	for _, c := range m.ledger.FeeSchedule().Components {
		if c.Sink == addr {
			return true
		}
	}
	return false
}
