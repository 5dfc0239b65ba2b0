package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

const (
	// TypeTransfer is emitted for every committed ledger transfer.
	TypeTransfer = "ledger.transfer"
	// TypeFeeCharged is emitted when a transfer paid a fee.
	TypeFeeCharged = "ledger.fee"
	// TypeRewardExclusion is emitted when an account moves in or out of the
	// reward set.
	TypeRewardExclusion = "ledger.rewardExclusion"
	// TypeFeeExemption is emitted when an account's fee exemption changes.
	TypeFeeExemption = "ledger.feeExemption"
	// TypeFeeSchedule is emitted when the authority replaces the fee schedule.
	TypeFeeSchedule = "ledger.feeSchedule"
	// TypeTransferCap is emitted when the transfer cap changes.
	TypeTransferCap = "ledger.transferCap"
)

type Transfer struct {
	From   crypto.Address
	To     crypto.Address
	Amount *uint256.Int
	Net    *uint256.Int
	Fee    *uint256.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() Envelope {
	return Envelope{Type: TypeTransfer, Attributes: map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
		"net":    formatAmount(e.Net),
		"fee":    formatAmount(e.Fee),
	}}
}

// FeeSink records the share of a fee credited to a named sink.
type FeeSink struct {
	Component string
	Sink      crypto.Address
	Amount    *uint256.Int
}

// FeeCharged breaks down a fee into the reflected share and explicit sink
// credits.
type FeeCharged struct {
	Payer         crypto.Address
	Fee           *uint256.Int
	Reflected     *uint256.Int
	Sinks         []FeeSink
	PolicyVersion uint64
}

func (FeeCharged) EventType() string { return TypeFeeCharged }

func (e FeeCharged) Event() Envelope {
	attrs := map[string]string{
		"payer":     formatAddress(e.Payer),
		"fee":       formatAmount(e.Fee),
		"reflected": formatAmount(e.Reflected),
		"version":   strconv.FormatUint(e.PolicyVersion, 10),
	}
	for _, sink := range e.Sinks {
		attrs["sink."+sink.Component] = formatAmount(sink.Amount)
	}
	return Envelope{Type: TypeFeeCharged, Attributes: attrs}
}

type RewardExclusion struct {
	Account  crypto.Address
	Excluded bool
	Before   *uint256.Int
	After    *uint256.Int
}

func (RewardExclusion) EventType() string { return TypeRewardExclusion }

func (e RewardExclusion) Event() Envelope {
	return Envelope{Type: TypeRewardExclusion, Attributes: map[string]string{
		"account":  formatAddress(e.Account),
		"excluded": formatBool(e.Excluded),
		"before":   formatAmount(e.Before),
		"after":    formatAmount(e.After),
	}}
}

type FeeExemption struct {
	Account crypto.Address
	Exempt  bool
}

func (FeeExemption) EventType() string { return TypeFeeExemption }

func (e FeeExemption) Event() Envelope {
	return Envelope{Type: TypeFeeExemption, Attributes: map[string]string{
		"account": formatAddress(e.Account),
		"exempt":  formatBool(e.Exempt),
	}}
}

type FeeSchedule struct {
	Version  uint64
	TotalBps uint32
}

func (FeeSchedule) EventType() string { return TypeFeeSchedule }

func (e FeeSchedule) Event() Envelope {
	return Envelope{Type: TypeFeeSchedule, Attributes: map[string]string{
		"version":  strconv.FormatUint(e.Version, 10),
		"totalBps": strconv.FormatUint(uint64(e.TotalBps), 10),
	}}
}

type TransferCap struct {
	Cap *uint256.Int
}

func (TransferCap) EventType() string { return TypeTransferCap }

func (e TransferCap) Event() Envelope {
	attrs := map[string]string{"cap": "none"}
	if e.Cap != nil {
		attrs["cap"] = e.Cap.Dec()
	}
	return Envelope{Type: TypeTransferCap, Attributes: attrs}
}
