package events

import (
	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

const (
	// TypeModulePause is emitted when the authority pauses or resumes a module.
	TypeModulePause = "admin.pause"
	// TypeFeesSettled is emitted after a fee sink balance is swept to the
	// converter.
	TypeFeesSettled = "admin.feesSettled"
	// TypeCheckpoint is emitted after a checkpoint is durably written.
	TypeCheckpoint = "admin.checkpoint"
)

type ModulePause struct {
	Module string
	Paused bool
}

func (ModulePause) EventType() string { return TypeModulePause }

func (e ModulePause) Event() Envelope {
	return Envelope{Type: TypeModulePause, Attributes: map[string]string{
		"module": e.Module,
		"paused": formatBool(e.Paused),
	}}
}

// FeesSettled records a sink sweep and the converter's reference for it.
type FeesSettled struct {
	Sink      crypto.Address
	Amount    *uint256.Int
	Reference string
}

func (FeesSettled) EventType() string { return TypeFeesSettled }

func (e FeesSettled) Event() Envelope {
	return Envelope{Type: TypeFeesSettled, Attributes: map[string]string{
		"sink":      formatAddress(e.Sink),
		"amount":    formatAmount(e.Amount),
		"reference": e.Reference,
	}}
}

type Checkpoint struct {
	Sequence uint64
}

func (Checkpoint) EventType() string { return TypeCheckpoint }

func (e Checkpoint) Event() Envelope {
	return Envelope{Type: TypeCheckpoint, Attributes: map[string]string{
		"sequence": formatUint(e.Sequence),
	}}
}
