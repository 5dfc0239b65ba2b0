package events

import (
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

const (
	// TypeStaked is emitted when principal is locked.
	TypeStaked = "stake.locked"
	// TypeUnstaked is emitted when principal is released back to the owner.
	TypeUnstaked = "stake.unlocked"
	// TypeTierChanged is emitted when a stake record's advisory tier moves.
	TypeTierChanged = "stake.tierChanged"
	// TypeTierList is emitted whenever the authority mutates the tier list.
	TypeTierList = "stake.tiers"
	// TypeLockPolicy is emitted when the lock duration or override changes.
	TypeLockPolicy = "stake.lockPolicy"
)

type Staked struct {
	Owner     crypto.Address
	Amount    *uint256.Int
	Principal *uint256.Int
	LockedAt  time.Time
}

func (Staked) EventType() string { return TypeStaked }

func (e Staked) Event() Envelope {
	return Envelope{Type: TypeStaked, Attributes: map[string]string{
		"owner":     formatAddress(e.Owner),
		"amount":    formatAmount(e.Amount),
		"principal": formatAmount(e.Principal),
		"lockedAt":  e.LockedAt.UTC().Format(time.RFC3339),
	}}
}

type Unstaked struct {
	Owner     crypto.Address
	Amount    *uint256.Int
	Principal *uint256.Int
	Recalled  *uint256.Int
}

func (Unstaked) EventType() string { return TypeUnstaked }

func (e Unstaked) Event() Envelope {
	return Envelope{Type: TypeUnstaked, Attributes: map[string]string{
		"owner":     formatAddress(e.Owner),
		"amount":    formatAmount(e.Amount),
		"principal": formatAmount(e.Principal),
		"recalled":  formatAmount(e.Recalled),
	}}
}

type TierChanged struct {
	Owner    crypto.Address
	From     int
	To       int
	Label    string
	USDValue *uint256.Int
}

func (TierChanged) EventType() string { return TypeTierChanged }

func (e TierChanged) Event() Envelope {
	return Envelope{Type: TypeTierChanged, Attributes: map[string]string{
		"owner":    formatAddress(e.Owner),
		"from":     strconv.Itoa(e.From),
		"to":       strconv.Itoa(e.To),
		"label":    e.Label,
		"usdValue": formatAmount(e.USDValue),
	}}
}

type TierList struct {
	Action string
	Index  int
	Label  string
	Count  int
}

func (TierList) EventType() string { return TypeTierList }

func (e TierList) Event() Envelope {
	return Envelope{Type: TypeTierList, Attributes: map[string]string{
		"action": e.Action,
		"index":  strconv.Itoa(e.Index),
		"label":  e.Label,
		"count":  strconv.Itoa(e.Count),
	}}
}

type LockPolicy struct {
	MinLockDuration time.Duration
	Override        *time.Duration
}

func (LockPolicy) EventType() string { return TypeLockPolicy }

func (e LockPolicy) Event() Envelope {
	attrs := map[string]string{"minLockDuration": e.MinLockDuration.String(), "override": "none"}
	if e.Override != nil {
		attrs["override"] = e.Override.String()
	}
	return Envelope{Type: TypeLockPolicy, Attributes: attrs}
}
