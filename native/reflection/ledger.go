package reflection

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	coreerrors "reflexstake/core/errors"
	"reflexstake/core/events"
	"reflexstake/crypto"
	nativecommon "reflexstake/native/common"
)

var (
	errNilLedger       = errors.New("ledger: not initialised")
	errZeroAddress     = errors.New("ledger: zero address")
	errZeroSupply      = errors.New("ledger: total supply must be positive")
	errExceedsReflects = errors.New("ledger: amount exceeds total reflections")
)

// Account holds the dual balance representation for a holder. Reflected is only
// meaningful while the account is included in rewards, True only while it is
// excluded.
type Account struct {
	Address            crypto.Address
	Reflected          *uint256.Int
	True               *uint256.Int
	ExcludedFromReward bool
	ExcludedFromFee    bool
}

func newAccount(addr crypto.Address) *Account {
	return &Account{Address: addr, Reflected: new(uint256.Int), True: new(uint256.Int)}
}

func (a *Account) clone() *Account {
	out := *a
	out.Reflected = new(uint256.Int).Set(a.Reflected)
	out.True = new(uint256.Int).Set(a.True)
	return &out
}

// TransferResult reports the outcome of a committed transfer.
type TransferResult struct {
	From       crypto.Address
	To         crypto.Address
	Amount     *uint256.Int
	Net        *uint256.Int
	Fee        *uint256.Int
	Reflected  *uint256.Int
	Sinks      []SinkCredit
	RateBefore *uint256.Int
	RateAfter  *uint256.Int
}

// Ledger owns every account balance, the reflected supply and the exclusion
// sets. It is not safe for concurrent use; core.Machine serialises access.
type Ledger struct {
	totalSupply     *uint256.Int
	genesisRate     *uint256.Int
	reflectedSupply *uint256.Int
	sumExcludedTrue *uint256.Int
	accounts        map[crypto.Address]*Account
	fees            FeeSchedule
	maxTransfer     *uint256.Int
	emitter         events.Emitter
	pauses          nativecommon.PauseView
}

// NewLedger mints the entire supply to holder. The reflected supply starts at
// totalSupply*scale where scale leaves one bit of headroom below MaxUint256 so
// rate drift from exclusions cannot overflow a full-supply credit.
func NewLedger(totalSupply *uint256.Int, holder crypto.Address) (*Ledger, error) {
	if totalSupply == nil || totalSupply.IsZero() {
		return nil, errZeroSupply
	}
	if holder.IsZero() {
		return nil, errZeroAddress
	}
	scale := new(uint256.Int).SetAllOne()
	scale.Div(scale, totalSupply)
	scale.Rsh(scale, 1)
	if scale.IsZero() {
		return nil, fmt.Errorf("%w: total supply %s leaves no reflection headroom", coreerrors.ErrArithmeticOverflow, totalSupply.Dec())
	}
	reflected := new(uint256.Int).Mul(totalSupply, scale)
	genesis := newAccount(holder)
	genesis.Reflected.Set(reflected)
	return &Ledger{
		totalSupply:     new(uint256.Int).Set(totalSupply),
		genesisRate:     scale,
		reflectedSupply: new(uint256.Int).Set(reflected),
		sumExcludedTrue: new(uint256.Int),
		accounts:        map[crypto.Address]*Account{holder: genesis},
		emitter:         events.NoopEmitter{},
	}, nil
}

// SetEmitter wires the event sink used for ledger events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// rateFor derives the reflection rate for the supplied reflected supply and
// excluded sum. When included holders carry no value the genesis rate applies.
func (l *Ledger) rateFor(reflectedSupply, sumExcluded *uint256.Int) (*uint256.Int, error) {
	included := new(uint256.Int).Sub(l.totalSupply, sumExcluded)
	if included.IsZero() || reflectedSupply.IsZero() {
		return new(uint256.Int).Set(l.genesisRate), nil
	}
	rate := new(uint256.Int).Div(reflectedSupply, included)
	if rate.IsZero() {
		return nil, fmt.Errorf("%w: reflected supply %s below included supply %s", coreerrors.ErrRateUnderflow, reflectedSupply.Dec(), included.Dec())
	}
	return rate, nil
}

func (l *Ledger) currentRate() *uint256.Int {
	rate, err := l.rateFor(l.reflectedSupply, l.sumExcludedTrue)
	if err != nil {
		// Every commit validates the rate, so a stored state cannot underflow.
		panic(err)
	}
	return rate
}

func balanceAt(acc *Account, rate *uint256.Int) *uint256.Int {
	if acc == nil {
		return new(uint256.Int)
	}
	if acc.ExcludedFromReward {
		return new(uint256.Int).Set(acc.True)
	}
	return new(uint256.Int).Div(acc.Reflected, rate)
}

// stage accumulates a transition on cloned accounts so that nothing is
// committed unless every step succeeds.
type stage struct {
	ledger          *Ledger
	rate            *uint256.Int
	reflectedSupply *uint256.Int
	sumExcluded     *uint256.Int
	touched         map[crypto.Address]*Account
}

func (l *Ledger) newStage() *stage {
	return &stage{
		ledger:          l,
		rate:            l.currentRate(),
		reflectedSupply: new(uint256.Int).Set(l.reflectedSupply),
		sumExcluded:     new(uint256.Int).Set(l.sumExcludedTrue),
		touched:         make(map[crypto.Address]*Account),
	}
}

func (s *stage) account(addr crypto.Address) *Account {
	if acc, ok := s.touched[addr]; ok {
		return acc
	}
	var acc *Account
	if existing, ok := s.ledger.accounts[addr]; ok {
		acc = existing.clone()
	} else {
		acc = newAccount(addr)
	}
	s.touched[addr] = acc
	return acc
}

func (s *stage) debit(acc *Account, amount *uint256.Int) error {
	if acc.ExcludedFromReward {
		if acc.True.Lt(amount) {
			return fmt.Errorf("%w: %s holds %s, needs %s", coreerrors.ErrInsufficientBalance, acc.Address, acc.True.Dec(), amount.Dec())
		}
		acc.True.Sub(acc.True, amount)
		s.sumExcluded.Sub(s.sumExcluded, amount)
		return nil
	}
	rAmount, overflow := new(uint256.Int).MulOverflow(amount, s.rate)
	if overflow {
		return fmt.Errorf("%w: reflected debit of %s", coreerrors.ErrArithmeticOverflow, amount.Dec())
	}
	if acc.Reflected.Lt(rAmount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", coreerrors.ErrInsufficientBalance, acc.Address, balanceAt(acc, s.rate).Dec(), amount.Dec())
	}
	if _, underflow := s.reflectedSupply.SubOverflow(s.reflectedSupply, rAmount); underflow {
		return fmt.Errorf("%w: reflected supply underflow", coreerrors.ErrArithmeticOverflow)
	}
	acc.Reflected.Sub(acc.Reflected, rAmount)
	return nil
}

func (s *stage) credit(acc *Account, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if acc.ExcludedFromReward {
		if _, overflow := acc.True.AddOverflow(acc.True, amount); overflow {
			return fmt.Errorf("%w: true balance of %s", coreerrors.ErrArithmeticOverflow, acc.Address)
		}
		if _, overflow := s.sumExcluded.AddOverflow(s.sumExcluded, amount); overflow || s.sumExcluded.Gt(s.ledger.totalSupply) {
			return fmt.Errorf("%w: excluded sum exceeds total supply", coreerrors.ErrArithmeticOverflow)
		}
		return nil
	}
	rAmount, overflow := new(uint256.Int).MulOverflow(amount, s.rate)
	if overflow {
		return fmt.Errorf("%w: reflected credit of %s", coreerrors.ErrArithmeticOverflow, amount.Dec())
	}
	if _, overflow := acc.Reflected.AddOverflow(acc.Reflected, rAmount); overflow {
		return fmt.Errorf("%w: reflected balance of %s", coreerrors.ErrArithmeticOverflow, acc.Address)
	}
	if _, overflow := s.reflectedSupply.AddOverflow(s.reflectedSupply, rAmount); overflow {
		return fmt.Errorf("%w: reflected supply", coreerrors.ErrArithmeticOverflow)
	}
	return nil
}

// settle validates the post-transition rate.
func (s *stage) settle() (*uint256.Int, error) {
	return s.ledger.rateFor(s.reflectedSupply, s.sumExcluded)
}

func (s *stage) commit() {
	for addr, acc := range s.touched {
		s.ledger.accounts[addr] = acc
	}
	s.ledger.reflectedSupply = s.reflectedSupply
	s.ledger.sumExcludedTrue = s.sumExcluded
}

// Transfer moves amount from one account to another. Unless either party is
// fee-exempt a fee is taken: sink components are credited explicitly, the rest
// is reflected to every included holder through the rate. The returned result
// carries the net amount credited to the receiver.
func (l *Ledger) Transfer(from, to crypto.Address, amount *uint256.Int) (TransferResult, error) {
	if l == nil {
		return TransferResult{}, errNilLedger
	}
	if err := nativecommon.Guard(l.pauses, nativecommon.ModuleLedger); err != nil {
		return TransferResult{}, err
	}
	if amount == nil || amount.IsZero() {
		return TransferResult{}, coreerrors.ErrInvalidAmount
	}
	if from.IsZero() || to.IsZero() {
		return TransferResult{}, errZeroAddress
	}

	st := l.newStage()
	sender := st.account(from)
	receiver := st.account(to)

	takeFee := !sender.ExcludedFromFee && !receiver.ExcludedFromFee
	if takeFee && l.maxTransfer != nil && amount.Gt(l.maxTransfer) {
		return TransferResult{}, fmt.Errorf("%w: %s > %s", coreerrors.ErrTransferCapExceeded, amount.Dec(), l.maxTransfer.Dec())
	}

	breakdown := zeroBreakdown(amount, l.fees.Version)
	if takeFee {
		var err error
		if breakdown, err = l.fees.Apply(amount); err != nil {
			return TransferResult{}, err
		}
	}

	if err := st.debit(sender, amount); err != nil {
		return TransferResult{}, err
	}
	if err := st.credit(receiver, breakdown.Net); err != nil {
		return TransferResult{}, err
	}
	for _, sink := range breakdown.Sinks {
		if err := st.credit(st.account(sink.Sink), sink.Amount); err != nil {
			return TransferResult{}, err
		}
	}
	// A reflected fee is held by included holders through the rate. With no
	// reflected balance left there is nobody to carry it.
	if !breakdown.Reflected.IsZero() && st.reflectedSupply.IsZero() {
		return TransferResult{}, fmt.Errorf("%w: no included holder to receive reflected fee %s", coreerrors.ErrRateUnderflow, breakdown.Reflected.Dec())
	}
	rateAfter, err := st.settle()
	if err != nil {
		return TransferResult{}, err
	}
	st.commit()

	result := TransferResult{
		From:       from,
		To:         to,
		Amount:     new(uint256.Int).Set(amount),
		Net:        breakdown.Net,
		Fee:        breakdown.Fee,
		Reflected:  breakdown.Reflected,
		Sinks:      breakdown.Sinks,
		RateBefore: st.rate,
		RateAfter:  rateAfter,
	}
	l.emitter.Emit(events.Transfer{From: from, To: to, Amount: result.Amount, Net: result.Net, Fee: result.Fee})
	if !breakdown.Fee.IsZero() {
		sinks := make([]events.FeeSink, 0, len(breakdown.Sinks))
		for _, s := range breakdown.Sinks {
			sinks = append(sinks, events.FeeSink{Component: s.Component, Sink: s.Sink, Amount: s.Amount})
		}
		l.emitter.Emit(events.FeeCharged{Payer: from, Fee: breakdown.Fee, Reflected: breakdown.Reflected, Sinks: sinks, PolicyVersion: breakdown.Version})
	}
	return result, nil
}

// SetExcludedFromReward converts the account between the reflected and the true
// representation. The effective balance moves by at most one unit.
func (l *Ledger) SetExcludedFromReward(addr crypto.Address, excluded bool) error {
	if l == nil {
		return errNilLedger
	}
	if addr.IsZero() {
		return errZeroAddress
	}
	st := l.newStage()
	acc := st.account(addr)
	if acc.ExcludedFromReward == excluded {
		return nil
	}
	before := balanceAt(acc, st.rate)
	if excluded {
		if _, underflow := st.reflectedSupply.SubOverflow(st.reflectedSupply, acc.Reflected); underflow {
			return fmt.Errorf("%w: reflected supply underflow", coreerrors.ErrArithmeticOverflow)
		}
		acc.Reflected = new(uint256.Int)
		acc.True = before
		acc.ExcludedFromReward = true
		if _, overflow := st.sumExcluded.AddOverflow(st.sumExcluded, before); overflow || st.sumExcluded.Gt(l.totalSupply) {
			return fmt.Errorf("%w: excluded sum exceeds total supply", coreerrors.ErrArithmeticOverflow)
		}
	} else {
		reflected, overflow := new(uint256.Int).MulOverflow(acc.True, st.rate)
		if overflow {
			return fmt.Errorf("%w: reflecting %s", coreerrors.ErrArithmeticOverflow, acc.True.Dec())
		}
		if _, overflow := st.reflectedSupply.AddOverflow(st.reflectedSupply, reflected); overflow {
			return fmt.Errorf("%w: reflected supply", coreerrors.ErrArithmeticOverflow)
		}
		st.sumExcluded.Sub(st.sumExcluded, acc.True)
		acc.Reflected = reflected
		acc.True = new(uint256.Int)
		acc.ExcludedFromReward = false
	}
	rateAfter, err := st.settle()
	if err != nil {
		return err
	}
	st.commit()
	l.emitter.Emit(events.RewardExclusion{Account: addr, Excluded: excluded, Before: before, After: balanceAt(acc, rateAfter)})
	return nil
}

// SetExcludedFromFee flips the fee exemption flag without touching balances.
func (l *Ledger) SetExcludedFromFee(addr crypto.Address, excluded bool) error {
	if l == nil {
		return errNilLedger
	}
	if addr.IsZero() {
		return errZeroAddress
	}
	acc, ok := l.accounts[addr]
	if !ok {
		acc = newAccount(addr)
		l.accounts[addr] = acc
	}
	if acc.ExcludedFromFee == excluded {
		return nil
	}
	acc.ExcludedFromFee = excluded
	l.emitter.Emit(events.FeeExemption{Account: addr, Exempt: excluded})
	return nil
}

// SetFeeSchedule replaces the fee schedule. The version is assigned by the
// ledger and the change applies to subsequent transfers only.
func (l *Ledger) SetFeeSchedule(schedule FeeSchedule) error {
	if l == nil {
		return errNilLedger
	}
	next := schedule.Clone()
	if err := next.Validate(); err != nil {
		return err
	}
	next.Version = l.fees.Version + 1
	l.fees = next
	l.emitter.Emit(events.FeeSchedule{Version: next.Version, TotalBps: next.TotalBps()})
	return nil
}

// SetMaxTransferAmount configures the per-transfer cap. A nil or zero cap
// disables the check.
func (l *Ledger) SetMaxTransferAmount(limit *uint256.Int) {
	if l == nil {
		return
	}
	if limit == nil || limit.IsZero() {
		l.maxTransfer = nil
	} else {
		l.maxTransfer = new(uint256.Int).Set(limit)
	}
	l.emitter.Emit(events.TransferCap{Cap: l.MaxTransferAmount()})
}

// BalanceOf returns the effective balance of the account.
func (l *Ledger) BalanceOf(addr crypto.Address) *uint256.Int {
	if l == nil {
		return new(uint256.Int)
	}
	return balanceAt(l.accounts[addr], l.currentRate())
}

// AccountView is a read-only copy of an account including its effective
// balance.
type AccountView struct {
	Account
	Balance *uint256.Int
}

// Account returns a copy of the account state.
func (l *Ledger) Account(addr crypto.Address) AccountView {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = newAccount(addr)
	}
	return AccountView{Account: *acc.clone(), Balance: balanceAt(acc, l.currentRate())}
}

func (l *Ledger) IsExcludedFromFee(addr crypto.Address) bool {
	acc, ok := l.accounts[addr]
	return ok && acc.ExcludedFromFee
}

func (l *Ledger) IsExcludedFromReward(addr crypto.Address) bool {
	acc, ok := l.accounts[addr]
	return ok && acc.ExcludedFromReward
}

func (l *Ledger) TotalSupply() *uint256.Int { return new(uint256.Int).Set(l.totalSupply) }

func (l *Ledger) Rate() *uint256.Int { return l.currentRate() }

func (l *Ledger) ReflectedSupply() *uint256.Int { return new(uint256.Int).Set(l.reflectedSupply) }

func (l *Ledger) SumExcludedTrue() *uint256.Int { return new(uint256.Int).Set(l.sumExcludedTrue) }

func (l *Ledger) FeeSchedule() FeeSchedule { return l.fees.Clone() }

// MaxTransferAmount returns the configured cap or nil when disabled.
func (l *Ledger) MaxTransferAmount() *uint256.Int {
	if l.maxTransfer == nil {
		return nil
	}
	return new(uint256.Int).Set(l.maxTransfer)
}

// TokenFromReflection converts a reflected amount into true units at the
// current rate.
func (l *Ledger) TokenFromReflection(reflected *uint256.Int) (*uint256.Int, error) {
	if reflected.Gt(l.reflectedSupply) {
		return nil, errExceedsReflects
	}
	return new(uint256.Int).Div(reflected, l.currentRate()), nil
}

// ReflectionFromToken converts a true amount into reflected units, optionally
// after deducting the current fee.
func (l *Ledger) ReflectionFromToken(amount *uint256.Int, deductFee bool) (*uint256.Int, error) {
	if amount.Gt(l.totalSupply) {
		return nil, fmt.Errorf("%w: amount exceeds total supply", coreerrors.ErrInvalidAmount)
	}
	value := amount
	if deductFee {
		breakdown, err := l.fees.Apply(amount)
		if err != nil {
			return nil, err
		}
		value = breakdown.Net
	}
	out, overflow := new(uint256.Int).MulOverflow(value, l.currentRate())
	if overflow {
		return nil, coreerrors.ErrArithmeticOverflow
	}
	return out, nil
}

// AuditReport summarises the conservation check across all accounts.
type AuditReport struct {
	TotalSupply *uint256.Int
	Accounted   *uint256.Int
	Drift       *uint256.Int
	Included    int
	Excluded    int
	Conserved   bool
}

// Audit recomputes sumExcludedTrue + Σ floor(reflected_i / rate) over all
// accounts. It is a diagnostic walk and plays no part in redistribution.
func (l *Ledger) Audit() AuditReport {
	rate := l.currentRate()
	accounted := new(uint256.Int)
	reflected := new(uint256.Int)
	excluded := new(uint256.Int)
	report := AuditReport{TotalSupply: new(uint256.Int).Set(l.totalSupply)}
	for _, acc := range l.accounts {
		if acc.ExcludedFromReward {
			excluded.Add(excluded, acc.True)
			report.Excluded++
			continue
		}
		if acc.Reflected.IsZero() {
			continue
		}
		reflected.Add(reflected, acc.Reflected)
		accounted.Add(accounted, new(uint256.Int).Div(acc.Reflected, rate))
		report.Included++
	}
	accounted.Add(accounted, excluded)
	if accounted.Gt(l.totalSupply) {
		report.Drift = new(uint256.Int).Sub(accounted, l.totalSupply)
	} else {
		report.Drift = new(uint256.Int).Sub(l.totalSupply, accounted)
	}
	report.Accounted = accounted
	tolerance := uint256.NewInt(uint64(report.Included) + 1)
	report.Conserved = reflected.Eq(l.reflectedSupply) && excluded.Eq(l.sumExcludedTrue) && !report.Drift.Gt(tolerance)
	return report
}
