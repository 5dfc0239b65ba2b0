package reflection

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	coreerrors "reflexstake/core/errors"
	"reflexstake/core/events"
	"reflexstake/crypto"
	nativecommon "reflexstake/native/common"
)

func testAddr(b byte) crypto.Address {
	var raw [20]byte
	raw[0] = 0xaa
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newTestLedger(t *testing.T, supply uint64) (*Ledger, crypto.Address) {
	t.Helper()
	holder := testAddr(1)
	l, err := NewLedger(u(supply), holder)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l, holder
}

func redistribution(bps uint32) FeeSchedule {
	return FeeSchedule{Components: []FeeComponent{{Name: ComponentRedistribution, Bps: bps, Reflect: true}}}
}

func mustTransfer(t *testing.T, l *Ledger, from, to crypto.Address, amount uint64) TransferResult {
	t.Helper()
	res, err := l.Transfer(from, to, u(amount))
	if err != nil {
		t.Fatalf("transfer %d: %v", amount, err)
	}
	return res
}

func assertConserved(t *testing.T, l *Ledger) {
	t.Helper()
	report := l.Audit()
	if !report.Conserved {
		t.Fatalf("ledger not conserved: accounted %s of %s (drift %s)", report.Accounted.Dec(), report.TotalSupply.Dec(), report.Drift.Dec())
	}
}

func TestNewLedgerMintsSupplyToHolder(t *testing.T) {
	l, holder := newTestLedger(t, 10_000_000)
	if got := l.BalanceOf(holder); !got.Eq(u(10_000_000)) {
		t.Fatalf("holder balance = %s", got.Dec())
	}
	if !l.SumExcludedTrue().IsZero() {
		t.Fatalf("expected empty excluded sum")
	}
	assertConserved(t, l)

	if _, err := NewLedger(new(uint256.Int), holder); err == nil {
		t.Fatalf("expected zero supply to be rejected")
	}
}

func TestTransferRedistributesFee(t *testing.T) {
	l, treasury := newTestLedger(t, 10_000_000)
	a, b := testAddr(2), testAddr(3)
	mustTransfer(t, l, treasury, a, 1_000_000)
	if err := l.SetFeeSchedule(redistribution(500)); err != nil {
		t.Fatalf("set fee schedule: %v", err)
	}
	rec := &events.Recorder{}
	l.SetEmitter(rec)

	res := mustTransfer(t, l, a, b, 100_000)
	if !res.Net.Eq(u(95_000)) {
		t.Fatalf("net = %s, want 95000", res.Net.Dec())
	}
	if !res.Fee.Eq(u(5_000)) || !res.Reflected.Eq(u(5_000)) {
		t.Fatalf("fee = %s reflected = %s", res.Fee.Dec(), res.Reflected.Dec())
	}
	if !res.RateAfter.Lt(res.RateBefore) {
		t.Fatalf("rate should fall after redistribution")
	}

	balB := l.BalanceOf(b)
	if balB.Lt(u(95_000)) || balB.Gt(u(95_100)) {
		t.Fatalf("receiver balance = %s", balB.Dec())
	}
	balA := l.BalanceOf(a)
	if balA.Lt(u(900_000)) || balA.Gt(u(905_000)) {
		t.Fatalf("sender balance = %s", balA.Dec())
	}
	balT := l.BalanceOf(treasury)
	if !balT.Gt(u(9_000_000)) {
		t.Fatalf("third party should gain from redistribution, got %s", balT.Dec())
	}
	gained := new(uint256.Int).Sub(balT, u(9_000_000))
	gained.Add(gained, new(uint256.Int).Sub(balA, u(900_000)))
	gained.Add(gained, new(uint256.Int).Sub(balB, u(95_000)))
	if gained.Gt(u(5_000)) || gained.Lt(u(4_997)) {
		t.Fatalf("redistributed %s, want ~5000", gained.Dec())
	}
	assertConserved(t, l)

	if len(rec.OfType(events.TypeTransfer)) != 1 || len(rec.OfType(events.TypeFeeCharged)) != 1 {
		t.Fatalf("unexpected events: %+v", rec.Events())
	}
}

func TestTransferCreditsSinks(t *testing.T) {
	l, holder := newTestLedger(t, 1_000_000)
	a, b, sink := testAddr(2), testAddr(3), testAddr(9)
	mustTransfer(t, l, holder, a, 100_000)
	schedule := FeeSchedule{Components: []FeeComponent{
		{Name: "Treasury", Bps: 100, Sink: sink},
		{Name: ComponentRedistribution, Bps: 200, Reflect: true},
	}}
	if err := l.SetFeeSchedule(schedule); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	res := mustTransfer(t, l, a, b, 10_000)
	if !res.Fee.Eq(u(300)) || !res.Net.Eq(u(9_700)) || !res.Reflected.Eq(u(200)) {
		t.Fatalf("breakdown fee=%s net=%s reflected=%s", res.Fee.Dec(), res.Net.Dec(), res.Reflected.Dec())
	}
	if len(res.Sinks) != 1 || res.Sinks[0].Component != "treasury" || !res.Sinks[0].Amount.Eq(u(100)) {
		t.Fatalf("unexpected sinks: %+v", res.Sinks)
	}
	if got := l.BalanceOf(sink); got.Lt(u(100)) {
		t.Fatalf("sink balance = %s", got.Dec())
	}
	assertConserved(t, l)
}

func TestFeeExemptPartiesPayNoFee(t *testing.T) {
	l, holder := newTestLedger(t, 1_000_000)
	a, b := testAddr(2), testAddr(3)
	if err := l.SetFeeSchedule(redistribution(1_000)); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	if err := l.SetExcludedFromFee(holder, true); err != nil {
		t.Fatalf("exempt: %v", err)
	}
	res := mustTransfer(t, l, holder, a, 50_000)
	if !res.Fee.IsZero() || !res.Net.Eq(u(50_000)) {
		t.Fatalf("exempt sender charged: %+v", res)
	}
	if got := l.BalanceOf(a); !got.Eq(u(50_000)) {
		t.Fatalf("receiver balance = %s", got.Dec())
	}
	if err := l.SetExcludedFromFee(b, true); err != nil {
		t.Fatalf("exempt receiver: %v", err)
	}
	res = mustTransfer(t, l, a, b, 10_000)
	if !res.Fee.IsZero() {
		t.Fatalf("exempt receiver charged fee %s", res.Fee.Dec())
	}
}

func TestTransferFailuresLeaveStateUntouched(t *testing.T) {
	l, holder := newTestLedger(t, 1_000)
	a := testAddr(2)
	before := l.Export()

	if _, err := l.Transfer(holder, a, u(1_001)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := l.Transfer(holder, a, new(uint256.Int)); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := l.Transfer(a, holder, u(1)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected empty account to fail, got %v", err)
	}
	after := l.Export()
	if !after.ReflectedSupply.Eq(before.ReflectedSupply) || len(after.Accounts) != len(before.Accounts) {
		t.Fatalf("failed transfers mutated the ledger")
	}
	if got := l.BalanceOf(holder); !got.Eq(u(1_000)) {
		t.Fatalf("holder balance changed to %s", got.Dec())
	}
}

func TestTransferCap(t *testing.T) {
	l, holder := newTestLedger(t, 1_000_000)
	a, b := testAddr(2), testAddr(3)
	mustTransfer(t, l, holder, a, 10_000)
	l.SetMaxTransferAmount(u(1_000))

	if _, err := l.Transfer(a, b, u(1_001)); !errors.Is(err, coreerrors.ErrTransferCapExceeded) {
		t.Fatalf("expected cap error, got %v", err)
	}
	mustTransfer(t, l, a, b, 1_000)

	if err := l.SetExcludedFromFee(holder, true); err != nil {
		t.Fatalf("exempt: %v", err)
	}
	mustTransfer(t, l, holder, b, 5_000)

	l.SetMaxTransferAmount(nil)
	if l.MaxTransferAmount() != nil {
		t.Fatalf("expected cap disabled")
	}
	mustTransfer(t, l, a, b, 5_000)
}

func TestExcludeFromRewardRoundTrip(t *testing.T) {
	l, holder := newTestLedger(t, 10_000_000)
	a, b, c := testAddr(2), testAddr(3), testAddr(4)
	mustTransfer(t, l, holder, a, 2_000_000)
	mustTransfer(t, l, holder, c, 1_000_000)
	if err := l.SetFeeSchedule(redistribution(300)); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	mustTransfer(t, l, holder, b, 500_000)

	before := l.BalanceOf(a)
	if err := l.SetExcludedFromReward(a, true); err != nil {
		t.Fatalf("exclude: %v", err)
	}
	excluded := l.BalanceOf(a)
	if diff := new(uint256.Int).Sub(before, excluded); diff.Gt(u(1)) {
		t.Fatalf("exclusion drifted %s -> %s", before.Dec(), excluded.Dec())
	}
	if !l.SumExcludedTrue().Eq(excluded) {
		t.Fatalf("excluded sum = %s, want %s", l.SumExcludedTrue().Dec(), excluded.Dec())
	}
	assertConserved(t, l)

	// Excluded holders do not share in redistribution.
	mustTransfer(t, l, holder, b, 100_000)
	if got := l.BalanceOf(a); !got.Eq(excluded) {
		t.Fatalf("excluded balance moved to %s", got.Dec())
	}
	// Excluded senders pay from the true balance.
	mustTransfer(t, l, a, c, 1_000)
	afterSend := l.BalanceOf(a)
	if !afterSend.Eq(new(uint256.Int).Sub(excluded, u(1_000))) {
		t.Fatalf("excluded sender balance = %s", afterSend.Dec())
	}
	assertConserved(t, l)

	if err := l.SetExcludedFromReward(a, false); err != nil {
		t.Fatalf("include: %v", err)
	}
	included := l.BalanceOf(a)
	if diff := new(uint256.Int).Sub(afterSend, included); included.Gt(afterSend) || diff.Gt(u(1)) {
		t.Fatalf("inclusion drifted %s -> %s", afterSend.Dec(), included.Dec())
	}
	if !l.SumExcludedTrue().IsZero() {
		t.Fatalf("excluded sum should be empty, got %s", l.SumExcludedTrue().Dec())
	}
	assertConserved(t, l)

	// Repeating the current state is a no-op.
	if err := l.SetExcludedFromReward(a, false); err != nil {
		t.Fatalf("noop include: %v", err)
	}
}

func TestExcludeLastIncludedHolderFallsBackToGenesisRate(t *testing.T) {
	l, holder := newTestLedger(t, 1_000)
	genesis := l.Rate()
	if err := l.SetExcludedFromReward(holder, true); err != nil {
		t.Fatalf("exclude: %v", err)
	}
	if !l.Rate().Eq(genesis) {
		t.Fatalf("rate = %s, want genesis %s", l.Rate().Dec(), genesis.Dec())
	}
	if got := l.BalanceOf(holder); !got.Eq(u(1_000)) {
		t.Fatalf("holder balance = %s", got.Dec())
	}
	a := testAddr(2)
	mustTransfer(t, l, holder, a, 400)
	if got := l.BalanceOf(a); !got.Eq(u(400)) {
		t.Fatalf("receiver balance = %s", got.Dec())
	}
	assertConserved(t, l)
}

func TestTransferRejectsRateUnderflow(t *testing.T) {
	holder, b := testAddr(1), testAddr(2)
	l, err := Restore(Snapshot{
		TotalSupply:     u(100),
		GenesisRate:     u(1),
		ReflectedSupply: u(100),
		SumExcludedTrue: new(uint256.Int),
		Accounts:        []Account{{Address: holder, Reflected: u(100), True: new(uint256.Int)}},
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := l.SetFeeSchedule(redistribution(MaxFeeBps)); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	if _, err := l.Transfer(holder, b, u(60)); !errors.Is(err, coreerrors.ErrRateUnderflow) {
		t.Fatalf("expected rate underflow, got %v", err)
	}
	if got := l.BalanceOf(holder); !got.Eq(u(100)) {
		t.Fatalf("failed transfer mutated holder balance: %s", got.Dec())
	}
}

func TestReflectedFeeNeedsIncludedHolder(t *testing.T) {
	l, holder := newTestLedger(t, 1_000_000)
	a := testAddr(2)
	for _, addr := range []crypto.Address{holder, a} {
		if err := l.SetExcludedFromReward(addr, true); err != nil {
			t.Fatalf("exclude %s: %v", addr, err)
		}
	}
	if err := l.SetFeeSchedule(redistribution(500)); err != nil {
		t.Fatalf("set fee schedule: %v", err)
	}
	if _, err := l.Transfer(holder, a, u(1_000)); !errors.Is(err, coreerrors.ErrRateUnderflow) {
		t.Fatalf("expected rate underflow, got %v", err)
	}
	if got := l.BalanceOf(holder); !got.Eq(u(1_000_000)) {
		t.Fatalf("failed transfer mutated holder balance: %s", got.Dec())
	}
	if got := l.BalanceOf(a); !got.IsZero() {
		t.Fatalf("failed transfer credited receiver: %s", got.Dec())
	}
	assertConserved(t, l)

	// An included receiver carries the reflected share.
	b := testAddr(3)
	res := mustTransfer(t, l, holder, b, 1_000)
	if !res.Reflected.Eq(u(50)) {
		t.Fatalf("reflected = %s, want 50", res.Reflected.Dec())
	}
	if got := l.BalanceOf(b); !got.Eq(u(1_000)) {
		t.Fatalf("included receiver balance = %s, want 1000", got.Dec())
	}
	assertConserved(t, l)
}

func TestSelfTransferChargesFee(t *testing.T) {
	l, holder := newTestLedger(t, 1_000_000)
	a := testAddr(2)
	mustTransfer(t, l, holder, a, 100_000)
	if err := l.SetFeeSchedule(redistribution(1_000)); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	res := mustTransfer(t, l, a, a, 10_000)
	if !res.Fee.Eq(u(1_000)) {
		t.Fatalf("fee = %s", res.Fee.Dec())
	}
	if got := l.BalanceOf(a); !got.Lt(u(100_000)) {
		t.Fatalf("self transfer should cost the fee, balance %s", got.Dec())
	}
	assertConserved(t, l)
}

func TestPausedLedgerRejectsTransfers(t *testing.T) {
	l, holder := newTestLedger(t, 1_000)
	pauses := nativecommon.NewPauseSet()
	l.SetPauses(pauses)
	pauses.Set(nativecommon.ModuleLedger, true)
	if _, err := l.Transfer(holder, testAddr(2), u(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	pauses.Set(nativecommon.ModuleLedger, false)
	mustTransfer(t, l, holder, testAddr(2), 1)
}

func TestSetFeeScheduleBumpsVersion(t *testing.T) {
	l, _ := newTestLedger(t, 1_000)
	if err := l.SetFeeSchedule(redistribution(100)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := l.SetFeeSchedule(redistribution(200)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v := l.FeeSchedule().Version; v != 2 {
		t.Fatalf("version = %d", v)
	}
	if err := l.SetFeeSchedule(redistribution(MaxFeeBps + 1)); !errors.Is(err, coreerrors.ErrInvalidFeeSchedule) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
	if v := l.FeeSchedule().Version; v != 2 {
		t.Fatalf("rejected schedule changed version to %d", v)
	}
}

func TestReflectionConversions(t *testing.T) {
	l, _ := newTestLedger(t, 1_000)
	if err := l.SetFeeSchedule(redistribution(1_000)); err != nil {
		t.Fatalf("set: %v", err)
	}
	r, err := l.ReflectionFromToken(u(100), false)
	if err != nil {
		t.Fatalf("reflection: %v", err)
	}
	back, err := l.TokenFromReflection(r)
	if err != nil || !back.Eq(u(100)) {
		t.Fatalf("round trip = %v, %v", back, err)
	}
	rNet, err := l.ReflectionFromToken(u(100), true)
	if err != nil {
		t.Fatalf("reflection net: %v", err)
	}
	if net, _ := l.TokenFromReflection(rNet); !net.Eq(u(90)) {
		t.Fatalf("net conversion = %s", net.Dec())
	}
	if _, err := l.ReflectionFromToken(u(1_001), false); err == nil {
		t.Fatalf("expected amount above supply to fail")
	}
	if _, err := l.TokenFromReflection(new(uint256.Int).SetAllOne()); err == nil {
		t.Fatalf("expected reflection above supply to fail")
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	l, holder := newTestLedger(t, 5_000_000)
	a, b := testAddr(2), testAddr(3)
	if err := l.SetFeeSchedule(redistribution(250)); err != nil {
		t.Fatalf("set: %v", err)
	}
	mustTransfer(t, l, holder, a, 1_000_000)
	if err := l.SetExcludedFromReward(b, true); err != nil {
		t.Fatalf("exclude: %v", err)
	}
	mustTransfer(t, l, a, b, 10_000)
	l.SetMaxTransferAmount(u(777))

	restored, err := Restore(l.Export())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	for _, addr := range []crypto.Address{holder, a, b} {
		if !restored.BalanceOf(addr).Eq(l.BalanceOf(addr)) {
			t.Fatalf("balance mismatch for %s", addr)
		}
	}
	if restored.FeeSchedule().Version != l.FeeSchedule().Version {
		t.Fatalf("fee version not restored")
	}
	if !restored.MaxTransferAmount().Eq(u(777)) {
		t.Fatalf("cap not restored")
	}
	if !restored.IsExcludedFromReward(b) {
		t.Fatalf("exclusion not restored")
	}

	tampered := l.Export()
	tampered.ReflectedSupply = new(uint256.Int).AddUint64(tampered.ReflectedSupply, 1)
	if _, err := Restore(tampered); !errors.Is(err, errInconsistentSnapshot) {
		t.Fatalf("expected inconsistent snapshot, got %v", err)
	}
}
