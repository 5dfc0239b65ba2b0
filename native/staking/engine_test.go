package staking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	coreerrors "reflexstake/core/errors"
	"reflexstake/core/events"
	"reflexstake/crypto"
	nativecommon "reflexstake/native/common"
	"reflexstake/native/oracle"
	"reflexstake/native/reflection"
	"reflexstake/native/yield"
)

const feedID = "reflex-usd"

type fixture struct {
	t        *testing.T
	ledger   *reflection.Ledger
	engine   *Engine
	feed     *oracle.ManualFeed
	clock    *clockwork.FakeClock
	strategy *yield.MockStrategy
	recorder *events.Recorder
	treasury crypto.Address
	alice    crypto.Address
	custody  crypto.Address
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func usd(v uint64) *uint256.Int { return new(uint256.Int).Mul(u(v), wad) }

func testAddr(b byte) crypto.Address {
	var raw [20]byte
	raw[0] = 0xbb
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		treasury: testAddr(1),
		alice:    testAddr(2),
		custody:  crypto.ModuleAddress("yield-custody"),
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		recorder: &events.Recorder{},
	}
	ledger, err := reflection.NewLedger(u(10_000_000), f.treasury)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	engineAccount := crypto.ModuleAddress("staking")
	f.ledger = ledger
	f.exempt(engineAccount)
	f.exempt(f.custody)
	if _, err := ledger.Transfer(f.treasury, f.alice, u(100_000)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	if err := ledger.SetFeeSchedule(reflection.FeeSchedule{Components: []reflection.FeeComponent{{Name: reflection.ComponentRedistribution, Bps: 500, Reflect: true}}}); err != nil {
		t.Fatalf("fee schedule: %v", err)
	}

	f.feed = oracle.NewManualFeed()
	f.setPrice(200_000_000) // 2.00 USD at 8 decimals
	adapter, err := oracle.NewAdapter(oracle.Config{FeedID: feedID, MaxAge: time.Hour}, f.feed, nil)
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	adapter.SetClock(f.clock)

	engine, err := NewEngine(engineAccount, ledger, adapter, params)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	engine.SetClock(f.clock)
	engine.SetEmitter(f.recorder)
	f.strategy = yield.NewMockStrategy(f.custody)
	if err := engine.SetStrategy(f.strategy); err != nil {
		t.Fatalf("strategy: %v", err)
	}
	f.engine = engine
	return f
}

// exempt removes an engine-owned account from fees and rewards so its balance
// is exact.
func (f *fixture) exempt(addr crypto.Address) {
	f.t.Helper()
	if err := f.ledger.SetExcludedFromFee(addr, true); err != nil {
		f.t.Fatalf("exempt fee: %v", err)
	}
	if err := f.ledger.SetExcludedFromReward(addr, true); err != nil {
		f.t.Fatalf("exclude reward: %v", err)
	}
}

func (f *fixture) setPrice(value uint64) {
	f.feed.Set(feedID, oracle.Price{Value: u(value), Decimals: 8, AsOf: f.clock.Now()})
}

func (f *fixture) stake(owner crypto.Address, amount uint64) StakeResult {
	f.t.Helper()
	res, err := f.engine.Stake(context.Background(), owner, u(amount))
	if err != nil {
		f.t.Fatalf("stake %d: %v", amount, err)
	}
	return res
}

func (f *fixture) local() *uint256.Int { return f.ledger.BalanceOf(f.engine.Account()) }

func (f *fixture) deployed() *uint256.Int { return f.engine.YieldState().DeployedShares }

func expectAmount(t *testing.T, name string, got *uint256.Int, want uint64) {
	t.Helper()
	if got == nil || !got.Eq(u(want)) {
		t.Fatalf("%s = %v, want %d", name, got, want)
	}
}

func TestAutoDeployHonoursAcceptedAmount(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true})
	f.strategy.SetAcceptLimit(u(300))

	res := f.stake(f.alice, 1_000)
	if res.DeployErr != nil {
		t.Fatalf("deploy error: %v", res.DeployErr)
	}
	expectAmount(t, "accepted", res.Deployed, 300)
	expectAmount(t, "deployed shares", f.deployed(), 300)
	expectAmount(t, "local balance", f.local(), 700)
	expectAmount(t, "custody balance", f.ledger.BalanceOf(f.custody), 300)
	expectAmount(t, "principal", res.Record.Principal, 1_000)
	expectAmount(t, "alice balance", f.ledger.BalanceOf(f.alice), 99_000)
	if f.strategy.Calls("deposit") != 1 {
		t.Fatalf("expected one deposit, got %d", f.strategy.Calls("deposit"))
	}
	if len(f.recorder.OfType(events.TypeYieldDeployed)) != 1 {
		t.Fatalf("expected yield deployed event")
	}
}

func TestAutoDeployFailureKeepsStake(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true})
	f.strategy.FailDeposit(errors.New("venue offline"))

	res := f.stake(f.alice, 1_000)
	if !errors.Is(res.DeployErr, coreerrors.ErrAdapterCallFailed) {
		t.Fatalf("expected adapter failure, got %v", res.DeployErr)
	}
	expectAmount(t, "principal", res.Record.Principal, 1_000)
	expectAmount(t, "deployed shares", f.deployed(), 0)
	expectAmount(t, "local balance", f.local(), 1_000)
}

func TestStakeTracksLockTimes(t *testing.T) {
	f := newFixture(t, Params{})
	first := f.clock.Now()
	res := f.stake(f.alice, 100)
	if !res.Record.FirstLockTime.Equal(first) || !res.Record.LastLockTime.Equal(first) {
		t.Fatalf("unexpected lock times: %+v", res.Record)
	}
	f.clock.Advance(time.Hour)
	res = f.stake(f.alice, 50)
	if !res.Record.FirstLockTime.Equal(first) {
		t.Fatalf("first lock time moved to %v", res.Record.FirstLockTime)
	}
	if !res.Record.LastLockTime.Equal(first.Add(time.Hour)) {
		t.Fatalf("last lock time = %v", res.Record.LastLockTime)
	}
	expectAmount(t, "principal", res.Record.Principal, 150)
	expectAmount(t, "total locked", f.engine.TotalLocked(), 150)
}

func TestStakeFailuresLeaveNoRecord(t *testing.T) {
	f := newFixture(t, Params{})
	if _, err := f.engine.Stake(context.Background(), f.alice, u(200_000)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, ok := f.engine.StakeOf(f.alice); ok {
		t.Fatalf("failed stake created a record")
	}
	if _, err := f.engine.Stake(context.Background(), f.alice, new(uint256.Int)); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	expectAmount(t, "total locked", f.engine.TotalLocked(), 0)
}

func TestUnstakeLockDurationGate(t *testing.T) {
	f := newFixture(t, Params{MinLockDuration: 24 * time.Hour})
	f.stake(f.alice, 1_000)

	if _, err := f.engine.Unstake(context.Background(), f.alice, u(100)); !errors.Is(err, coreerrors.ErrLockDurationNotMet) {
		t.Fatalf("expected lock duration error, got %v", err)
	}
	zero := time.Duration(0)
	if err := f.engine.SetLockOverride(&zero); err != nil {
		t.Fatalf("override: %v", err)
	}
	res, err := f.engine.Unstake(context.Background(), f.alice, u(100))
	if err != nil {
		t.Fatalf("unstake with zero override: %v", err)
	}
	expectAmount(t, "principal", res.Record.Principal, 900)

	if err := f.engine.SetLockOverride(nil); err != nil {
		t.Fatalf("clear override: %v", err)
	}
	f.stake(f.alice, 100)
	f.clock.Advance(23 * time.Hour)
	if _, err := f.engine.Unstake(context.Background(), f.alice, u(100)); !errors.Is(err, coreerrors.ErrLockDurationNotMet) {
		t.Fatalf("expected lock duration error before 24h, got %v", err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.engine.Unstake(context.Background(), f.alice, u(1_000)); err != nil {
		t.Fatalf("unstake after lock: %v", err)
	}
	record, ok := f.engine.StakeOf(f.alice)
	if !ok || !record.Principal.IsZero() || record.FirstLockTime.IsZero() {
		t.Fatalf("zero principal record should persist with history: %+v", record)
	}
	expectAmount(t, "alice balance", f.ledger.BalanceOf(f.alice), 100_000)
}

func TestUnstakeRecallsShortfall(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true})
	f.stake(f.alice, 1_000)
	expectAmount(t, "deployed shares", f.deployed(), 500)

	res, err := f.engine.Unstake(context.Background(), f.alice, u(800))
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	expectAmount(t, "recalled", res.Recalled, 300)
	expectAmount(t, "deployed shares", f.deployed(), 200)
	expectAmount(t, "principal", res.Record.Principal, 200)
	expectAmount(t, "local balance", f.local(), 0)
	expectAmount(t, "alice balance", f.ledger.BalanceOf(f.alice), 99_800)
}

func TestUnstakePartialRecallLeavesPrincipal(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true})
	f.stake(f.alice, 1_000)
	f.strategy.SetReturnLimit(u(100))

	res, err := f.engine.Unstake(context.Background(), f.alice, u(800))
	if !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance after partial recall, got %v", err)
	}
	expectAmount(t, "recalled", res.Recalled, 100)
	expectAmount(t, "deployed shares", f.deployed(), 400)
	expectAmount(t, "local balance", f.local(), 600)
	record, _ := f.engine.StakeOf(f.alice)
	expectAmount(t, "principal", record.Principal, 1_000)
	expectAmount(t, "alice balance", f.ledger.BalanceOf(f.alice), 99_000)
}

func TestUnstakeUnrecoverableFailsBeforeRecall(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true})
	f.stake(f.alice, 1_000)
	f.strategy.Slash(u(400))

	if _, err := f.engine.Unstake(context.Background(), f.alice, u(700)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if f.strategy.Calls("withdraw") != 0 {
		t.Fatalf("strategy should not be called when the amount is unrecoverable")
	}
	expectAmount(t, "deployed shares", f.deployed(), 500)
	if _, err := f.engine.Unstake(context.Background(), f.alice, u(1_001)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected principal check, got %v", err)
	}
	if _, err := f.engine.Unstake(context.Background(), testAddr(9), u(1)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected missing record to fail, got %v", err)
	}
}

func TestUnstakeAdapterFailureKeepsShares(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true})
	f.stake(f.alice, 1_000)
	f.strategy.FailWithdraw(errors.New("timeout"))

	if _, err := f.engine.Unstake(context.Background(), f.alice, u(900)); !errors.Is(err, coreerrors.ErrAdapterCallFailed) {
		t.Fatalf("expected adapter failure, got %v", err)
	}
	expectAmount(t, "deployed shares", f.deployed(), 500)
	record, _ := f.engine.StakeOf(f.alice)
	expectAmount(t, "principal", record.Principal, 1_000)
}

func TestWithdrawFromYieldNeverExceedsDeployed(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true})
	f.stake(f.alice, 1_000)

	if _, err := f.engine.WithdrawFromYield(context.Background(), u(501)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected over-withdrawal to fail, got %v", err)
	}
	if f.strategy.Calls("withdraw") != 0 {
		t.Fatalf("over-withdrawal reached the strategy")
	}
	returned, err := f.engine.WithdrawFromYield(context.Background(), u(500))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "returned", returned, 500)
	expectAmount(t, "deployed shares", f.deployed(), 0)
	expectAmount(t, "local balance", f.local(), 1_000)
}

func TestDeployToYieldBounds(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000})
	f.stake(f.alice, 1_000)
	expectAmount(t, "deployed shares", f.deployed(), 0)

	if _, err := f.engine.DeployToYield(context.Background(), u(600)); !errors.Is(err, coreerrors.ErrDeploymentCapExceeded) {
		t.Fatalf("expected cap error, got %v", err)
	}
	accepted, err := f.engine.DeployToYield(context.Background(), u(500))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	expectAmount(t, "accepted", accepted, 500)
	if _, err := f.engine.DeployToYield(context.Background(), u(1)); !errors.Is(err, coreerrors.ErrDeploymentCapExceeded) {
		t.Fatalf("expected cap error at the limit, got %v", err)
	}

	if err := f.engine.SetMaxDeploymentBps(10_000); err != nil {
		t.Fatalf("max bps: %v", err)
	}
	if err := f.engine.SetMinReserve(u(400)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.engine.DeployToYield(context.Background(), u(200)); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected reserve to block deployment, got %v", err)
	}
	if _, err := f.engine.DeployToYield(context.Background(), u(100)); err != nil {
		t.Fatalf("deploy above reserve: %v", err)
	}
	expectAmount(t, "deployed shares", f.deployed(), 600)
	if err := f.engine.SetMaxDeploymentBps(10_001); err == nil {
		t.Fatalf("expected bps above 10000 to fail")
	}
}

func TestMismatchDetectionAndReconciliation(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true})
	f.stake(f.alice, 1_000)

	replacementCustody := crypto.ModuleAddress("yield-custody-2")
	replacement := yield.NewMockStrategy(replacementCustody)
	if err := f.engine.SetStrategy(replacement); !errors.Is(err, errCustodyNotExempt) {
		t.Fatalf("expected non-exempt custody to be rejected, got %v", err)
	}
	f.exempt(replacementCustody)
	if err := f.engine.SetStrategy(replacement); err != nil {
		t.Fatalf("set strategy: %v", err)
	}
	expectAmount(t, "deployed shares after reassignment", f.deployed(), 500)

	check, err := f.engine.CheckDeployment(context.Background())
	if !errors.Is(err, coreerrors.ErrDeployedSharesMismatch) || check.Healthy {
		t.Fatalf("expected mismatch, got %+v %v", check, err)
	}
	if len(f.recorder.OfType(events.TypeYieldMismatch)) != 1 {
		t.Fatalf("expected mismatch event")
	}

	result, err := f.engine.ReconcileByRedeploy(context.Background())
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	expectAmount(t, "deposited", result.Deposited, 500)
	expectAmount(t, "deployed shares", f.deployed(), 500)
	expectAmount(t, "local balance", f.local(), 0)
	if _, err := f.engine.CheckDeployment(context.Background()); err != nil {
		t.Fatalf("expected healthy deployment after redeploy, got %v", err)
	}

	empty := yield.NewMockStrategy(f.custody)
	if err := f.engine.SetStrategy(empty); err != nil {
		t.Fatalf("set strategy: %v", err)
	}
	if _, err := f.engine.CheckDeployment(context.Background()); !errors.Is(err, coreerrors.ErrDeployedSharesMismatch) {
		t.Fatalf("expected mismatch on empty strategy, got %v", err)
	}
	reset, err := f.engine.ResetDeployedShares(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	expectAmount(t, "reset before", reset.DeployedBefore, 500)
	expectAmount(t, "deployed shares", f.deployed(), 0)
	if check, err := f.engine.CheckDeployment(context.Background()); err != nil || !check.Healthy {
		t.Fatalf("expected healthy after reset, got %+v %v", check, err)
	}
}

func TestReconcileByRedeployRequiresLocalFunds(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 10_000, AutoDeploy: true})
	f.stake(f.alice, 1_000)
	expectAmount(t, "local balance", f.local(), 0)
	f.strategy.Slash(u(200))

	if _, err := f.engine.ReconcileByRedeploy(context.Background()); !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	expectAmount(t, "deployed shares", f.deployed(), 1_000)
}

func TestStakingPaused(t *testing.T) {
	f := newFixture(t, Params{})
	pauses := nativecommon.NewPauseSet()
	pauses.Set(nativecommon.ModuleStaking, true)
	f.engine.SetPauses(pauses)
	if _, err := f.engine.Stake(context.Background(), f.alice, u(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if _, err := f.engine.DeployToYield(context.Background(), u(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
}

func TestLedgerPauseBlocksStrategyCalls(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 10_000})
	f.stake(f.alice, 1_000)
	if _, err := f.engine.DeployToYield(context.Background(), u(600)); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	f.strategy.Slash(u(100))

	pauses := nativecommon.NewPauseSet()
	f.ledger.SetPauses(pauses)
	f.engine.SetPauses(pauses)
	pauses.Set(nativecommon.ModuleLedger, true)

	deposits, withdrawals := f.strategy.Calls("deposit"), f.strategy.Calls("withdraw")
	if _, err := f.engine.DeployToYield(context.Background(), u(400)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("deploy: expected paused error, got %v", err)
	}
	if _, err := f.engine.WithdrawFromYield(context.Background(), u(100)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("withdraw: expected paused error, got %v", err)
	}
	if _, err := f.engine.Unstake(context.Background(), f.alice, u(700)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("unstake: expected paused error, got %v", err)
	}
	if _, err := f.engine.ReconcileByRedeploy(context.Background()); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("redeploy: expected paused error, got %v", err)
	}
	if got := f.strategy.Calls("deposit"); got != deposits {
		t.Fatalf("strategy deposits while ledger paused: %d -> %d", deposits, got)
	}
	if got := f.strategy.Calls("withdraw"); got != withdrawals {
		t.Fatalf("strategy withdrawals while ledger paused: %d -> %d", withdrawals, got)
	}
	balance, err := f.strategy.CurrentBalance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	expectAmount(t, "strategy balance", balance, 500)
	expectAmount(t, "deployed shares", f.deployed(), 600)
	expectAmount(t, "local balance", f.local(), 400)
	record, _ := f.engine.StakeOf(f.alice)
	expectAmount(t, "principal", record.Principal, 1_000)

	pauses.Set(nativecommon.ModuleLedger, false)
	res, err := f.engine.Unstake(context.Background(), f.alice, u(500))
	if err != nil {
		t.Fatalf("unstake after resume: %v", err)
	}
	expectAmount(t, "recalled", res.Recalled, 100)
	expectAmount(t, "deployed shares", f.deployed(), 500)
	expectAmount(t, "alice balance", f.ledger.BalanceOf(f.alice), 99_500)
}

func TestNewEngineRequiresFeeExemptAccount(t *testing.T) {
	ledger, err := reflection.NewLedger(u(1_000), testAddr(1))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	feed := oracle.NewManualFeed()
	adapter, err := oracle.NewAdapter(oracle.Config{FeedID: feedID, MaxAge: time.Minute}, feed, nil)
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	if _, err := NewEngine(crypto.ModuleAddress("staking"), ledger, adapter, Params{}); !errors.Is(err, errEngineNotExempt) {
		t.Fatalf("expected fee exemption requirement, got %v", err)
	}
}

func TestExportRestoreEngine(t *testing.T) {
	f := newFixture(t, Params{MaxDeploymentBps: 5_000, AutoDeploy: true, MinLockDuration: time.Hour})
	if _, err := f.engine.AddTier(Tier{USDThreshold: usd(1_000), Label: "bronze"}); err != nil {
		t.Fatalf("add tier: %v", err)
	}
	f.stake(f.alice, 1_000)

	restored, err := RestoreEngine(f.engine.Export(), f.ledger, nil)
	if err == nil {
		t.Fatalf("expected missing price source to fail")
	}
	adapter, _ := oracle.NewAdapter(oracle.Config{FeedID: feedID, MaxAge: time.Hour}, f.feed, nil)
	restored, err = RestoreEngine(f.engine.Export(), f.ledger, adapter)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	expectAmount(t, "total locked", restored.TotalLocked(), 1_000)
	expectAmount(t, "deployed", restored.YieldState().DeployedShares, 500)
	if len(restored.Tiers()) != 1 {
		t.Fatalf("tiers not restored")
	}
	if minLock, _ := restored.LockPolicy(); minLock != time.Hour {
		t.Fatalf("lock policy not restored")
	}
	record, ok := restored.StakeOf(f.alice)
	if !ok || !record.Principal.Eq(u(1_000)) {
		t.Fatalf("stake not restored: %+v", record)
	}

	tampered := f.engine.Export()
	tampered.TotalLocked = u(1)
	if _, err := RestoreEngine(tampered, f.ledger, adapter); err == nil {
		t.Fatalf("expected inconsistent total to fail")
	}
}
