package yield

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

func TestMockStrategyHonoursLimits(t *testing.T) {
	ctx := context.Background()
	m := NewMockStrategy(crypto.ModuleAddress("yield-mock"))
	m.SetAcceptLimit(uint256.NewInt(300))

	accepted, err := m.Deposit(ctx, uint256.NewInt(500))
	if err != nil || !accepted.Eq(uint256.NewInt(300)) {
		t.Fatalf("deposit = %v, %v", accepted, err)
	}
	m.SetReturnLimit(uint256.NewInt(100))
	returned, err := m.Withdraw(ctx, uint256.NewInt(250))
	if err != nil || !returned.Eq(uint256.NewInt(100)) {
		t.Fatalf("withdraw = %v, %v", returned, err)
	}
	m.SetReturnLimit(nil)
	returned, err = m.Withdraw(ctx, uint256.NewInt(1_000))
	if err != nil || !returned.Eq(uint256.NewInt(200)) {
		t.Fatalf("withdraw remainder = %v, %v", returned, err)
	}
	bal, _ := m.CurrentBalance(ctx)
	if !bal.IsZero() {
		t.Fatalf("balance = %s", bal.Dec())
	}
	if m.Calls("deposit") != 1 || m.Calls("withdraw") != 2 || m.Calls("balance") != 1 {
		t.Fatalf("unexpected call counts")
	}
}

func TestMockStrategyInjectedFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMockStrategy(crypto.ModuleAddress("yield-mock"))
	boom := errors.New("boom")
	m.FailDeposit(boom)
	if _, err := m.Deposit(ctx, uint256.NewInt(1)); !errors.Is(err, boom) {
		t.Fatalf("expected deposit failure, got %v", err)
	}
	m.FailDeposit(nil)
	if _, err := m.Deposit(ctx, uint256.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	m.Slash(uint256.NewInt(4))
	if bal, _ := m.CurrentBalance(ctx); !bal.Eq(uint256.NewInt(6)) {
		t.Fatalf("balance after slash = %s", bal.Dec())
	}
	m.FailWithdraw(boom)
	if _, err := m.Withdraw(ctx, uint256.NewInt(1)); !errors.Is(err, boom) {
		t.Fatalf("expected withdraw failure, got %v", err)
	}
	m.FailBalance(boom)
	if _, err := m.CurrentBalance(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected balance failure, got %v", err)
	}
}
