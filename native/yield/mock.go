package yield

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

// MockStrategy is a deterministic in-memory venue. Limits cap how much a single
// deposit or withdrawal honours; injected errors fail the matching call.
type MockStrategy struct {
	mu          sync.Mutex
	custody     crypto.Address
	balance     *uint256.Int
	acceptLimit *uint256.Int
	returnLimit *uint256.Int
	depositErr  error
	withdrawErr error
	balanceErr  error
	calls       map[string]int
}

// NewMockStrategy constructs an empty mock bound to the custody account.
func NewMockStrategy(custody crypto.Address) *MockStrategy {
	return &MockStrategy{custody: custody, balance: new(uint256.Int), calls: make(map[string]int)}
}

func (m *MockStrategy) Custody() crypto.Address { return m.custody }

// SetAcceptLimit caps each deposit. Nil accepts everything.
func (m *MockStrategy) SetAcceptLimit(limit *uint256.Int) {
	m.mu.Lock()
	m.acceptLimit = cloneOrNil(limit)
	m.mu.Unlock()
}

// SetReturnLimit caps each withdrawal. Nil returns up to the held balance.
func (m *MockStrategy) SetReturnLimit(limit *uint256.Int) {
	m.mu.Lock()
	m.returnLimit = cloneOrNil(limit)
	m.mu.Unlock()
}

func (m *MockStrategy) FailDeposit(err error) {
	m.mu.Lock()
	m.depositErr = err
	m.mu.Unlock()
}

func (m *MockStrategy) FailWithdraw(err error) {
	m.mu.Lock()
	m.withdrawErr = err
	m.mu.Unlock()
}

func (m *MockStrategy) FailBalance(err error) {
	m.mu.Lock()
	m.balanceErr = err
	m.mu.Unlock()
}

// Slash removes value from the venue without a withdrawal, simulating a loss.
func (m *MockStrategy) Slash(amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount.Gt(m.balance) {
		m.balance.Clear()
		return
	}
	m.balance.Sub(m.balance, amount)
}

// Calls returns how many times the named method was invoked.
func (m *MockStrategy) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockStrategy) Deposit(_ context.Context, amount *uint256.Int) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["deposit"]++
	if m.depositErr != nil {
		return nil, m.depositErr
	}
	accepted := new(uint256.Int).Set(amount)
	if m.acceptLimit != nil && accepted.Gt(m.acceptLimit) {
		accepted.Set(m.acceptLimit)
	}
	m.balance.Add(m.balance, accepted)
	return accepted, nil
}

func (m *MockStrategy) Withdraw(_ context.Context, amount *uint256.Int) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["withdraw"]++
	if m.withdrawErr != nil {
		return nil, m.withdrawErr
	}
	returned := new(uint256.Int).Set(amount)
	if returned.Gt(m.balance) {
		returned.Set(m.balance)
	}
	if m.returnLimit != nil && returned.Gt(m.returnLimit) {
		returned.Set(m.returnLimit)
	}
	m.balance.Sub(m.balance, returned)
	return returned, nil
}

func (m *MockStrategy) CurrentBalance(context.Context) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["balance"]++
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return new(uint256.Int).Set(m.balance), nil
}

func cloneOrNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}
