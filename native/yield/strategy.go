package yield

import (
	"context"

	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

// Strategy is an external yield venue. Accepted and returned amounts are
// authoritative even when they differ from the request.
type Strategy interface {
	// Deposit offers amount to the venue and reports how much it accepted.
	Deposit(ctx context.Context, amount *uint256.Int) (*uint256.Int, error)
	// Withdraw requests amount back and reports how much was returned.
	Withdraw(ctx context.Context, amount *uint256.Int) (*uint256.Int, error)
	// CurrentBalance reports what the venue currently holds for the engine.
	CurrentBalance(ctx context.Context) (*uint256.Int, error)
	// Custody is the ledger account holding deployed tokens for the venue.
	Custody() crypto.Address
}
