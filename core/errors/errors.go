package errors

import stderrors "errors"

// Ledger failures.
var (
	ErrInvalidAmount       = stderrors.New("ledger: amount must be positive")
	ErrInsufficientBalance = stderrors.New("ledger: insufficient balance")
	ErrRateUnderflow       = stderrors.New("ledger: reflection rate underflow")
	ErrArithmeticOverflow  = stderrors.New("ledger: arithmetic overflow")
	ErrTransferCapExceeded = stderrors.New("ledger: transfer exceeds configured cap")
	ErrInvalidFeeSchedule  = stderrors.New("ledger: invalid fee schedule")
)

// Authorization failures.
var (
	ErrUnauthorized = stderrors.New("authority: caller not authorized")
)

// Staking and tier failures.
var (
	ErrLockDurationNotMet = stderrors.New("stake: minimum lock duration not met")
	ErrInvalidTierIndex   = stderrors.New("stake: invalid tier index")
	ErrInvalidTier        = stderrors.New("stake: invalid tier definition")
	ErrPriceUnavailable   = stderrors.New("oracle: price unavailable")
)

// Yield deployment failures.
var (
	ErrDeployedSharesMismatch = stderrors.New("yield: deployed shares exceed strategy balance")
	ErrAdapterCallFailed      = stderrors.New("yield: adapter call failed")
	ErrStrategyNotConfigured  = stderrors.New("yield: strategy not configured")
	ErrDeploymentCapExceeded  = stderrors.New("yield: deployment exceeds maximum fraction of locked principal")
)
