package services

import "errors"

// Sentinel errors for ledger and protocol operations. Every operation is
// all-or-nothing: when one of these is returned, no state was mutated.
var (
	// ErrAlreadyInitialized second call to one-time setup
	ErrAlreadyInitialized = errors.New("escrow already initialized")

	// ErrInvalidAmount zero-amount deposit
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientUnderlyingBalance withdrawal exceeds the underlying balance
	ErrInsufficientUnderlyingBalance = errors.New("insufficient underlying balance")

	// ErrInsufficientShareBalance withdrawal or opt-out exceeds the share balance
	ErrInsufficientShareBalance = errors.New("insufficient share balance")

	// ErrUserCannotWithdraw catch-all balance guard failure
	ErrUserCannotWithdraw = errors.New("user cannot withdraw")

	// ErrInsufficientConvertedAmountReceived vault redemption returned less
	// underlying than the requested withdrawal
	ErrInsufficientConvertedAmountReceived = errors.New("insufficient converted amount received from vault")

	// ErrAlreadyOptedIn opt-in requested by an opted-in user
	ErrAlreadyOptedIn = errors.New("user already opted in")

	// ErrNotOptedIn opt-out requested by a user who is not opted in
	ErrNotOptedIn = errors.New("user not opted in")

	// ErrInvalidAddress zero address supplied where a live reference is required
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnauthorized caller lacks the required admin role
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMessageAlreadyProcessed duplicate application of a message id
	ErrMessageAlreadyProcessed = errors.New("message already processed")

	// ErrTokenTransferFailed the asset transfer primitive reported failure
	ErrTokenTransferFailed = errors.New("token transfer failed")

	// ErrUnauthorizedPeer message origin is not the registered peer for its endpoint
	ErrUnauthorizedPeer = errors.New("unauthorized peer")

	// ErrObligationPending a transfer to this recipient is already outstanding
	ErrObligationPending = errors.New("obligation already pending for recipient")
)
