package custody

import "errors"

// Sentinel errors shared across the custody services. Services wrap these with
// fmt.Errorf("...: %w", ...) so callers match them with errors.Is.
var (
	// ErrNotAuthorized is returned when the presented caller identity does not
	// match the required admin or owner identity.
	ErrNotAuthorized = errors.New("not authorized to perform this action")

	// ErrInsufficientFunds is returned when a deduction or withdrawal exceeds
	// the remaining allowance or available balance.
	ErrInsufficientFunds = errors.New("insufficient funds in escrow")

	// ErrNoRemainingAllowance is returned by revocation when the allowance is
	// already fully spent or already revoked.
	ErrNoRemainingAllowance = errors.New("no remaining allowance to revoke")

	// ErrInsufficientLiquidity is returned by swap-and-pay when the treasury
	// token vault cannot cover the payment.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity in treasury")

	// ErrDuplicateSession is returned when a session identifier has already
	// been consumed by an earlier swap-and-pay call.
	ErrDuplicateSession = errors.New("session already recorded")

	// ErrInvalidCategory rejects leaderboard category names over 32 bytes.
	ErrInvalidCategory = errors.New("invalid category name (maximum 32 characters)")

	// ErrEscrowExists is returned when an owner already holds an escrow.
	ErrEscrowExists = errors.New("escrow already exists for owner")

	// ErrEscrowNotFound is returned when no escrow exists for the owner.
	ErrEscrowNotFound = errors.New("escrow not found")

	// ErrRegistryNotInitialized is returned by privileged operations before the
	// registry bootstrap has run.
	ErrRegistryNotInitialized = errors.New("registry not initialized")

	// ErrRegistryInitialized rejects a second registry bootstrap.
	ErrRegistryInitialized = errors.New("registry already initialized")
)
