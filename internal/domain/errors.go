package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidConfiguration = errors.New("invalid market configuration")
	ErrInvalidAmount        = errors.New("invalid amount")

	// Lifecycle violations.
	ErrMarketNotOpen   = errors.New("market not open for betting")
	ErrMarketNotClosed = errors.New("market has not reached close time")
	ErrNotResolved     = errors.New("market not resolved")
	ErrNotSettled      = errors.New("market not settled")

	// Re-entry into one-shot transitions.
	ErrAlreadyResolved         = errors.New("market already resolved")
	ErrAlreadyDecryptRequested = errors.New("decrypt already requested")
	ErrAlreadySettled          = errors.New("market already settled")
	ErrAlreadyWithdrawn        = errors.New("bet already withdrawn")

	// Decryption boundary.
	ErrDecryptNotReady = errors.New("decryption result not ready")
	ErrDecryptFailed   = errors.New("decryption failed")

	// Shielded transfers.
	ErrInsufficientAuthorization = errors.New("no active operator authorization")

	ErrStaleOracle = errors.New("oracle quote is stale")
	ErrLockHeld    = errors.New("lock already held")
)
