package redemption

import "errors"

var (
	ErrRedemptionNotFound    = errors.New("redemption not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrInvalidTransition     = errors.New("invalid status transition")

	// ErrIdempotencyKeyReused is returned when a key is replayed with a
	// different item or quantity than the original request.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different request")

	// ErrDuplicateKey signals that a concurrent request with the same
	// idempotency key won the insert. The service resolves it to a replay.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)
