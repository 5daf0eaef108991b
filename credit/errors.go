/*
errors.go - Centralized error types for the credit ledger

PURPOSE:
  All ledger error types in one place. Callers branch on them with
  errors.Is / errors.As.

ERROR CATEGORIES:
  1. Caller bugs        - ErrInvalidAmount, ErrAccountNotFound
  2. Business outcomes  - ErrInsufficientCredits (expected, not a fault)
  3. Store failures     - ErrStoreUnavailable (transient, maybe retryable)

PROPAGATION POLICY:
  ErrInsufficientCredits is recovered locally into a user-facing
  "buy more credits" message. ErrInvalidAmount and ErrAccountNotFound
  indicate upstream programming errors and surface as internal errors.
  ErrStoreUnavailable is retryable only when the caller has its own
  idempotency protection (SettlePurchase does; Grant and Consume do not).

SEE ALSO:
  - ledger.go: Returns these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an operation receives a
	// non-positive amount. This is a caller bug, never user input.
	ErrInvalidAmount = errors.New("amount must be strictly positive")

	// ErrInsufficientCredits is returned when a consume would overdraw
	// the account. Expected business condition, not a system fault.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAccountNotFound is returned when the target account does not
	// exist and the operation is not permitted to create it.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateSettlement is the store-level signal that a PURCHASE
	// with the same settlement id already exists. The ledger converts it
	// into a successful no-op; it never escapes SettlePurchase.
	ErrDuplicateSettlement = errors.New("duplicate settlement id")

	// ErrStoreUnavailable is returned when the durable store failed to
	// commit. The operation may or may not have happened; callers must
	// treat the outcome as ambiguous.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError reports how short the account is.
type InsufficientCreditsError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error maps to a 4xx outcome.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAccountNotFound)
}

// IsRetryable returns true if retrying the whole call might succeed.
// Safe to act on only when the caller holds an idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
