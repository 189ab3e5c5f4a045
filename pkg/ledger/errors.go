package ledger

import "errors"

// Sentinel failures for the four rejection causes, kept distinct so HTTP
// handlers and other callers can branch on each one.
var (
	// ErrUnauthorized is returned when a caller other than the owner attempts
	// a catalog mutation.
	ErrUnauthorized = errors.New("only the owner can perform this action")

	// ErrNotFound is returned when the referenced item id was never assigned.
	ErrNotFound = errors.New("item not found")

	// ErrOutOfStock is returned when a purchase cannot be covered by the
	// remaining stock.
	ErrOutOfStock = errors.New("item is out of stock")

	// ErrInsufficientPayment is returned when the attached payment is below
	// the unit price.
	ErrInsufficientPayment = errors.New("insufficient payment")
)

// validationError communicates input rule violations back to HTTP handlers.
type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

// newValidationError keeps the constructor private to the package.
func newValidationError(msg string) error {
	return validationError{message: msg}
}

// IsValidation helps callers distinguish between bad input and the typed
// ledger rejections above.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}
