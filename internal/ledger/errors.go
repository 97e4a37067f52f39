package ledger

import "errors"

var (
	ErrInvalidDuration           = errors.New("InvalidDuration")
	ErrInvalidAmount             = errors.New("InvalidAmount")
	ErrInvalidIdentity           = errors.New("InvalidIdentity")
	ErrStillLocked               = errors.New("StillLocked")
	ErrNotOwnerOrAlreadyReleased = errors.New("NotOwnerOrAlreadyReleased")

	// ErrInsufficientBalance is returned when a debit exceeds the account
	// balance.
	ErrInsufficientBalance = errors.New("InsufficientBalance")
	// ErrPositionNotFound is returned for lookups of unknown or released
	// positions.
	ErrPositionNotFound = errors.New("PositionNotFound")
)

// Errors lists every sentinel that travels over the API by name.
var Errors = []error{
	ErrInvalidAmount,
	ErrInvalidDuration,
	ErrInvalidIdentity,
	ErrStillLocked,
	ErrNotOwnerOrAlreadyReleased,
	ErrInsufficientBalance,
	ErrPositionNotFound,
}
