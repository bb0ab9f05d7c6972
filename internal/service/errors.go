// Package service implements the membership, expense and billing operations
// on top of the backend client. Every operation resolves with a value or a
// tagged error; platform errors never escape past this boundary untyped.
package service

import "errors"

var (
	// ErrNoSuchHousehold reports a join or lookup against a household that
	// does not exist (anymore).
	ErrNoSuchHousehold = errors.New("no such household")

	// ErrInvalidSecret reports a join attempt with a wrong household secret.
	// No membership record is created.
	ErrInvalidSecret = errors.New("invalid household secret")

	// ErrNoExpenseFound reports a single-expense fetch miss.
	ErrNoExpenseFound = errors.New("no expense found")

	// ErrNotSignedIn reports an operation that requires an authenticated
	// principal while nobody is signed in.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrNoHousehold reports an operation that requires a joined household
	// before one has been resolved.
	ErrNoHousehold = errors.New("no household joined")
)

// UserMessage maps an error to a displayable message. Unknown errors fall
// back to a generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSuchHousehold):
		return "This household does not exist."
	case errors.Is(err, ErrInvalidSecret):
		return "The household secret is not correct."
	case errors.Is(err, ErrNoExpenseFound):
		return "This expense could not be found."
	case errors.Is(err, ErrNotSignedIn):
		return "Please sign in first."
	case errors.Is(err, ErrNoHousehold):
		return "Please join a household first."
	default:
		return "Something went wrong. Please try again."
	}
}
