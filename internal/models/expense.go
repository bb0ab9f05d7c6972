package models

import "github.com/shopspring/decimal"

// Expense represents a single ledger entry of a household.
type Expense struct {
	// ID is the backend-issued identifier (push key).
	ID string `json:"id"`

	// Amount is the expense amount.
	Amount decimal.Decimal `json:"amount"`

	// Cause describes what the money was spent on.
	Cause string `json:"cause"`

	// Creator is the user id of the member who created the expense.
	Creator string `json:"creator"`

	// CreatorName is the display name of the creator, denormalized at
	// creation time.
	CreatorName string `json:"creatorName"`

	// User is the roster entry matching Creator. It is derived by the sync
	// layer and never persisted: set if and only if a matching user exists
	// in the roster at the time the expense was last observed, and
	// recomputed whenever either the expense or the roster changes.
	User *User `json:"-"`
}

// Resolved reports whether the creator join has been computed.
func (e *Expense) Resolved() bool {
	return e.User != nil
}
