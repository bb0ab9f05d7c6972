package models

import "github.com/shopspring/decimal"

// Billing represents a settlement between two household members: a payment
// from Debtor to Creditor that clears part of the month's balance. Billing
// records are append-only.
type Billing struct {
	// ID is the backend-issued identifier (push key).
	ID string `json:"id"`

	// Month is the accounting period the settlement belongs to, formatted
	// as "2006-01".
	Month string `json:"month"`

	// Amount is the payment amount.
	Amount decimal.Decimal `json:"amount"`

	// Debtor is the user id of the member who paid.
	Debtor string `json:"debtor"`

	// Creditor is the user id of the member who received the payment.
	Creditor string `json:"creditor"`
}
