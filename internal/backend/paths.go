package backend

import "strings"

// Households, Users, Expenses and Billing subtrees. All records are scoped
// under their owning household; nothing is stored across households.
const (
	HouseholdsPath = "households"

	usersSegment    = "users"
	expensesSegment = "expenses"
	billingSegment  = "billing"
)

// HouseholdPath addresses a single household node.
func HouseholdPath(householdID string) string {
	return join(HouseholdsPath, householdID)
}

// UsersPath addresses a household's member roster subtree.
func UsersPath(householdID string) string {
	return join(HouseholdsPath, householdID, usersSegment)
}

// UserPath addresses a single roster entry.
func UserPath(householdID, userID string) string {
	return join(HouseholdsPath, householdID, usersSegment, userID)
}

// ExpensesPath addresses a household's expense ledger subtree.
func ExpensesPath(householdID string) string {
	return join(HouseholdsPath, householdID, expensesSegment)
}

// ExpensePath addresses a single ledger entry.
func ExpensePath(householdID, expenseID string) string {
	return join(HouseholdsPath, householdID, expensesSegment, expenseID)
}

// BillingPath addresses a household's billing subtree.
func BillingPath(householdID string) string {
	return join(HouseholdsPath, householdID, billingSegment)
}

// BillingEntryPath addresses a single billing record.
func BillingEntryPath(householdID, billingID string) string {
	return join(HouseholdsPath, householdID, billingSegment, billingID)
}

func join(segments ...string) string {
	return strings.Join(segments, "/")
}
