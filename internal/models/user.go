package models

// User represents a household member.
//
// A User record is created when a principal creates or joins a household. Its
// ID is assigned by the backend on first membership registration; before
// that, the id supplied by the identity provider may be used. The record is
// immutable after creation except for transient in-memory enrichment on
// expenses.
type User struct {
	// ID is the backend-issued identifier (push key).
	ID string `json:"id"`

	// Name is the display name of the member.
	Name string `json:"name"`

	// Email is the member's email address.
	Email string `json:"email"`
}
