package models

// Household represents a shared expense-tracking group.
//
// The Users map is the authoritative roster at creation/join time; the live
// roster view is synced independently by the sync package.
type Household struct {
	// ID is the backend-issued identifier (push key).
	ID string `json:"id"`

	// Name is the display name of the household (e.g. "Home").
	Name string `json:"name"`

	// Creator is the email address of the creating member. Households are
	// looked up by this field when joining by mail, so the backend keeps an
	// index on it.
	Creator string `json:"creator"`

	// Secret guards membership. It is stored as a bcrypt hash; joining
	// requires presenting the matching plaintext.
	Secret string `json:"secret"`

	// Users is the member roster keyed by user id.
	Users map[string]User `json:"users,omitempty"`
}
