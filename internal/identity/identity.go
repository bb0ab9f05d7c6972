// Package identity abstracts the authentication collaborator. The core never
// performs an authentication flow itself; it only asks who the currently
// authenticated principal is.
package identity

// Principal is the currently authenticated identity.
type Principal struct {
	// ID is the provider-assigned identifier. It seeds the user id before
	// the backend issues a membership push key.
	ID string

	// DisplayName is the human-readable name.
	DisplayName string

	// Email is the principal's email address.
	Email string
}

// Provider yields the currently authenticated principal.
type Provider interface {
	// CurrentPrincipal returns the signed-in principal, or false if nobody
	// is signed in.
	CurrentPrincipal() (Principal, bool)
}

// Static is a fixed-principal provider, used in tests and local tooling.
type Static struct {
	Principal Principal
	SignedIn  bool
}

// CurrentPrincipal implements Provider.
func (s *Static) CurrentPrincipal() (Principal, bool) {
	return s.Principal, s.SignedIn
}
