package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken reports a malformed, mistyped or expired identity token.
var ErrInvalidToken = errors.New("identity: invalid or expired token")

// Claims are the custom JWT claims carried by an identity token.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenProvider resolves the current principal from an HS256-signed JWT, the
// shape a hosted auth provider hands the app after sign-in. The token is
// validated once and the principal cached.
type TokenProvider struct {
	principal Principal
	signedIn  bool
}

// NewTokenProvider validates token against secretKey and returns a provider
// yielding the embedded principal.
func NewTokenProvider(token string, secretKey []byte) (*TokenProvider, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return &TokenProvider{
		principal: Principal{
			ID:          claims.Subject,
			DisplayName: claims.Name,
			Email:       claims.Email,
		},
		signedIn: true,
	}, nil
}

// CurrentPrincipal implements Provider.
func (p *TokenProvider) CurrentPrincipal() (Principal, bool) {
	return p.principal, p.signedIn
}

// SignToken mints an identity token for the given principal, valid for ttl.
// Used by tests and local tooling to mimic the auth provider.
func SignToken(principal Principal, secretKey []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name:  principal.DisplayName,
		Email: principal.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}
