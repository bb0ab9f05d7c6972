package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var secretKey = []byte("test-signing-key")

func TestTokenProviderRoundTrip(t *testing.T) {
	principal := Principal{ID: "auth-1", DisplayName: "Ada", Email: "ada@example.com"}
	token, err := SignToken(principal, secretKey, time.Hour)
	require.NoError(t, err)

	provider, err := NewTokenProvider(token, secretKey)
	require.NoError(t, err)

	got, ok := provider.CurrentPrincipal()
	require.True(t, ok)
	require.Equal(t, principal, got)
}

func TestTokenProviderWrongKey(t *testing.T) {
	token, err := SignToken(Principal{ID: "auth-1"}, secretKey, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenProvider(token, []byte("other-key"))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProviderExpired(t *testing.T) {
	token, err := SignToken(Principal{ID: "auth-1"}, secretKey, -time.Minute)
	require.NoError(t, err)

	_, err = NewTokenProvider(token, secretKey)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProviderGarbage(t *testing.T) {
	_, err := NewTokenProvider("not.a.token", secretKey)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaticProvider(t *testing.T) {
	_, ok := (&Static{}).CurrentPrincipal()
	require.False(t, ok)

	principal := Principal{ID: "auth-1", DisplayName: "Ada"}
	got, ok := (&Static{Principal: principal, SignedIn: true}).CurrentPrincipal()
	require.True(t, ok)
	require.Equal(t, principal, got)
}
