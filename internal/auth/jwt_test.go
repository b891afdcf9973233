package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ciphertalk/internal/models"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	p := NewJWTProvider("secret", "ciphertalk-auth")
	token, err := p.Issue(models.Identity{UserID: 42, Username: "alice"}, time.Minute)
	require.NoError(t, err)

	id, err := p.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: 42, Username: "alice"}, id)
}

func TestAuthenticateRejects(t *testing.T) {
	p := NewJWTProvider("secret", "ciphertalk-auth")
	alice := models.Identity{UserID: 42, Username: "alice"}

	expired, err := p.Issue(alice, -time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewJWTProvider("secret", "someone-else").Issue(alice, time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewJWTProvider("other", "ciphertalk-auth").Issue(alice, time.Minute)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "ciphertalk-auth"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: "ciphertalk-auth"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":    "",
		"garbage":  "not-a-jwt",
		"expired":  expired,
		"issuer":   otherIssuer,
		"secret":   otherSecret,
		"subject":  badSubject,
		"alg none": noneAlg,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Authenticate(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestAuthenticateWithoutSecret(t *testing.T) {
	_, err := NewJWTProvider("", "").Authenticate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
