// Package auth resolves the caller identity from a bearer token.
package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ciphertalk/internal/models"
)

// ErrUnauthenticated is returned for any token that does not yield an identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims carried by access tokens. Subject holds the numeric user id.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// JWTProvider validates HS256 tokens signed with a shared secret.
type JWTProvider struct {
	secret []byte
	issuer string
}

func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer}
}

// Authenticate checks signature, expiry and issuer.
func (p *JWTProvider) Authenticate(_ context.Context, token string) (models.Identity, error) {
	if token == "" || len(p.secret) == 0 {
		return models.Identity{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return models.Identity{}, ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return models.Identity{}, ErrUnauthenticated
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return models.Identity{}, ErrUnauthenticated
	}
	return models.Identity{UserID: userID, Username: claims.Username}, nil
}

// Issue signs a token for the identity. Used by tooling and tests.
func (p *JWTProvider) Issue(id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: id.Username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
