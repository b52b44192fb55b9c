// Package accesstoken mints and verifies the bearer tokens handed out at the end of the device flow
package accesstoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wrale/phantom/internal/deviceflow"
)

// TokenType is the token_type reported with every access token
const TokenType = "Bearer"

// DefaultLifetime applies when no lifetime is configured
const DefaultLifetime = 24 * time.Hour

// ErrInvalidToken is returned by Verify for any token that does not check out
var ErrInvalidToken = errors.New("invalid access token")

// Claims are the JWT claims carried by an access token
type Claims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 tokens for approved device authorizations
type Issuer struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

// NewIssuer creates an issuer. The secret must be at least 32 bytes.
func NewIssuer(secret []byte, issuer string, lifetime time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Issuer{
		secret:   secret,
		issuer:   issuer,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// IssueToken mints the access token for an approved request
func (i *Issuer) IssueToken(_ context.Context, auth *deviceflow.DeviceAuthorization) (*deviceflow.TokenResponse, error) {
	if auth.UserID == "" {
		return nil, errors.New("authorization has no approving user")
	}

	now := i.now()
	claims := Claims{
		ClientID: auth.ClientID,
		Scope:    auth.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   auth.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	return &deviceflow.TokenResponse{
		AccessToken: signed,
		TokenType:   TokenType,
		ExpiresIn:   int(i.lifetime / time.Second),
		Scope:       auth.Scope,
	}, nil
}

// Verify parses a token and checks its signature, issuer and expiry
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}
