// Package auth implements the access gate: it turns a presented bearer
// token into a Principal and checks the principal's role against a route.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/model"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID    uuid.UUID
	Role      model.Role
	TokenID   string
	ExpiresAt time.Time
}

// RevocationList remembers tokens that were logged out before they expired.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Gate struct {
	secret  []byte
	expiry  time.Duration
	revoked RevocationList
	now     func() time.Time
}

// NewGate builds a gate signing HS256 tokens. revoked may be nil, in which
// case logout has no server-side effect.
func NewGate(secret string, expiry time.Duration, revoked RevocationList) *Gate {
	return &Gate{secret: []byte(secret), expiry: expiry, revoked: revoked, now: time.Now}
}

func (g *Gate) Issue(user *model.User) (string, time.Time, error) {
	now := g.now()
	expiresAt := now.Add(g.expiry)
	c := claims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Authenticate classifies an Authorization header value. Every failure
// surfaces as ErrUnauthenticated, except revocation-store outages.
func (g *Gate) Authenticate(ctx context.Context, header string) (Principal, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return Principal{}, ErrUnauthenticated
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(g.now), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}
	role, err := model.ParseRole(c.Role)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	p := Principal{UserID: userID, Role: role, TokenID: c.ID, ExpiresAt: c.ExpiresAt.Time}
	if g.revoked != nil && p.TokenID != "" {
		revoked, err := g.revoked.IsRevoked(ctx, p.TokenID)
		if err != nil {
			return Principal{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Principal{}, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
		}
	}
	return p, nil
}

func (g *Gate) Authorize(p Principal, required model.Role) error {
	if p.Role != required {
		return ErrForbidden
	}
	return nil
}

// Revoke invalidates the principal's token for the rest of its lifetime.
func (g *Gate) Revoke(ctx context.Context, p Principal) error {
	if g.revoked == nil || p.TokenID == "" {
		return nil
	}
	ttl := p.ExpiresAt.Sub(g.now())
	if ttl <= 0 {
		return nil
	}
	return g.revoked.Revoke(ctx, p.TokenID, ttl)
}
