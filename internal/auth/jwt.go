// Package auth verifies the identity proof presented when a channel joins.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"` // user | driver | admin
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: "ride-dispatch"}
}

// Issue signs a token for actor; used by tooling and tests.
func (v *Verifier) Issue(actor presence.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: actor.ID,
		Role:   string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", models.ErrAuthentication)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", models.ErrAuthentication)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no user id", models.ErrAuthentication)
	}
	return claims, nil
}

// Authenticate verifies token and that it was issued for role.
func (v *Verifier) Authenticate(token string, role presence.Role) (presence.Actor, error) {
	claims, err := v.Parse(token)
	if err != nil {
		return presence.Actor{}, err
	}
	if presence.Role(claims.Role) != role {
		return presence.Actor{}, fmt.Errorf("%w: token role %q cannot join as %s", models.ErrAuthentication, claims.Role, role)
	}
	return presence.Actor{Role: role, ID: claims.UserID}, nil
}
