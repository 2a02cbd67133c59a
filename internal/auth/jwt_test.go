package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	tok, err := v.Issue(presence.Driver("d1"), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actor, err := v.Authenticate(tok, presence.RoleDriver)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if actor != presence.Driver("d1") {
		t.Fatalf("unexpected actor %v", actor)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	v := NewVerifier("s3cret")
	driverTok, _ := v.Issue(presence.Driver("d1"), time.Minute)
	expired, _ := v.Issue(presence.User("u1"), -time.Minute)
	foreign, _ := NewVerifier("other").Issue(presence.User("u1"), time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1", Role: "user"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]struct {
		token string
		role  presence.Role
	}{
		"empty":        {"", presence.RoleUser},
		"garbage":      {"not-a-jwt", presence.RoleUser},
		"wrong role":   {driverTok, presence.RoleAdmin},
		"expired":      {expired, presence.RoleUser},
		"wrong secret": {foreign, presence.RoleUser},
		"alg none":     {none, presence.RoleUser},
	}
	for name, tc := range cases {
		if _, err := v.Authenticate(tc.token, tc.role); !errors.Is(err, models.ErrAuthentication) {
			t.Errorf("%s: expected authentication failure, got %v", name, err)
		}
	}
}
