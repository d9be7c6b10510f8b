package auth

import (
	"testing"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier("sekrit", "pokerhall")
	raw := signToken(t, "sekrit", jwt.MapClaims{
		"iss": "pokerhall",
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	res := v.Verify("Bearer " + raw)
	if !res.Valid || res.UserID != "user-42" {
		t.Fatalf("res = %+v", res)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier("sekrit", "pokerhall")
	future := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name   string
		token  string
		reason string
	}{
		{"empty", "", ReasonMissing},
		{"garbage", "not.a.jwt", ReasonMalformed},
		{"wrong secret", signToken(t, "other", jwt.MapClaims{"iss": "pokerhall", "sub": "u", "exp": future}), ReasonBadSig},
		{"expired", signToken(t, "sekrit", jwt.MapClaims{"iss": "pokerhall", "sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}), ReasonExpired},
		{"wrong issuer", signToken(t, "sekrit", jwt.MapClaims{"iss": "elsewhere", "sub": "u", "exp": future}), ReasonMalformed},
		{"no subject", signToken(t, "sekrit", jwt.MapClaims{"iss": "pokerhall", "exp": future}), ReasonNoSubject},
	}
	for _, tc := range cases {
		res := v.Verify(tc.token)
		if res.Valid || res.Reason != tc.reason {
			t.Errorf("%s: res = %+v, want reason %s", tc.name, res, tc.reason)
		}
	}
}
