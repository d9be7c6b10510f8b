package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/form3tech-oss/jwt-go"
)

// Invalid-token reasons surfaced to callers.
const (
	ReasonMissing   = "missing_token"
	ReasonMalformed = "malformed_token"
	ReasonBadSig    = "bad_signature"
	ReasonExpired   = "expired"
	ReasonNoSubject = "no_subject"
)

// Result is the outcome of verifying a bearer token.
type Result struct {
	Valid  bool
	UserID string
	Reason string
}

// Verifier checks HS256 session tokens issued by the edge platform and
// extracts the user id from the subject claim.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifierFromEnv() (*Verifier, error) {
	secret := strings.TrimSpace(os.Getenv("POKER_JWT_SECRET"))
	if secret == "" {
		return nil, fmt.Errorf("POKER_JWT_SECRET is required")
	}
	return NewVerifier(secret, strings.TrimSpace(os.Getenv("POKER_JWT_ISSUER"))), nil
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) Verify(raw string) Result {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return Result{Reason: ReasonMissing}
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return Result{Reason: ReasonExpired}
		}
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
			return Result{Reason: ReasonBadSig}
		}
		return Result{Reason: ReasonMalformed}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Result{Reason: ReasonMalformed}
	}
	if v.issuer != "" {
		if iss, _ := claims["iss"].(string); iss != v.issuer {
			return Result{Reason: ReasonMalformed}
		}
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Result{Reason: ReasonNoSubject}
	}
	return Result{Valid: true, UserID: sub}
}
