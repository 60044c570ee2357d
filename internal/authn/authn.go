// Package authn validates the HS256 bearer tokens API callers present
// and carries the caller identity through the request context.
package authn

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrTokenExpired     = errors.New("authn: token expired")
	ErrTokenInvalid     = errors.New("authn: token invalid")
	ErrTokenMalformed   = errors.New("authn: token malformed")
	ErrSignatureInvalid = errors.New("authn: signature invalid")
	ErrNoToken          = errors.New("authn: no token found")
)

// Claims is the token payload. Subject identifies the caller and is
// recorded as created_by / last_updated_by on writes.
type Claims struct {
	Subject   string `json:"sub"`
	Issuer    string `json:"iss"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	NotBefore int64  `json:"nbf"`
}

// Expired reports whether the token's exp has passed.
func (c *Claims) Expired() bool {
	return time.Now().Unix() > c.ExpiresAt
}

// Validator checks HS256-signed tokens. Only HS256 is accepted; the
// "none" algorithm is rejected outright.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a validator for the given shared secret. An
// empty issuer skips issuer checking.
func NewValidator(secret, issuer string) *Validator {
	return &Validator{secret: []byte(secret), issuer: issuer}
}

// Validate parses and verifies a compact token, returning its claims.
func (v *Validator) Validate(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}
	headerPart, payloadPart, signaturePart := parts[0], parts[1], parts[2]

	headerBytes, err := base64URLDecode(headerPart)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, ErrTokenMalformed
	}

	switch header.Alg {
	case "HS256":
	case "none":
		// A classic downgrade attack vector.
		return nil, ErrSignatureInvalid
	default:
		return nil, fmt.Errorf("authn: unsupported algorithm %q: %w", header.Alg, ErrTokenInvalid)
	}

	providedSig, err := base64URLDecode(signaturePart)
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(headerPart + "." + payloadPart))
	if !hmac.Equal(mac.Sum(nil), providedSig) {
		return nil, ErrSignatureInvalid
	}

	payloadBytes, err := base64URLDecode(payloadPart)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, ErrTokenMalformed
	}

	if claims.Expired() {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore > 0 && time.Now().Unix() < claims.NotBefore {
		return nil, ErrTokenInvalid
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

// ExtractToken pulls the bearer token from the Authorization header.
// Tokens in query parameters or cookies are not accepted.
func ExtractToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token := strings.TrimSpace(parts[1])
			if token != "" {
				return token, nil
			}
		}
	}
	return "", ErrNoToken
}

type contextKey struct{}

// WithSubject returns a context carrying the authenticated caller.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextKey{}, subject)
}

// Subject returns the authenticated caller, or "" when the request was
// not authenticated.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(contextKey{}).(string)
	return s
}

// Tokens may arrive with padding even though RawURLEncoding emits none.
func base64URLDecode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
