package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when a request carries no bearer credential.
var ErrNoToken = errors.New("missing bearer token")

// ErrInvalidToken is returned when a bearer credential fails
// verification or carries no namespace claim.
var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is the authenticated caller: an opaque subject id plus the
// login-derived namespace that scopes which remote files it may
// address. Derived per request, never persisted.
type Identity struct {
	Subject   string
	Namespace string
}

// claims is the expected JWT payload. The namespace travels in a
// custom "ns" claim; the subject is the registered "sub".
type claims struct {
	Namespace string `json:"ns"`
	jwt.RegisteredClaims
}

// Verifier turns bearer credentials into identities. The HTTP layer
// treats it as a black-box collaborator.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier verifies HS256-signed tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the given shared secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token, returning the caller's
// identity. A token without a namespace claim is rejected: without a
// namespace there is nothing to scope path access to.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoToken
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Namespace == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{Subject: c.Subject, Namespace: c.Namespace}, nil
}

// TokenFromRequest extracts the bearer credential from a request,
// checking the Authorization header first and the "token" query
// parameter as a fallback (players cannot always set headers).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") || strings.HasPrefix(h, "bearer ") {
			return strings.TrimSpace(h[len("Bearer "):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
