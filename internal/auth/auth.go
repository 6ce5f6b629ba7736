// Package auth verifies the bearer credentials presented to the recall API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned for missing, malformed, or unknown
// credentials. Handlers map it to 401.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Verifier resolves a bearer token to a user ID.
type Verifier interface {
	// Verify returns the user ID the token belongs to, or
	// [ErrUnauthenticated] if the token is not recognised.
	Verify(ctx context.Context, token string) (string, error)
}

// StaticVerifier authenticates against a fixed token → user map, as loaded
// from the auth.tokens config block.
type StaticVerifier struct {
	tokens map[string]string
}

// Compile-time interface assertion.
var _ Verifier = (*StaticVerifier)(nil)

// NewStaticVerifier copies the given token map into a verifier.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	cp := make(map[string]string, len(tokens))
	for tok, user := range tokens {
		cp[tok] = user
	}
	return &StaticVerifier{tokens: cp}
}

// Verify implements [Verifier]. Token comparison is constant-time.
func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}
	for candidate, user := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return user, nil
		}
	}
	return "", ErrUnauthenticated
}

// FromRequest extracts the bearer token from an Authorization header.
// Returns the empty string when the header is absent or not a bearer
// scheme.
func FromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
