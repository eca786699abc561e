package auth

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidToken covers every credential failure: absent, malformed, or
// rejected by the identity provider. Handlers map it to 401.
var ErrInvalidToken = errors.New("invalid authentication token")

// VerifyTimeout bounds the remote verification call so a slow identity
// provider can't hold a request open indefinitely.
const VerifyTimeout = 10 * time.Second

// Identity is the verified caller extracted from a bearer token.
type Identity struct {
	UserID string
	Email  string
}

// Verifier validates one inbound credential per request. Implementations
// must not cache or retry; a rejected token is rejected.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
