package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned for any missing, malformed, expired, or
// otherwise unverifiable credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenVerifier validates the bearer credential carried in a connection
// handshake and returns the durable user identifier it names. Verify is
// side-effect free and may be called repeatedly on an established
// connection to re-validate it.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}
