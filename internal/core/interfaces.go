package core

import (
	"context"

	"facilitypm/internal/types"
)

// Authenticator resolves a bearer token to the calling Principal.
type Authenticator interface {
	// ResolveToken returns ErrCodeAuthTokenInvalid for malformed, unknown or
	// revoked tokens and ErrCodeAuthTokenExpired for expired ones.
	ResolveToken(ctx context.Context, token string) (*types.Principal, error)
}
