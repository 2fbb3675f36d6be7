package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

// ErrRefreshRejected is returned by AuthProvider.Refresh when the provider
// definitively refused the refresh token (revoked, expired, invalid_grant).
// Any other error from Refresh is treated as transient.
var ErrRefreshRejected = errors.New("refresh token rejected")

// AuthProvider defines the driven port for the upstream OAuth2 server.
type AuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (model.TokenPair, error)

	// Refresh trades refreshToken for a new pair. Providers that do not
	// rotate refresh tokens return the input refresh token in the pair.
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
}
