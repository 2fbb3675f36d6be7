package driven

import (
	"context"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

// ConnectionStore defines the driven port for tenant connection persistence.
// It is the only component that mutates stored token pairs. Every mutation
// touches exactly one record atomically; an unknown id yields
// model.ErrConnectionNotFound.
type ConnectionStore interface {
	Create(ctx context.Context, meta model.TenantMeta, tokens model.TokenPair) (string, error)
	Get(ctx context.Context, id string) (*model.Connection, error)
	List(ctx context.Context) ([]model.Connection, error)

	// UpdateTokens replaces the token pair and clears the reconnect flag.
	UpdateTokens(ctx context.Context, id string, tokens model.TokenPair) error
	UpdateDestination(ctx context.Context, id, baseID string) error
	UpdateDestinationKey(ctx context.Context, id, apiKey string) error

	// UpdateFields replaces the exported column selection. A nil slice
	// restores the full column set.
	UpdateFields(ctx context.Context, id string, fields []string) error
	AssociateSharedKey(ctx context.Context, id, sharedKeyID string) error

	// MarkReconnectRequired flags the connection without touching its tokens
	// or destination configuration.
	MarkReconnectRequired(ctx context.Context, id string) error
}
