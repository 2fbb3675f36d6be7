package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

// ErrSharedKeyNotFound is returned by SharedKeyStore.Get for unknown ids.
// Services must not expose it to callers; see model.ErrUnlockFailed.
var ErrSharedKeyNotFound = errors.New("shared key not found")

// SharedKeyStore defines the driven port for shared destination credentials.
// The adapter encrypts the credential at rest; values cross this interface as
// plaintext. Password hashing is the caller's responsibility.
type SharedKeyStore interface {
	Create(ctx context.Context, key model.SharedKey) error
	Get(ctx context.Context, id string) (*model.SharedKey, error)
	List(ctx context.Context) ([]model.SharedKeySummary, error)
}
