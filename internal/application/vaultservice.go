package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// VaultService manages password-gated shared destination credentials.
// Unknown key ids and wrong passwords are indistinguishable to callers: both
// cost one bcrypt comparison and both return model.ErrUnlockFailed.
type VaultService struct {
	keys  driven.SharedKeyStore
	conns driven.ConnectionStore
	cost  int
	dummy []byte
	now   func() time.Time

	compare func(hash, password []byte) error
}

// NewVaultService creates a VaultService. A zero cost selects bcrypt.DefaultCost.
func NewVaultService(keys driven.SharedKeyStore, conns driven.ConnectionStore, cost int) *VaultService {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		slog.Error("failed to prepare dummy password hash", "error", err)
	}
	return &VaultService{
		keys:    keys,
		conns:   conns,
		cost:    cost,
		dummy:   dummy,
		now:     time.Now,
		compare: bcrypt.CompareHashAndPassword,
	}
}

// List returns every shared key without its secrets.
func (s *VaultService) List(ctx context.Context) ([]model.SharedKeySummary, error) {
	return s.keys.List(ctx)
}

// Create stores a new shared key and returns its id.
func (s *VaultService) Create(ctx context.Context, label, password, credential string) (string, error) {
	label = strings.TrimSpace(label)
	credential = strings.TrimSpace(credential)
	switch {
	case label == "":
		return "", fmt.Errorf("%w: label is required", model.ErrInvalidSharedKey)
	case password == "":
		return "", fmt.Errorf("%w: password is required", model.ErrInvalidSharedKey)
	case credential == "":
		return "", fmt.Errorf("%w: API key is required", model.ErrInvalidSharedKey)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password is longer than 72 bytes", model.ErrInvalidSharedKey)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}

	key := model.SharedKey{
		ID:           uuid.NewString(),
		Label:        label,
		Credential:   credential,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return "", fmt.Errorf("create shared key: %w", err)
	}

	slog.Info("shared key created", "id", key.ID, "label", key.Label)
	return key.ID, nil
}

// Verify checks password against the key's verifier.
func (s *VaultService) Verify(ctx context.Context, id, password string) error {
	key, err := s.keys.Get(ctx, id)
	if errors.Is(err, driven.ErrSharedKeyNotFound) {
		_ = s.compare(s.dummy, []byte(password))
		return model.ErrUnlockFailed
	}
	if err != nil {
		return fmt.Errorf("load shared key: %w", err)
	}
	if err := s.compare([]byte(key.PasswordHash), []byte(password)); err != nil {
		return model.ErrUnlockFailed
	}
	return nil
}

// Unlock verifies password and associates the key with the connection.
func (s *VaultService) Unlock(ctx context.Context, id, password, connectionID string) error {
	if connectionID == "" {
		return model.ErrMissingConnectionID
	}
	if err := s.Verify(ctx, id, password); err != nil {
		slog.Warn("shared key unlock failed", "connection", connectionID)
		return err
	}
	if err := s.conns.AssociateSharedKey(ctx, connectionID, id); err != nil {
		return fmt.Errorf("associate shared key: %w", err)
	}
	slog.Info("shared key unlocked", "connection", connectionID, "shared_key", id)
	return nil
}

// Credential returns the plaintext destination credential of a key.
func (s *VaultService) Credential(ctx context.Context, id string) (string, error) {
	key, err := s.keys.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load shared key credential: %w", err)
	}
	return key.Credential, nil
}
