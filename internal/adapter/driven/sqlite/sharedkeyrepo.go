package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SharedKeyStore = (*SharedKeyRepo)(nil)

// SharedKeyRepo is the SQLite implementation of the SharedKeyStore port.
// Credentials are encrypted with AES-256-GCM before write and decrypted after
// read; password hashes are stored as given.
type SharedKeyRepo struct {
	db     *DB
	cipher *Cipher
}

// NewSharedKeyRepo creates a new SharedKeyRepo.
func NewSharedKeyRepo(db *DB, c *Cipher) *SharedKeyRepo {
	return &SharedKeyRepo{db: db, cipher: c}
}

// Create stores a new shared key. ID and PasswordHash must be set by the caller.
func (r *SharedKeyRepo) Create(ctx context.Context, key model.SharedKey) error {
	if key.ID == "" || key.PasswordHash == "" {
		return errors.New("create shared key: id and password hash are required")
	}

	encrypted, err := r.cipher.seal(key.Credential)
	if err != nil {
		return fmt.Errorf("encrypt shared key credential: %w", err)
	}

	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `INSERT INTO shared_keys (id, label, credential, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = r.db.Writer.ExecContext(ctx, query, key.ID, key.Label, encrypted, key.PasswordHash, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("create shared key %q: %w", key.Label, err)
	}
	return nil
}

// Get retrieves a shared key with its decrypted credential.
func (r *SharedKeyRepo) Get(ctx context.Context, id string) (*model.SharedKey, error) {
	const query = `SELECT id, label, credential, password_hash, created_at FROM shared_keys WHERE id = ?`

	var (
		key       model.SharedKey
		encrypted string
		createdAt string
	)
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&key.ID, &key.Label, &encrypted, &key.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get shared key %s: %w", id, driven.ErrSharedKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get shared key %s: %w", id, err)
	}

	if key.Credential, err = r.cipher.open(encrypted); err != nil {
		return nil, fmt.Errorf("decrypt shared key %s: %w", id, err)
	}
	if key.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for shared key %s: %w", id, err)
	}

	return &key, nil
}

// List returns id, label and creation time of every shared key, newest first.
func (r *SharedKeyRepo) List(ctx context.Context) ([]model.SharedKeySummary, error) {
	const query = `SELECT id, label, created_at FROM shared_keys ORDER BY created_at DESC, id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list shared keys: %w", err)
	}
	defer rows.Close()

	keys := []model.SharedKeySummary{}
	for rows.Next() {
		var k model.SharedKeySummary
		var createdAt string
		if err := rows.Scan(&k.ID, &k.Label, &createdAt); err != nil {
			return nil, fmt.Errorf("scan shared key: %w", err)
		}
		if k.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for shared key %s: %w", k.ID, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared keys: %w", err)
	}

	return keys, nil
}
