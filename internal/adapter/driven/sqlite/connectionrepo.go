package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ConnectionStore = (*ConnectionRepo)(nil)

const defaultDestinationTable = "Items"

// ConnectionRepo is the SQLite implementation of the ConnectionStore port.
// Tokens and the tenant's own destination key are encrypted at rest.
type ConnectionRepo struct {
	db     *DB
	cipher *Cipher
	now    func() time.Time
}

// NewConnectionRepo creates a new ConnectionRepo backed by the given DB.
func NewConnectionRepo(db *DB, c *Cipher) *ConnectionRepo {
	return &ConnectionRepo{db: db, cipher: c, now: time.Now}
}

const connectionColumns = `id, account_id, destination_base_id, destination_table, destination_api_key,
	access_token, refresh_token, token_expiry, shared_key_id, needs_reconnect, selected_fields, created_at, updated_at`

// Create inserts a new connection and returns its generated id.
func (r *ConnectionRepo) Create(ctx context.Context, meta model.TenantMeta, tokens model.TokenPair) (string, error) {
	if err := tokens.Validate(); err != nil {
		return "", fmt.Errorf("create connection: %w", err)
	}

	apiKey, err := r.cipher.sealNullable(meta.DestinationAPIKey)
	if err != nil {
		return "", fmt.Errorf("encrypt destination key: %w", err)
	}
	access, refresh, expiry, err := r.sealTokens(tokens)
	if err != nil {
		return "", err
	}

	table := meta.DestinationTable
	if table == "" {
		table = defaultDestinationTable
	}

	id := uuid.NewString()
	now := formatTime(r.now())

	const query = `INSERT INTO connections (id, account_id, destination_base_id, destination_table,
		destination_api_key, access_token, refresh_token, token_expiry, needs_reconnect, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`

	_, err = r.db.Writer.ExecContext(ctx, query,
		id, meta.AccountID, meta.DestinationBaseID, table,
		apiKey, access, refresh, expiry, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create connection for account %s: %w", meta.AccountID, err)
	}

	return id, nil
}

// Get retrieves a connection by id.
func (r *ConnectionRepo) Get(ctx context.Context, id string) (*model.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = ?`

	conn, err := r.scanConnection(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get connection %s: %w", id, model.ErrConnectionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}

	return conn, nil
}

// List returns every connection ordered by creation time.
func (r *ConnectionRepo) List(ctx context.Context) ([]model.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections ORDER BY created_at, id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	conns := []model.Connection{}
	for rows.Next() {
		conn, err := r.scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}

	return conns, nil
}

// UpdateTokens replaces the stored token pair and clears the reconnect flag.
func (r *ConnectionRepo) UpdateTokens(ctx context.Context, id string, tokens model.TokenPair) error {
	if err := tokens.Validate(); err != nil {
		return fmt.Errorf("update tokens for %s: %w", id, err)
	}
	access, refresh, expiry, err := r.sealTokens(tokens)
	if err != nil {
		return err
	}

	const query = `UPDATE connections
		SET access_token = ?, refresh_token = ?, token_expiry = ?, needs_reconnect = 0, updated_at = ?
		WHERE id = ?`
	return r.exec(ctx, "update tokens", id, query, access, refresh, expiry, formatTime(r.now()), id)
}

// UpdateDestination points the connection at a different destination base.
func (r *ConnectionRepo) UpdateDestination(ctx context.Context, id, baseID string) error {
	const query = `UPDATE connections SET destination_base_id = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, "update destination", id, query, baseID, formatTime(r.now()), id)
}

// UpdateDestinationKey replaces the tenant's own destination API key.
func (r *ConnectionRepo) UpdateDestinationKey(ctx context.Context, id, apiKey string) error {
	sealed, err := r.cipher.sealNullable(apiKey)
	if err != nil {
		return fmt.Errorf("encrypt destination key: %w", err)
	}
	const query = `UPDATE connections SET destination_api_key = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, "update destination key", id, query, sealed, formatTime(r.now()), id)
}

// UpdateFields stores the exported column selection as a JSON array.
func (r *ConnectionRepo) UpdateFields(ctx context.Context, id string, fields []string) error {
	var selected sql.NullString
	if len(fields) > 0 {
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode selected fields: %w", err)
		}
		selected = sql.NullString{String: string(raw), Valid: true}
	}
	const query = `UPDATE connections SET selected_fields = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, "update fields", id, query, selected, formatTime(r.now()), id)
}

// AssociateSharedKey records that the connection writes with the given shared key.
func (r *ConnectionRepo) AssociateSharedKey(ctx context.Context, id, sharedKeyID string) error {
	const query = `UPDATE connections SET shared_key_id = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, "associate shared key", id, query, sharedKeyID, formatTime(r.now()), id)
}

// MarkReconnectRequired flags the connection; tokens and destination stay as they are.
func (r *ConnectionRepo) MarkReconnectRequired(ctx context.Context, id string) error {
	const query = `UPDATE connections SET needs_reconnect = 1, updated_at = ? WHERE id = ?`
	return r.exec(ctx, "mark reconnect required", id, query, formatTime(r.now()), id)
}

// exec runs a single-row update and maps zero affected rows to ErrConnectionNotFound.
func (r *ConnectionRepo) exec(ctx context.Context, op, id, query string, args ...any) error {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", op, id, model.ErrConnectionNotFound)
	}

	return nil
}

func (r *ConnectionRepo) sealTokens(tokens model.TokenPair) (access, refresh, expiry sql.NullString, err error) {
	access, err = r.cipher.sealNullable(tokens.AccessToken)
	if err != nil {
		return access, refresh, expiry, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err = r.cipher.sealNullable(tokens.RefreshToken)
	if err != nil {
		return access, refresh, expiry, fmt.Errorf("encrypt refresh token: %w", err)
	}
	if !tokens.Expiry.IsZero() {
		expiry = sql.NullString{String: formatTime(tokens.Expiry), Valid: true}
	}
	return access, refresh, expiry, nil
}

func (r *ConnectionRepo) scanConnection(s scanner) (*model.Connection, error) {
	var (
		conn                                  model.Connection
		apiKey, access, refresh, expiry, skID sql.NullString
		selected                              sql.NullString
		createdAt, updatedAt                  string
	)

	err := s.Scan(
		&conn.ID, &conn.AccountID, &conn.DestinationBaseID, &conn.DestinationTable, &apiKey,
		&access, &refresh, &expiry, &skID, &conn.NeedsReconnect, &selected, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conn.DestinationAPIKey, err = r.cipher.openNullable(apiKey); err != nil {
		return nil, fmt.Errorf("decrypt destination key: %w", err)
	}
	if conn.Tokens.AccessToken, err = r.cipher.openNullable(access); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if conn.Tokens.RefreshToken, err = r.cipher.openNullable(refresh); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	if expiry.Valid && expiry.String != "" {
		if conn.Tokens.Expiry, err = parseTime(expiry.String); err != nil {
			return nil, fmt.Errorf("parse token_expiry: %w", err)
		}
	}
	conn.SharedKeyID = skID.String
	if selected.Valid && selected.String != "" {
		if err := json.Unmarshal([]byte(selected.String), &conn.Fields); err != nil {
			return nil, fmt.Errorf("decode selected_fields: %w", err)
		}
	}

	if conn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if conn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &conn, nil
}
