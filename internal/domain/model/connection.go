package model

import (
	"fmt"
	"time"
)

// TokenPair is an upstream OAuth access/refresh token pair. Expiry is zero
// when the provider did not report a lifetime.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// IsZero reports whether neither token is present.
func (p TokenPair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Validate enforces that the access and refresh tokens are present together.
func (p TokenPair) Validate() error {
	if (p.AccessToken == "") != (p.RefreshToken == "") {
		return fmt.Errorf("token pair must carry both access and refresh token or neither")
	}
	return nil
}

// ExpiredAt reports whether the access token should be considered expired at
// now, treating tokens that expire within skew as already expired. A zero
// Expiry never expires.
func (p TokenPair) ExpiredAt(now time.Time, skew time.Duration) bool {
	if p.Expiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(p.Expiry)
}

// Connection is one tenant's binding between an upstream retail account and a
// destination spreadsheet base.
type Connection struct {
	ID                string
	AccountID         string
	DestinationBaseID string
	DestinationTable  string
	DestinationAPIKey string
	Tokens            TokenPair
	SharedKeyID       string
	NeedsReconnect    bool

	// Fields names the destination columns this connection exports. Empty
	// means every column.
	Fields []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTokens reports whether the connection holds a usable token pair.
func (c Connection) HasTokens() bool {
	return c.Tokens.AccessToken != "" && c.Tokens.RefreshToken != ""
}

// TenantMeta is the metadata a tenant supplies before authorizing upstream
// access.
type TenantMeta struct {
	AccountID         string
	DestinationBaseID string
	DestinationTable  string
	DestinationAPIKey string

	// Pending shared key association, verified before the redirect and
	// unlocked once the connection exists.
	SharedKeyID       string
	SharedKeyPassword string

	// When set, the tenant's own DestinationAPIKey is published as a new
	// shared key under this label and password after connecting.
	NewSharedKeyLabel    string
	NewSharedKeyPassword string
}

// Validate checks the fields every connection needs.
func (m TenantMeta) Validate() error {
	if m.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidTenantInfo)
	}
	if m.DestinationBaseID == "" {
		return fmt.Errorf("%w: destination base is required", ErrInvalidTenantInfo)
	}
	if m.DestinationAPIKey == "" && m.SharedKeyID == "" {
		return fmt.Errorf("%w: provide a destination API key or choose a shared key", ErrInvalidTenantInfo)
	}
	if m.SharedKeyID != "" && m.SharedKeyPassword == "" {
		return fmt.Errorf("%w: shared key password is required", ErrInvalidTenantInfo)
	}
	if m.NewSharedKeyLabel != "" {
		if m.DestinationAPIKey == "" {
			return fmt.Errorf("%w: a new shared key needs a destination API key", ErrInvalidTenantInfo)
		}
		if m.NewSharedKeyPassword == "" {
			return fmt.Errorf("%w: a new shared key needs a password", ErrInvalidTenantInfo)
		}
	}
	return nil
}
