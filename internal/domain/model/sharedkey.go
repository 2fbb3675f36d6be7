package model

import "time"

// SharedKey is a password-protected destination credential that any tenant
// knowing the password may attach to their connection.
type SharedKey struct {
	ID           string
	Label        string
	Credential   string // plaintext at the domain boundary; encrypted at rest
	PasswordHash string
	CreatedAt    time.Time
}

// SharedKeySummary is the non-secret view of a SharedKey.
type SharedKeySummary struct {
	ID        string
	Label     string
	CreatedAt time.Time
}

// Summary drops the secret fields.
func (k SharedKey) Summary() SharedKeySummary {
	return SharedKeySummary{ID: k.ID, Label: k.Label, CreatedAt: k.CreatedAt}
}
