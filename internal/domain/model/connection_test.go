package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenPair_Validate(t *testing.T) {
	require.NoError(t, TokenPair{}.Validate())
	require.NoError(t, TokenPair{AccessToken: "a", RefreshToken: "r"}.Validate())
	require.Error(t, TokenPair{AccessToken: "a"}.Validate())
	require.Error(t, TokenPair{RefreshToken: "r"}.Validate())
}

func TestTokenPair_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, TokenPair{}.ExpiredAt(now, time.Minute), "zero expiry never expires")
	assert.True(t, TokenPair{Expiry: now.Add(-time.Second)}.ExpiredAt(now, 0))
	assert.True(t, TokenPair{Expiry: now.Add(30 * time.Second)}.ExpiredAt(now, time.Minute))
	assert.False(t, TokenPair{Expiry: now.Add(2 * time.Minute)}.ExpiredAt(now, time.Minute))
}

func TestTenantMeta_Validate(t *testing.T) {
	valid := TenantMeta{AccountID: "12345", DestinationBaseID: "appAbCdEf12345678", DestinationAPIKey: "pat"}
	require.NoError(t, valid.Validate())

	shared := TenantMeta{AccountID: "12345", DestinationBaseID: "appAbCdEf12345678", SharedKeyID: "k1", SharedKeyPassword: "pw"}
	require.NoError(t, shared.Validate())

	tests := []struct {
		name string
		meta TenantMeta
	}{
		{"missing account", TenantMeta{DestinationBaseID: "appAbCdEf12345678", DestinationAPIKey: "pat"}},
		{"missing base", TenantMeta{AccountID: "1", DestinationAPIKey: "pat"}},
		{"no credential", TenantMeta{AccountID: "1", DestinationBaseID: "appAbCdEf12345678"}},
		{"shared key without password", TenantMeta{AccountID: "1", DestinationBaseID: "appAbCdEf12345678", SharedKeyID: "k1"}},
		{"new shared key without password", TenantMeta{AccountID: "1", DestinationBaseID: "appAbCdEf12345678", DestinationAPIKey: "pat", NewSharedKeyLabel: "Store"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.meta.Validate(), ErrInvalidTenantInfo)
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindReconnectRequired, KindOf(fmt.Errorf("refresh: %w", ErrReconnectRequired)))
	assert.Equal(t, KindUnknownAction, KindOf(&UnknownActionError{Action: "explode"}))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInvalidFieldSelection, KindOf(fmt.Errorf("settings: %w", ErrInvalidFieldSelection)))
	assert.True(t, IsClientError(ErrInvalidFieldSelection))

	rateLimited := fmt.Errorf("%w: %w", ErrUpstreamRateLimited, ErrUpstreamUnavailable)
	assert.Equal(t, KindUpstreamRateLimited, KindOf(rateLimited))
	assert.ErrorIs(t, rateLimited, ErrUpstreamUnavailable)
}

func TestReconnectMessageIsStable(t *testing.T) {
	assert.True(t, strings.Contains(ErrReconnectRequired.Error(), "reconnect"))
}
