package model

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer. Adapters and services wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify failures with errors.Is.
var (
	// ErrTokenExchange indicates the provider rejected or failed the
	// authorization-code exchange. The flow must be restarted.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrReconnectRequired indicates the stored refresh token was rejected or
	// a refreshed token was still unauthorized. Its message always contains
	// "reconnect" so thin clients can match on it.
	ErrReconnectRequired = errors.New("upstream sign-in has expired or was revoked; please reconnect")

	// ErrConnectionNotFound indicates the connection id is unknown.
	ErrConnectionNotFound = errors.New("connection not found: run /connect again")

	// ErrMissingConnectionID indicates a request arrived without a connection id.
	ErrMissingConnectionID = errors.New("missing connection id")

	// ErrUpstreamRateLimited indicates the upstream kept answering 429 after
	// every retry.
	ErrUpstreamRateLimited = errors.New("upstream rate limit exceeded")

	// ErrUpstreamUnavailable indicates the upstream kept failing transiently
	// after every retry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamRequest indicates the upstream rejected a request permanently.
	ErrUpstreamRequest = errors.New("upstream request rejected")

	// ErrDestinationWrite indicates the destination rejected a batch.
	ErrDestinationWrite = errors.New("destination write failed")

	// ErrUnlockFailed indicates a shared key could not be unlocked. Unknown
	// ids and wrong passwords both produce exactly this error.
	ErrUnlockFailed = errors.New("invalid shared key or password")

	// ErrAuthFlowNotFound indicates the authorization state is unknown or expired.
	ErrAuthFlowNotFound = errors.New("authorization link is invalid or expired; start again")

	// ErrInvalidTenantInfo indicates missing or malformed tenant metadata.
	ErrInvalidTenantInfo = errors.New("invalid tenant information")

	// ErrInvalidDestinationRef indicates a destination base reference that is
	// neither a base URL nor a base id.
	ErrInvalidDestinationRef = errors.New("invalid destination base reference")

	// ErrNoDestinationCredential indicates no destination API key is available
	// for the connection.
	ErrNoDestinationCredential = errors.New("no destination API key available: add one or unlock a shared key")

	// ErrInvalidSharedKey indicates a shared key create request with a missing
	// label, password or credential.
	ErrInvalidSharedKey = errors.New("invalid shared key")

	// ErrInvalidShareLink indicates a gallery share link that is malformed,
	// tampered with or expired.
	ErrInvalidShareLink = errors.New("gallery link is invalid or expired")

	// ErrInvalidFieldSelection indicates an export column selection that is
	// empty or names an unknown column.
	ErrInvalidFieldSelection = errors.New("invalid export field selection")

	// ErrInvalidListingFilters indicates listing_filters that are not a JSON
	// object.
	ErrInvalidListingFilters = errors.New("listing_filters must be a JSON object")
)

// UnknownActionError is returned when a boundary message names an action that
// is not part of the message set.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// ErrorKind is a stable, machine-readable classification of a failure.
type ErrorKind string

const (
	KindTokenExchange           ErrorKind = "token_exchange_error"
	KindReconnectRequired       ErrorKind = "reconnect_required"
	KindConnectionNotFound      ErrorKind = "connection_not_found"
	KindMissingConnectionID     ErrorKind = "missing_connection_id"
	KindUpstreamRateLimited     ErrorKind = "upstream_rate_limited"
	KindUpstreamUnavailable     ErrorKind = "upstream_unavailable"
	KindUpstreamRequest         ErrorKind = "upstream_request_error"
	KindDestinationWrite        ErrorKind = "destination_write_error"
	KindUnlockFailed            ErrorKind = "unlock_failed"
	KindAuthFlowNotFound        ErrorKind = "auth_flow_not_found"
	KindInvalidTenantInfo       ErrorKind = "invalid_tenant_info"
	KindInvalidDestinationRef   ErrorKind = "invalid_destination_ref"
	KindNoDestinationCredential ErrorKind = "no_destination_credential"
	KindInvalidSharedKey        ErrorKind = "invalid_shared_key"
	KindInvalidShareLink        ErrorKind = "invalid_share_link"
	KindInvalidFieldSelection   ErrorKind = "invalid_field_selection"
	KindInvalidListingFilters   ErrorKind = "invalid_listing_filters"
	KindUnknownAction           ErrorKind = "unknown_action"
	KindCanceled                ErrorKind = "canceled"
	KindInternal                ErrorKind = "internal"
)

// kindOrder lists sentinels from most to least specific. Rate-limit
// exhaustion also matches ErrUpstreamUnavailable, so it must be checked first.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrTokenExchange, KindTokenExchange},
	{ErrReconnectRequired, KindReconnectRequired},
	{ErrConnectionNotFound, KindConnectionNotFound},
	{ErrMissingConnectionID, KindMissingConnectionID},
	{ErrUpstreamRateLimited, KindUpstreamRateLimited},
	{ErrUpstreamUnavailable, KindUpstreamUnavailable},
	{ErrUpstreamRequest, KindUpstreamRequest},
	{ErrDestinationWrite, KindDestinationWrite},
	{ErrUnlockFailed, KindUnlockFailed},
	{ErrAuthFlowNotFound, KindAuthFlowNotFound},
	{ErrInvalidTenantInfo, KindInvalidTenantInfo},
	{ErrInvalidDestinationRef, KindInvalidDestinationRef},
	{ErrNoDestinationCredential, KindNoDestinationCredential},
	{ErrInvalidSharedKey, KindInvalidSharedKey},
	{ErrInvalidShareLink, KindInvalidShareLink},
	{ErrInvalidFieldSelection, KindInvalidFieldSelection},
	{ErrInvalidListingFilters, KindInvalidListingFilters},
}

// KindOf classifies err. Unrecognized errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var unknown *UnknownActionError
	if errors.As(err, &unknown) {
		return KindUnknownAction
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// IsClientError reports whether err was caused by the caller's input rather
// than by a failing dependency.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindMissingConnectionID, KindConnectionNotFound, KindUnlockFailed,
		KindAuthFlowNotFound, KindInvalidTenantInfo, KindInvalidDestinationRef,
		KindInvalidSharedKey, KindInvalidShareLink, KindInvalidFieldSelection, KindInvalidListingFilters,
		KindUnknownAction:
		return true
	}
	return false
}
