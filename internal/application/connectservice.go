package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// DefaultFlowTTL bounds how long a tenant may take to authorize upstream.
const DefaultFlowTTL = 15 * time.Minute

// AuthStart is where the tenant is sent to authorize, and the state value
// that identifies the pending flow.
type AuthStart struct {
	URL   string
	State string
}

type pendingFlow struct {
	meta    model.TenantMeta
	phase   model.FlowPhase
	expires time.Time
}

// ConnectService runs the tenant authorization flow and owns connection
// metadata updates. Pending flows are kept in memory only; a restart forces
// tenants to begin again.
type ConnectService struct {
	auth  driven.AuthProvider
	store driven.ConnectionStore
	vault *VaultService
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	flows map[string]*pendingFlow
}

// NewConnectService creates a ConnectService. A zero ttl selects DefaultFlowTTL.
func NewConnectService(auth driven.AuthProvider, store driven.ConnectionStore, vault *VaultService, ttl time.Duration) *ConnectService {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &ConnectService{
		auth:  auth,
		store: store,
		vault: vault,
		ttl:   ttl,
		now:   time.Now,
		flows: make(map[string]*pendingFlow),
	}
}

// BeginAuthorization validates tenant metadata, verifies a chosen shared key
// up front, and registers a pending flow. DestinationBaseID may be a full
// base URL; it is normalized to the bare id.
func (s *ConnectService) BeginAuthorization(ctx context.Context, meta model.TenantMeta) (AuthStart, error) {
	meta.AccountID = strings.TrimSpace(meta.AccountID)
	meta.DestinationAPIKey = strings.TrimSpace(meta.DestinationAPIKey)
	meta.DestinationTable = strings.TrimSpace(meta.DestinationTable)

	if meta.DestinationBaseID != "" {
		baseID, err := model.ParseDestinationRef(meta.DestinationBaseID)
		if err != nil {
			return AuthStart{}, err
		}
		meta.DestinationBaseID = baseID
	}
	if err := meta.Validate(); err != nil {
		return AuthStart{}, err
	}
	if meta.SharedKeyID != "" {
		if err := s.vault.Verify(ctx, meta.SharedKeyID, meta.SharedKeyPassword); err != nil {
			return AuthStart{}, err
		}
	}

	state := uuid.NewString()

	s.mu.Lock()
	s.pruneLocked()
	s.flows[state] = &pendingFlow{
		meta:    meta,
		phase:   model.FlowAwaitingAuthorizationCode,
		expires: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	slog.Info("authorization started", "account", meta.AccountID, "base", meta.DestinationBaseID)
	return AuthStart{URL: s.auth.AuthCodeURL(state), State: state}, nil
}

// CompleteAuthorization exchanges the code for tokens and persists the
// connection. A failed exchange discards the flow; the tenant must start over.
func (s *ConnectService) CompleteAuthorization(ctx context.Context, state, code string) (string, error) {
	s.mu.Lock()
	flow, ok := s.flows[state]
	if !ok || s.now().After(flow.expires) || flow.phase != model.FlowAwaitingAuthorizationCode {
		if ok && s.now().After(flow.expires) {
			delete(s.flows, state)
		}
		s.mu.Unlock()
		return "", model.ErrAuthFlowNotFound
	}
	flow.phase = model.FlowExchanging
	meta := flow.meta
	s.mu.Unlock()

	pair, err := s.auth.Exchange(ctx, code)
	if err != nil {
		s.fail(state)
		if !errors.Is(err, model.ErrTokenExchange) {
			err = fmt.Errorf("%w: %w", model.ErrTokenExchange, err)
		}
		slog.Warn("authorization code exchange failed", "account", meta.AccountID, "error", err)
		return "", err
	}

	id, err := s.store.Create(ctx, meta, pair)
	if err != nil {
		s.fail(state)
		return "", fmt.Errorf("persist connection: %w", err)
	}

	if meta.SharedKeyID != "" {
		if err := s.vault.Unlock(ctx, meta.SharedKeyID, meta.SharedKeyPassword, id); err != nil {
			slog.Warn("pending shared key could not be attached", "connection", id, "error", err)
		}
	}
	if meta.NewSharedKeyLabel != "" {
		s.publishOwnKey(ctx, id, meta)
	}

	s.mu.Lock()
	flow.phase = model.FlowConnected
	delete(s.flows, state)
	s.mu.Unlock()

	slog.Info("connection created", "connection", id, "account", meta.AccountID)
	return id, nil
}

// publishOwnKey creates a shared key from the tenant's own credential and
// attaches it to the new connection.
func (s *ConnectService) publishOwnKey(ctx context.Context, connectionID string, meta model.TenantMeta) {
	keyID, err := s.vault.Create(ctx, meta.NewSharedKeyLabel, meta.NewSharedKeyPassword, meta.DestinationAPIKey)
	if err != nil {
		slog.Warn("shared key could not be created", "connection", connectionID, "error", err)
		return
	}
	if err := s.vault.Unlock(ctx, keyID, meta.NewSharedKeyPassword, connectionID); err != nil {
		slog.Warn("new shared key could not be attached", "connection", connectionID, "error", err)
	}
}

// FlowPhase reports the phase of a pending flow. Completed, failed and
// expired flows are no longer tracked.
func (s *ConnectService) FlowPhase(state string) (model.FlowPhase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[state]
	if !ok || s.now().After(flow.expires) {
		return "", false
	}
	return flow.phase, true
}

func (s *ConnectService) fail(state string) {
	s.mu.Lock()
	if flow, ok := s.flows[state]; ok {
		flow.phase = model.FlowFailed
		delete(s.flows, state)
	}
	s.mu.Unlock()
}

func (s *ConnectService) pruneLocked() {
	now := s.now()
	for state, flow := range s.flows {
		if now.After(flow.expires) {
			delete(s.flows, state)
		}
	}
}

// Connection returns a stored connection.
func (s *ConnectService) Connection(ctx context.Context, id string) (*model.Connection, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.ErrMissingConnectionID
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// Connections lists every stored connection.
func (s *ConnectService) Connections(ctx context.Context) ([]model.Connection, error) {
	return s.store.List(ctx)
}

// UpdateDestination points a connection at another destination base. ref may
// be a base URL or a bare base id. It returns the normalized id.
func (s *ConnectService) UpdateDestination(ctx context.Context, id, ref string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", model.ErrMissingConnectionID
	}
	baseID, err := model.ParseDestinationRef(ref)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateDestination(ctx, strings.TrimSpace(id), baseID); err != nil {
		return "", fmt.Errorf("update destination: %w", err)
	}
	slog.Info("destination base updated", "connection", id, "base", baseID)
	return baseID, nil
}

// Settings are the export options a tenant can change after connecting.
type Settings struct {
	// DestinationAPIKey replaces the connection's own key. Blank keeps the
	// current key.
	DestinationAPIKey string

	// Fields names the exported columns. At least one is required.
	Fields []string
}

// UpdateSettings validates and stores a connection's export settings. The
// field selection is checked before anything is written.
func (s *ConnectService) UpdateSettings(ctx context.Context, id string, set Settings) (*model.Connection, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.ErrMissingConnectionID
	}
	fields, err := NormalizeFieldSelection(set.Fields)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateFields(ctx, id, fields); err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	if key := strings.TrimSpace(set.DestinationAPIKey); key != "" {
		if err := s.store.UpdateDestinationKey(ctx, id, key); err != nil {
			return nil, fmt.Errorf("update settings: %w", err)
		}
	}

	slog.Info("connection settings updated", "connection", id,
		"columns", len(SelectFields(fields)), "key_changed", strings.TrimSpace(set.DestinationAPIKey) != "")
	return s.store.Get(ctx, id)
}

// ParseRedirectArtifact extracts state and code from a pasted provider
// redirect: a full URL, a "?query" or a bare query string.
func ParseRedirectArtifact(raw string) (state, code string, err error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	if i := strings.Index(raw, "#"); i >= 0 {
		raw = raw[:i]
	}

	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: unreadable redirect: %w", model.ErrAuthFlowNotFound, err)
	}
	if e := q.Get("error"); e != "" {
		return "", "", fmt.Errorf("%w: provider returned %s", model.ErrTokenExchange, e)
	}

	state, code = q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		return "", "", fmt.Errorf("%w: redirect is missing code or state", model.ErrAuthFlowNotFound)
	}
	return state, code, nil
}
