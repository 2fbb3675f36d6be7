package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// expirySkew treats access tokens this close to expiry as already expired.
const expirySkew = 60 * time.Second

// refreshTimeout bounds one shared refresh. The refresh runs detached from
// the callers that wait on it so a rotated pair is always stored.
const refreshTimeout = 30 * time.Second

// TokenService hands out usable upstream access tokens and owns the refresh
// path. Concurrent refreshes for one connection collapse into a single
// upstream call, and the stored pair is re-read under a per-connection lock
// so a caller holding a token that was already rotated never refreshes again.
type TokenService struct {
	store    driven.ConnectionStore
	auth     driven.AuthProvider
	recorder driven.Recorder

	group singleflight.Group
	locks keyedMutex

	retryDelay time.Duration
	now        func() time.Time
}

// NewTokenService creates a TokenService. recorder may be nil.
func NewTokenService(store driven.ConnectionStore, auth driven.AuthProvider, recorder driven.Recorder) *TokenService {
	if recorder == nil {
		recorder = driven.NopRecorder{}
	}
	return &TokenService{
		store:      store,
		auth:       auth,
		recorder:   recorder,
		retryDelay: 500 * time.Millisecond,
		now:        time.Now,
	}
}

// AccessToken returns a token for conn, refreshing first when the stored
// token has expired.
func (s *TokenService) AccessToken(ctx context.Context, conn *model.Connection) (string, error) {
	if conn.NeedsReconnect || !conn.HasTokens() {
		return "", fmt.Errorf("connection %s: %w", conn.ID, model.ErrReconnectRequired)
	}
	if !conn.Tokens.ExpiredAt(s.now(), expirySkew) {
		return conn.Tokens.AccessToken, nil
	}
	return s.Refresh(ctx, conn.ID, conn.Tokens.AccessToken)
}

// Refresh returns a fresh access token for the connection. staleAccessToken
// is the token the caller found unusable; when the store already holds a
// different, unexpired token it is returned without contacting the provider.
func (s *TokenService) Refresh(ctx context.Context, connectionID, staleAccessToken string) (string, error) {
	if connectionID == "" {
		return "", model.ErrMissingConnectionID
	}

	ch := s.group.DoChan(connectionID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(rctx, connectionID, staleAccessToken)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			slog.Debug("token refresh shared", "connection", connectionID)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *TokenService) refresh(ctx context.Context, connectionID, stale string) (string, error) {
	unlock := s.locks.Lock(connectionID)
	defer unlock()

	conn, err := s.store.Get(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("load connection for refresh: %w", err)
	}
	if conn.NeedsReconnect || !conn.HasTokens() {
		return "", fmt.Errorf("connection %s: %w", connectionID, model.ErrReconnectRequired)
	}

	if conn.Tokens.AccessToken != stale && !conn.Tokens.ExpiredAt(s.now(), expirySkew) {
		s.recorder.TokenRefreshed("reused")
		return conn.Tokens.AccessToken, nil
	}

	pair, err := s.auth.Refresh(ctx, conn.Tokens.RefreshToken)
	if err != nil && !errors.Is(err, driven.ErrRefreshRejected) && ctx.Err() == nil {
		slog.Warn("token refresh failed, retrying once", "connection", connectionID, "error", err)
		if werr := sleepCtx(ctx, s.retryDelay); werr != nil {
			return "", werr
		}
		pair, err = s.auth.Refresh(ctx, conn.Tokens.RefreshToken)
	}

	switch {
	case errors.Is(err, driven.ErrRefreshRejected):
		s.recorder.TokenRefreshed("rejected")
		if merr := s.store.MarkReconnectRequired(ctx, connectionID); merr != nil {
			slog.Error("failed to flag connection for reconnect", "connection", connectionID, "error", merr)
		}
		slog.Warn("refresh token rejected", "connection", connectionID, "error", err)
		return "", fmt.Errorf("connection %s: %w", connectionID, model.ErrReconnectRequired)
	case err != nil:
		s.recorder.TokenRefreshed("failed")
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("refresh access token: %w: %w", model.ErrUpstreamUnavailable, err)
	}

	if err := s.store.UpdateTokens(ctx, connectionID, pair); err != nil {
		return "", fmt.Errorf("store refreshed tokens: %w", err)
	}

	s.recorder.TokenRefreshed("refreshed")
	slog.Info("access token refreshed", "connection", connectionID, "expiry", pair.Expiry)
	return pair.AccessToken, nil
}

// keyedMutex is a set of mutexes addressed by key. Entries are dropped when
// no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
