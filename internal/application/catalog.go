package application

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// allCategoriesTitle names runs that span the whole catalog when the
// connection has no table name of its own.
const allCategoriesTitle = "All Categories"

// catalogReader opens authenticated catalog streams for export and gallery
// runs.
type catalogReader struct {
	conns   driven.ConnectionStore
	tokens  *TokenService
	fetcher *Fetcher
}

// open resolves the connection and a usable access token.
func (c catalogReader) open(ctx context.Context, connectionID string) (*model.Connection, *Session, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, nil, model.ErrMissingConnectionID
	}

	conn, err := c.conns.Get(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}

	token, err := c.tokens.AccessToken(ctx, conn)
	if err != nil {
		return nil, nil, err
	}

	return conn, &Session{ConnectionID: conn.ID, AccountID: conn.AccountID, AccessToken: token}, nil
}

// lookups loads the vendor names and the category title concurrently. Each
// goroutine streams on its own copy of the session.
func (c catalogReader) lookups(ctx context.Context, sess *Session, req model.ExportRequest, allTitle string) (map[string]string, string, error) {
	g, gctx := errgroup.WithContext(ctx)

	var vendors map[string]string
	vendorSess := *sess
	g.Go(func() error {
		v, err := c.fetcher.VendorNames(gctx, &vendorSess)
		vendors = v
		return err
	})

	title := allTitle
	if !req.AllCategories() {
		catSess := *sess
		g.Go(func() error {
			cat, err := c.fetcher.Category(gctx, &catSess, strings.TrimSpace(req.CategoryID))
			if err != nil {
				return err
			}
			title = cat.DisplayName()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, "", fmt.Errorf("load lookups: %w", err)
	}

	// A lookup may have refreshed the token; later streams start from it.
	sess.AccessToken = vendorSess.AccessToken
	return vendors, title, nil
}

// categoryFilter returns the id passed upstream, empty for all categories.
func categoryFilter(req model.ExportRequest) string {
	if req.AllCategories() {
		return ""
	}
	return strings.TrimSpace(req.CategoryID)
}
