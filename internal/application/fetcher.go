package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// FetchPolicy paces and retries catalog page requests.
type FetchPolicy struct {
	PageDelay time.Duration
	Retry     RetryPolicy
}

// tokenRefresher is the slice of TokenService the fetcher needs.
type tokenRefresher interface {
	Refresh(ctx context.Context, connectionID, staleAccessToken string) (string, error)
}

// Session is the mutable credential state of one catalog stream. The fetcher
// replaces AccessToken after a mid-stream refresh. A Session must not be
// shared between concurrent streams; copy it instead.
type Session struct {
	ConnectionID string
	AccountID    string
	AccessToken  string
}

// Fetcher streams catalog records page by page. Every page request waits on
// the process-wide limiter, consecutive pages of one stream are separated by
// PageDelay, and failures follow a fixed policy: 401 refreshes once, 429 and
// 5xx back off, any other 4xx is permanent.
type Fetcher struct {
	source   driven.CatalogSource
	tokens   tokenRefresher
	limiter  *rate.Limiter
	policy   FetchPolicy
	recorder driven.Recorder
}

// NewFetcher creates a Fetcher. A nil limiter means no global limit.
func NewFetcher(source driven.CatalogSource, tokens tokenRefresher, limiter *rate.Limiter, policy FetchPolicy, recorder driven.Recorder) *Fetcher {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if recorder == nil {
		recorder = driven.NopRecorder{}
	}
	return &Fetcher{source: source, tokens: tokens, limiter: limiter, policy: policy, recorder: recorder}
}

// Items streams catalog items of a category (or all categories) in upstream
// order. The sequence stops at the first error, which is yielded once.
func (f *Fetcher) Items(ctx context.Context, sess *Session, categoryID string, withStock bool) iter.Seq2[model.CatalogItem, error] {
	req := driven.PageRequest{AccountID: sess.AccountID, CategoryID: categoryID, WithStock: withStock}
	return paginate(ctx, f, sess, "items", req, f.source.FetchItems)
}

// VendorNames loads every vendor into an id to name map.
func (f *Fetcher) VendorNames(ctx context.Context, sess *Session) (map[string]string, error) {
	names := make(map[string]string)
	req := driven.PageRequest{AccountID: sess.AccountID}
	for v, err := range paginate(ctx, f, sess, "vendors", req, f.source.FetchVendors) {
		if err != nil {
			return nil, fmt.Errorf("load vendors: %w", err)
		}
		names[v.ID] = v.Name
	}
	return names, nil
}

// Category loads one category. An unknown id yields a placeholder named
// after the id rather than an error.
func (f *Fetcher) Category(ctx context.Context, sess *Session, categoryID string) (model.Category, error) {
	req := driven.PageRequest{AccountID: sess.AccountID, CategoryID: categoryID}
	for c, err := range paginate(ctx, f, sess, "categories", req, f.source.FetchCategories) {
		if err != nil {
			return model.Category{}, fmt.Errorf("load category %s: %w", categoryID, err)
		}
		if c.ID == categoryID {
			return c, nil
		}
	}
	return model.Category{ID: categoryID, Name: "Category " + categoryID}, nil
}

// paginate turns a single-page fetch function into a lazy record sequence.
// The next page is requested only after the consumer drained the current one.
func paginate[T any](
	ctx context.Context,
	f *Fetcher,
	sess *Session,
	resource string,
	first driven.PageRequest,
	fetch func(context.Context, driven.PageRequest) (driven.Page[T], error),
) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		req := first
		for n := 0; ; n++ {
			if n > 0 {
				if err := sleepCtx(ctx, f.policy.PageDelay); err != nil {
					yield(zero, err)
					return
				}
			}

			page, err := fetchPage(ctx, f, sess, resource, req, fetch)
			if err != nil {
				yield(zero, err)
				return
			}
			f.recorder.PageFetched(resource)
			slog.Debug("catalog page fetched", "resource", resource, "page", n, "records", len(page.Records), "total", page.Total)

			for _, r := range page.Records {
				if !yield(r, nil) {
					return
				}
			}
			if page.Next == "" {
				return
			}
			req.Cursor = page.Next
		}
	}
}

// fetchPage requests one page with backoff, refreshing the token once when
// the upstream answers 401.
func fetchPage[T any](
	ctx context.Context,
	f *Fetcher,
	sess *Session,
	resource string,
	req driven.PageRequest,
	fetch func(context.Context, driven.PageRequest) (driven.Page[T], error),
) (driven.Page[T], error) {
	page, err := fetchWithBackoff(ctx, f, sess, resource, req, fetch)
	if !isUnauthorized(err) {
		return page, err
	}

	token, rerr := f.tokens.Refresh(ctx, sess.ConnectionID, sess.AccessToken)
	if rerr != nil {
		return page, rerr
	}
	sess.AccessToken = token

	page, err = fetchWithBackoff(ctx, f, sess, resource, req, fetch)
	if isUnauthorized(err) {
		return page, fmt.Errorf("%s still unauthorized after refresh: %w", resource, model.ErrReconnectRequired)
	}
	return page, err
}

func fetchWithBackoff[T any](
	ctx context.Context,
	f *Fetcher,
	sess *Session,
	resource string,
	req driven.PageRequest,
	fetch func(context.Context, driven.PageRequest) (driven.Page[T], error),
) (driven.Page[T], error) {
	var page driven.Page[T]
	err := retry(ctx, f.policy.Retry, "catalog_"+resource, f.recorder, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req.AccessToken = sess.AccessToken
		p, err := fetch(ctx, req)
		if err == nil {
			page = p
			return nil
		}
		if isUnauthorized(err) || errors.Is(err, model.ErrUpstreamRequest) {
			return backoff.Permanent(err)
		}
		return classifyStatus(ctx, err, func(err error) error {
			return fmt.Errorf("%w: %w", model.ErrUpstreamRequest, err)
		})
	})
	if err == nil {
		return page, nil
	}

	var re *retryableError
	if errors.As(err, &re) {
		if isRateLimited(re.err) {
			return page, fmt.Errorf("fetch %s: %w: %w: %w", resource, model.ErrUpstreamRateLimited, model.ErrUpstreamUnavailable, re.err)
		}
		return page, fmt.Errorf("fetch %s: %w: %w", resource, model.ErrUpstreamUnavailable, re.err)
	}
	return page, err
}

func isUnauthorized(err error) bool {
	var se *driven.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
