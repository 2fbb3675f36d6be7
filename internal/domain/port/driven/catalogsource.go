package driven

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

// PageRequest asks the catalog source for one page. An empty Cursor requests
// the first page; otherwise Cursor is the opaque value from the previous page
// and the filter fields are ignored.
type PageRequest struct {
	AccountID   string
	AccessToken string
	Cursor      string
	CategoryID  string
	WithStock   bool
}

// Page is one page of upstream records. Next is empty on the last page.
// Total is the upstream-reported record count for the whole query, or -1.
type Page[T any] struct {
	Records []T
	Next    string
	Total   int
}

// CatalogSource defines the driven port for the upstream catalog API. It
// performs exactly one HTTP request per call; retry policy lives in the
// application layer. Non-2xx responses are returned as *StatusError.
type CatalogSource interface {
	FetchItems(ctx context.Context, req PageRequest) (Page[model.CatalogItem], error)
	FetchVendors(ctx context.Context, req PageRequest) (Page[model.Vendor], error)
	FetchCategories(ctx context.Context, req PageRequest) (Page[model.Category], error)
}

// StatusError is a non-2xx response from an upstream or destination API.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying with backoff.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RetryAfter parses a delta-seconds Retry-After header. Zero means absent.
func RetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
