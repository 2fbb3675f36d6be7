// Package lightspeed implements the CatalogSource and AuthProvider ports
// against the Lightspeed Retail (R-Series) API.
package lightspeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CatalogSource = (*Client)(nil)

// DefaultBaseURL is the account-scoped API root.
const DefaultBaseURL = "https://api.lightspeedapp.com/API/V3/Account"

const (
	pageLimit    = 100
	maxBodyBytes = 32 << 20
	maxErrorBody = 300
)

// Client issues single page requests. It never retries; the caller owns the
// retry, backoff and re-authentication policy.
type Client struct {
	items   *http.Client
	lookups *http.Client
	baseURL string
}

// NewClient creates a client with the following transport stack:
//  1. item pages go straight to the API (they are never repeated)
//  2. vendor and category lookups go through httpcache so repeated runs
//     revalidate with conditional requests instead of refetching
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		items:   &http.Client{Timeout: timeout},
		lookups: &http.Client{Timeout: timeout, Transport: httpcache.NewMemoryCacheTransport()},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NewClientWithHTTPClient creates a Client that sends every request through
// httpClient. Tests use it with an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		items:   httpClient,
		lookups: httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// FetchItems retrieves one page of items, sorted by item id, with images,
// prices and notes loaded, and stock levels when requested.
func (c *Client) FetchItems(ctx context.Context, req driven.PageRequest) (driven.Page[model.CatalogItem], error) {
	relations := []string{"Images", "Note"}
	if req.WithStock {
		relations = append(relations, "ItemShops")
	}
	params := url.Values{
		"limit":          {strconv.Itoa(pageLimit)},
		"sort":           {"itemID"},
		"load_relations": {encodeRelations(relations)},
	}
	if req.CategoryID != "" && !strings.EqualFold(req.CategoryID, model.AllCategories) {
		params.Set("categoryID", req.CategoryID)
	}

	var env itemsEnvelope
	if err := c.get(ctx, c.items, req, "Item", params, &env); err != nil {
		return driven.Page[model.CatalogItem]{}, err
	}

	records := make([]model.CatalogItem, 0, len(env.Item))
	for _, it := range env.Item {
		records = append(records, it.toModel())
	}
	return driven.Page[model.CatalogItem]{Records: records, Next: env.Attributes.Next, Total: env.Attributes.total()}, nil
}

// FetchVendors retrieves one page of vendors.
func (c *Client) FetchVendors(ctx context.Context, req driven.PageRequest) (driven.Page[model.Vendor], error) {
	params := url.Values{"limit": {strconv.Itoa(pageLimit)}, "sort": {"vendorID"}}

	var env vendorsEnvelope
	if err := c.get(ctx, c.lookups, req, "Vendor", params, &env); err != nil {
		return driven.Page[model.Vendor]{}, err
	}

	records := make([]model.Vendor, 0, len(env.Vendor))
	for _, v := range env.Vendor {
		records = append(records, model.Vendor{ID: v.VendorID.String(), Name: strings.TrimSpace(v.Name)})
	}
	return driven.Page[model.Vendor]{Records: records, Next: env.Attributes.Next, Total: env.Attributes.total()}, nil
}

// FetchCategories retrieves one page of categories. A CategoryID narrows the
// query to that single category.
func (c *Client) FetchCategories(ctx context.Context, req driven.PageRequest) (driven.Page[model.Category], error) {
	params := url.Values{"limit": {strconv.Itoa(pageLimit)}, "sort": {"categoryID"}}
	if req.CategoryID != "" && !strings.EqualFold(req.CategoryID, model.AllCategories) {
		params.Set("categoryID", req.CategoryID)
	}

	var env categoriesEnvelope
	if err := c.get(ctx, c.lookups, req, "Category", params, &env); err != nil {
		return driven.Page[model.Category]{}, err
	}

	records := make([]model.Category, 0, len(env.Category))
	for _, cat := range env.Category {
		records = append(records, model.Category{
			ID:       cat.CategoryID.String(),
			Name:     strings.TrimSpace(cat.Name),
			FullPath: strings.TrimSpace(cat.FullPathName),
		})
	}
	return driven.Page[model.Category]{Records: records, Next: env.Attributes.Next, Total: env.Attributes.total()}, nil
}

func (c *Client) get(ctx context.Context, hc *http.Client, req driven.PageRequest, resource string, params url.Values, out any) error {
	target, err := c.pageURL(req, resource, params)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", resource, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("fetch %s page: %w", resource, err)
	}
	defer resp.Body.Close()

	logBucketLevel(resp, resource)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s page: %w", resource, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &driven.StatusError{
			Service:    "lightspeed",
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
			RetryAfter: driven.RetryAfter(resp.Header),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s page: %w", resource, err)
	}
	return nil
}

// pageURL returns the cursor when continuing, otherwise the first-page URL.
// Cursors must point back at the configured API so the bearer token is never
// sent elsewhere.
func (c *Client) pageURL(req driven.PageRequest, resource string, params url.Values) (string, error) {
	if req.Cursor != "" {
		if !strings.HasPrefix(req.Cursor, c.baseURL+"/") {
			return "", fmt.Errorf("%w: cursor outside API root", model.ErrUpstreamRequest)
		}
		return req.Cursor, nil
	}
	if req.AccountID == "" {
		return "", fmt.Errorf("%w: missing account id", model.ErrUpstreamRequest)
	}
	return fmt.Sprintf("%s/%s/%s.json?%s", c.baseURL, url.PathEscape(req.AccountID), resource, params.Encode()), nil
}

func encodeRelations(rels []string) string {
	b, _ := json.Marshal(rels)
	return string(b)
}

// logBucketLevel reports the leaky-bucket level the API returns as "used/size".
func logBucketLevel(resp *http.Response, resource string) {
	level := resp.Header.Get("X-LS-API-Bucket-Level")
	if level == "" {
		return
	}

	slog.Debug("lightspeed api call",
		"resource", resource,
		"status", resp.StatusCode,
		"bucket_level", level,
	)

	used, size, ok := strings.Cut(level, "/")
	if !ok {
		return
	}
	u, err1 := strconv.ParseFloat(used, 64)
	s, err2 := strconv.ParseFloat(size, 64)
	if err1 == nil && err2 == nil && s > 0 && u/s >= 0.9 {
		slog.Warn("lightspeed rate bucket nearly full", "resource", resource, "bucket_level", level)
	}
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
