// Package airtable implements the Destination port against the Airtable
// records and schema APIs.
package airtable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Destination = (*Client)(nil)

const (
	DefaultAPIBase = "https://api.airtable.com/v0"
	DefaultWebBase = "https://airtable.com"

	// batchSize is the records API per-request maximum.
	batchSize    = 10
	maxErrorBody = 400
)

// Client issues single Airtable API requests. Retries are the caller's job.
type Client struct {
	http    *http.Client
	apiBase string
	webBase string
}

// NewClient creates a Client for the given API and web roots.
func NewClient(apiBase, webBase string, timeout time.Duration) *Client {
	return NewClientWithHTTPClient(&http.Client{Timeout: timeout}, apiBase, webBase)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client, for tests.
func NewClientWithHTTPClient(httpClient *http.Client, apiBase, webBase string) *Client {
	return &Client{
		http:    httpClient,
		apiBase: strings.TrimRight(apiBase, "/"),
		webBase: strings.TrimRight(webBase, "/"),
	}
}

type fieldSchema struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

type createTableRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Fields      []fieldSchema `json:"fields"`
}

type createTableResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateTable creates a table in the base and returns its id (tbl...).
func (c *Client) CreateTable(ctx context.Context, spec driven.TableSpec) (string, error) {
	req := createTableRequest{Name: SanitizeTableName(spec.Name), Description: spec.Description}
	for _, f := range spec.Fields {
		fs := fieldSchema{Name: f.Name, Type: f.Type}
		if f.Type == driven.FieldNumber {
			fs.Options = map[string]any{"precision": 2}
		}
		req.Fields = append(req.Fields, fs)
	}

	endpoint := fmt.Sprintf("%s/meta/bases/%s/tables", c.apiBase, url.PathEscape(spec.BaseID))

	var resp createTableResponse
	if err := c.post(ctx, spec.APIKey, endpoint, req, &resp); err != nil {
		return "", fmt.Errorf("create table %q: %w", req.Name, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create table %q: response carried no table id", req.Name)
	}

	slog.Info("destination table created", "base", spec.BaseID, "table", resp.ID, "name", resp.Name)
	return resp.ID, nil
}

type recordFields struct {
	Fields driven.Record `json:"fields"`
}

type createRecordsRequest struct {
	Records  []recordFields `json:"records"`
	Typecast bool           `json:"typecast"`
}

// CreateRecords writes one batch of at most MaxBatchSize records.
func (c *Client) CreateRecords(ctx context.Context, batch driven.RecordBatch) error {
	if len(batch.Records) > batchSize {
		return fmt.Errorf("batch of %d exceeds limit of %d", len(batch.Records), batchSize)
	}
	if len(batch.Records) == 0 {
		return nil
	}

	req := createRecordsRequest{Typecast: true, Records: make([]recordFields, 0, len(batch.Records))}
	for _, r := range batch.Records {
		req.Records = append(req.Records, recordFields{Fields: r})
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.apiBase, url.PathEscape(batch.BaseID), url.PathEscape(batch.TableID))
	if err := c.post(ctx, batch.APIKey, endpoint, req, nil); err != nil {
		return fmt.Errorf("create %d records: %w", len(batch.Records), err)
	}
	return nil
}

// MaxBatchSize is the largest batch CreateRecords accepts.
func (c *Client) MaxBatchSize() int { return batchSize }

// TableURL is the browser link to a table.
func (c *Client) TableURL(baseID, tableID string) string {
	return fmt.Sprintf("%s/%s/%s", c.webBase, baseID, tableID)
}

func (c *Client) post(ctx context.Context, apiKey, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &driven.StatusError{
			Service:    "airtable",
			StatusCode: resp.StatusCode,
			Body:       errorMessage(data),
			RetryAfter: driven.RetryAfter(resp.Header),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": {"message": ...}} or {"error": "..."},
// falling back to the raw body. The result is capped at maxErrorBody
// characters.
func errorMessage(data []byte) string {
	msg := []rune(rawErrorMessage(data))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return string(msg)
}

func rawErrorMessage(data []byte) string {
	var structured struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &structured); err == nil && structured.Error.Message != "" {
		return structured.Error.Type + ": " + structured.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	return string(data)
}

// SanitizeTableName replaces characters Airtable rejects in table names,
// collapses whitespace and caps the length.
func SanitizeTableName(name string) string {
	s := strings.NewReplacer("/", " ", "\\", " ", "?", " ", "#", " ").Replace(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 100 {
		s = strings.TrimSpace(string(r[:100]))
	}
	if s == "" {
		return "Untitled"
	}
	return s
}
