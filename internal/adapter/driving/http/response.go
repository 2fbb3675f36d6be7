package httphandler

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ericfisherdev/shelfsync/internal/application"
	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps a domain failure onto an HTTP status code. Endpoints that
// answer with a success envelope ignore it and always return 200.
func statusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindMissingConnectionID, model.KindInvalidTenantInfo,
		model.KindInvalidDestinationRef, model.KindInvalidSharedKey,
		model.KindInvalidFieldSelection, model.KindInvalidListingFilters,
		model.KindAuthFlowNotFound, model.KindUnknownAction:
		return http.StatusBadRequest
	case model.KindConnectionNotFound:
		return http.StatusNotFound
	case model.KindUnlockFailed, model.KindInvalidShareLink:
		return http.StatusForbidden
	case model.KindReconnectRequired:
		return http.StatusUnauthorized
	case model.KindTokenExchange, model.KindUpstreamRateLimited, model.KindUpstreamUnavailable,
		model.KindUpstreamRequest, model.KindDestinationWrite, model.KindNoDestinationCredential:
		return http.StatusBadGateway
	case model.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text safe to return to a caller. Internal
// failures are logged in full but reported generically.
func publicMessage(err error) string {
	if model.KindOf(err) == model.KindInternal {
		return "internal server error"
	}
	return err.Error()
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// successResponse is the envelope of the mutation endpoints.
type successResponse struct {
	Success   bool   `json:"success"`
	ID        string `json:"id,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func failure(err error) successResponse {
	return successResponse{Success: false, Error: publicMessage(err), ErrorKind: string(model.KindOf(err))}
}

// CallbackRequest completes an authorization flow. Either State and Code, or
// a pasted RedirectURL carrying both, must be set.
type CallbackRequest struct {
	State       string `json:"state"`
	Code        string `json:"code"`
	RedirectURL string `json:"redirect_url"`
}

// CallbackResponse is the result of completing an authorization flow.
type CallbackResponse struct {
	Success      bool   `json:"success"`
	ConnectionID string `json:"connection_id,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
}

// ConnectionInfoResponse describes a connection to its owner.
type ConnectionInfoResponse struct {
	ConnectionID    string `json:"connection_id"`
	AirtableBaseURL string `json:"airtable_base_url"`
	NeedsReconnect  bool   `json:"needs_reconnect"`
	SharedKeyID     string `json:"shared_key_id,omitempty"`
}

// UpdateBaseRequest points a connection at a different destination base.
// AirtableBaseURL is accepted as an alias of DestinationBaseRef.
type UpdateBaseRequest struct {
	ConnectionID       string `json:"connection_id"`
	DestinationBaseRef string `json:"destination_base_ref"`
	AirtableBaseURL    string `json:"airtable_base_url"`
}

func (r UpdateBaseRequest) ref() string {
	if r.DestinationBaseRef != "" {
		return strings.TrimSpace(r.DestinationBaseRef)
	}
	return strings.TrimSpace(r.AirtableBaseURL)
}

// FieldSetting is one export column and whether the connection exports it.
type FieldSetting struct {
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
	Required bool   `json:"required,omitempty"`
}

// SettingsResponse describes a connection's export settings. The key itself
// is never returned.
type SettingsResponse struct {
	ConnectionID string         `json:"connection_id"`
	HasOwnKey    bool           `json:"has_own_key"`
	Fields       []FieldSetting `json:"fields"`
}

func toSettingsResponse(c model.Connection) SettingsResponse {
	selected := application.SelectFields(c.Fields)
	all := application.TableFields()
	resp := SettingsResponse{
		ConnectionID: c.ID,
		HasOwnKey:    c.DestinationAPIKey != "",
		Fields:       make([]FieldSetting, 0, len(all)),
	}
	for i, f := range all {
		resp.Fields = append(resp.Fields, FieldSetting{
			Name:     f.Name,
			Selected: slices.ContainsFunc(selected, func(s driven.FieldSpec) bool { return s.Name == f.Name }),
			Required: i == 0,
		})
	}
	return resp
}

// UpdateSettingsRequest replaces a connection's export settings. A blank
// AirtableAPIKey keeps the current key.
type UpdateSettingsRequest struct {
	ConnectionID   string   `json:"connection_id"`
	AirtableAPIKey string   `json:"airtable_api_key"`
	Fields         []string `json:"fields"`
}

// SharedKeyResponse is the non-secret view of a shared key.
type SharedKeyResponse struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	CreatedAt string `json:"created_at"`
}

// SharedKeysResponse lists shared keys.
type SharedKeysResponse struct {
	SharedKeys []SharedKeyResponse `json:"shared_keys"`
}

// CreateSharedKeyRequest publishes a destination API key under a password.
type CreateSharedKeyRequest struct {
	Label    string `json:"label"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
}

// UnlockRequest attaches a shared key to a connection.
type UnlockRequest struct {
	Password     string `json:"password"`
	ConnectionID string `json:"connection_id"`
}

// RunRequest starts an export. QOHPositiveOnly accepts a boolean or any of
// "1", "true", "yes", "on".
type RunRequest struct {
	ConnectionID    string          `json:"connection_id"`
	CategoryID      string          `json:"category_id"`
	ListingFilters  json.RawMessage `json:"listing_filters"`
	QOHPositiveOnly any             `json:"qoh_positive_only"`
	ShopID          string          `json:"shop_id"`
}

func (r RunRequest) toExportRequest() (model.ExportRequest, error) {
	filters, err := application.DecodeListingFilters(r.ListingFilters)
	if err != nil {
		return model.ExportRequest{}, err
	}
	if truthy(r.QOHPositiveOnly) {
		filters = filters.WithPositiveStockOnly(strings.TrimSpace(r.ShopID))
	}
	return model.ExportRequest{
		ConnectionID:   strings.TrimSpace(r.ConnectionID),
		CategoryID:     strings.TrimSpace(r.CategoryID),
		ListingFilters: filters,
	}, nil
}

// RunResponse is the result of an export. It is always sent with HTTP 200.
type RunResponse struct {
	Success     bool   `json:"success"`
	AirtableURL string `json:"airtable_url,omitempty"`
	Written     int    `json:"written,omitempty"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
}

func toRunResponse(res application.ExportResult, err error) RunResponse {
	resp := RunResponse{Success: err == nil, AirtableURL: res.DestinationURL, Written: res.Written, Output: res.Output}
	if err != nil {
		resp.Error = publicMessage(err)
		resp.ErrorKind = string(model.KindOf(err))
		var runErr *application.RunError
		if errors.As(err, &runErr) {
			resp.Error = publicMessage(runErr.Err)
		}
		resp.Error = application.TrimErrorText(resp.Error)
	}
	return resp
}

// AdminConnectionResponse is one connection in the admin listing. Secrets are
// reduced to presence flags.
type AdminConnectionResponse struct {
	ID                string `json:"id"`
	AccountID         string `json:"account_id"`
	DestinationBaseID string `json:"destination_base_id"`
	DestinationTable  string `json:"destination_table"`
	SharedKeyID       string `json:"shared_key_id,omitempty"`
	HasOwnKey         bool   `json:"has_own_key"`
	NeedsReconnect    bool   `json:"needs_reconnect"`
	TokenExpiresAt    string `json:"token_expires_at,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toAdminConnectionResponse(c model.Connection) AdminConnectionResponse {
	resp := AdminConnectionResponse{
		ID:                c.ID,
		AccountID:         c.AccountID,
		DestinationBaseID: c.DestinationBaseID,
		DestinationTable:  c.DestinationTable,
		SharedKeyID:       c.SharedKeyID,
		HasOwnKey:         c.DestinationAPIKey != "",
		NeedsReconnect:    c.NeedsReconnect,
		CreatedAt:         formatTime(c.CreatedAt),
		UpdatedAt:         formatTime(c.UpdatedAt),
	}
	if !c.Tokens.Expiry.IsZero() {
		resp.TokenExpiresAt = formatTime(c.Tokens.Expiry)
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func truthy(v any) bool {
	switch tv := v.(type) {
	case bool:
		return tv
	case string:
		switch strings.ToLower(strings.TrimSpace(tv)) {
		case "1", "true", "yes", "on":
			return true
		}
	case float64:
		return tv != 0
	}
	return false
}
