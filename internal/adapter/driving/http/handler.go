// Package httphandler implements the JSON API driving adapter.
package httphandler

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ericfisherdev/shelfsync/internal/application"
	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

// Options carries the deployment settings the API needs besides its services.
type Options struct {
	// AdminToken guards the admin endpoints. Empty disables them.
	AdminToken string
	// DestinationWebBase prefixes base links, e.g. https://airtable.com.
	DestinationWebBase string
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	connect    *application.ConnectService
	vault      *application.VaultService
	exports    *application.ExportService
	dispatcher *application.Dispatcher
	health     *application.HealthService
	opts       Options
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	connect *application.ConnectService,
	vault *application.VaultService,
	exports *application.ExportService,
	dispatcher *application.Dispatcher,
	health *application.HealthService,
	opts Options,
	logger *slog.Logger,
) *Handler {
	opts.DestinationWebBase = strings.TrimRight(opts.DestinationWebBase, "/")
	return &Handler{
		connect:    connect,
		vault:      vault,
		exports:    exports,
		dispatcher: dispatcher,
		health:     health,
		opts:       opts,
		logger:     logger,
	}
}

// RegisterAPIRoutes registers the JSON endpoints on mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("POST /connect/callback", h.CompleteCallback)
	mux.HandleFunc("GET /api/connection-info", h.ConnectionInfo)
	mux.HandleFunc("POST /api/connection/update-base", h.UpdateBase)
	mux.HandleFunc("GET /api/connection/settings", h.Settings)
	mux.HandleFunc("POST /api/connection/settings", h.UpdateSettings)
	mux.HandleFunc("GET /api/shared-keys", h.ListSharedKeys)
	mux.HandleFunc("POST /api/shared-keys", h.CreateSharedKey)
	mux.HandleFunc("POST /api/shared-keys/{id}/unlock", h.UnlockSharedKey)
	mux.HandleFunc("POST /api/run", h.Run)
	mux.HandleFunc("POST /api/message", h.Message)
	mux.HandleFunc("GET /api/admin/connections", h.AdminConnections)
	mux.HandleFunc("GET /api/health", h.Health)
}

// CompleteCallback finishes an authorization flow from JSON, either with the
// state and code or with the pasted redirect URL.
func (h *Handler) CompleteCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, code := strings.TrimSpace(req.State), strings.TrimSpace(req.Code)
	if req.RedirectURL != "" {
		var err error
		state, code, err = application.ParseRedirectArtifact(req.RedirectURL)
		if err != nil {
			writeJSON(w, http.StatusOK, callbackFailure(err))
			return
		}
	}

	id, err := h.connect.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		h.logFailure("authorization callback failed", err)
		writeJSON(w, http.StatusOK, callbackFailure(err))
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{Success: true, ConnectionID: id})
}

func callbackFailure(err error) CallbackResponse {
	return CallbackResponse{Success: false, Error: publicMessage(err), ErrorKind: string(model.KindOf(err))}
}

// ConnectionInfo describes the connection named by the key query parameter.
func (h *Handler) ConnectionInfo(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing key")
		return
	}

	conn, err := h.connect.Connection(r.Context(), key)
	if err != nil {
		h.logFailure("connection info failed", err)
		writeError(w, statusFor(err), publicMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, ConnectionInfoResponse{
		ConnectionID:    conn.ID,
		AirtableBaseURL: h.baseURL(conn.DestinationBaseID),
		NeedsReconnect:  conn.NeedsReconnect,
		SharedKeyID:     conn.SharedKeyID,
	})
}

// UpdateBase points a connection at another destination base.
func (h *Handler) UpdateBase(w http.ResponseWriter, r *http.Request) {
	var req UpdateBaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	if _, err := h.connect.Connection(ctx, req.ConnectionID); err != nil {
		writeJSON(w, http.StatusOK, failure(err))
		return
	}

	if _, err := h.connect.UpdateDestination(ctx, req.ConnectionID, req.ref()); err != nil {
		h.logFailure("update destination failed", err)
		writeJSON(w, http.StatusOK, failure(err))
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Settings reports the export columns and key state of the connection named
// by the key query parameter.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing key")
		return
	}

	conn, err := h.connect.Connection(r.Context(), key)
	if err != nil {
		h.logFailure("connection settings failed", err)
		writeError(w, statusFor(err), publicMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, toSettingsResponse(*conn))
}

// UpdateSettings replaces a connection's export columns and, when given, its
// own destination API key.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, err := h.connect.UpdateSettings(r.Context(), req.ConnectionID, application.Settings{
		DestinationAPIKey: req.AirtableAPIKey,
		Fields:            req.Fields,
	})
	if err != nil {
		h.logFailure("update settings failed", err)
		writeJSON(w, http.StatusOK, failure(err))
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// ListSharedKeys returns the id and label of every shared key.
func (h *Handler) ListSharedKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.vault.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list shared keys", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := SharedKeysResponse{SharedKeys: make([]SharedKeyResponse, 0, len(keys))}
	for _, k := range keys {
		resp.SharedKeys = append(resp.SharedKeys, SharedKeyResponse{
			ID:        k.ID,
			Label:     k.Label,
			CreatedAt: formatTime(k.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateSharedKey stores a new password-protected destination API key.
func (h *Handler) CreateSharedKey(w http.ResponseWriter, r *http.Request) {
	var req CreateSharedKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.vault.Create(r.Context(), req.Label, req.Password, req.APIKey)
	if err != nil {
		h.logFailure("create shared key failed", err)
		writeJSON(w, http.StatusOK, failure(err))
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, ID: id})
}

// UnlockSharedKey attaches the shared key in the path to a connection.
func (h *Handler) UnlockSharedKey(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	if _, err := h.connect.Connection(ctx, req.ConnectionID); err != nil {
		writeJSON(w, http.StatusOK, failure(err))
		return
	}

	if err := h.vault.Unlock(ctx, r.PathValue("id"), req.Password, req.ConnectionID); err != nil {
		h.logFailure("unlock shared key failed", err)
		writeJSON(w, http.StatusOK, failure(err))
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Run executes an export synchronously. Failures are reported in the body
// with HTTP 200 so thin clients read one shape.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusOK, RunResponse{Success: false, Error: "invalid request body", ErrorKind: string(model.KindInternal)})
		return
	}

	exportReq, err := req.toExportRequest()
	if err != nil {
		writeJSON(w, http.StatusOK, toRunResponse(application.ExportResult{}, err))
		return
	}

	res, err := h.exports.Run(r.Context(), exportReq)
	writeJSON(w, http.StatusOK, toRunResponse(res, err))
}

// Message answers one tagged client message.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := application.DecodeMessage(raw)
	if err != nil {
		var unknown *model.UnknownActionError
		if errors.As(err, &unknown) || errors.Is(err, model.ErrInvalidListingFilters) {
			writeJSON(w, http.StatusOK, application.FailureReply(err))
			return
		}
		writeJSON(w, http.StatusBadRequest, application.Reply{OK: false, Error: "invalid message"})
		return
	}

	writeJSON(w, http.StatusOK, h.dispatcher.Dispatch(r.Context(), msg))
}

// AdminConnections lists every connection without secrets. It requires the
// admin bearer token and is hidden when no token is configured.
func (h *Handler) AdminConnections(w http.ResponseWriter, r *http.Request) {
	if h.opts.AdminToken == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if !h.authorizedAdmin(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="shelfsync"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conns, err := h.connect.Connections(r.Context())
	if err != nil {
		h.logger.Error("failed to list connections", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AdminConnectionResponse, 0, len(conns))
	for _, c := range conns {
		resp = append(resp, toAdminConnectionResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports storage reachability and connection counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handler) authorizedAdmin(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.opts.AdminToken)) == 1
}

func (h *Handler) baseURL(baseID string) string {
	if baseID == "" {
		return ""
	}
	return h.opts.DestinationWebBase + "/" + baseID
}

// logFailure logs caller mistakes at Info and everything else at Error.
func (h *Handler) logFailure(msg string, err error) {
	if model.IsClientError(err) {
		h.logger.Info(msg, "error", err, "kind", model.KindOf(err))
		return
	}
	h.logger.Error(msg, "error", err, "kind", model.KindOf(err))
}
