// Package web implements the HTML driving adapter using templ components.
package web

import (
	"bytes"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"github.com/ericfisherdev/shelfsync/internal/adapter/driving/web/templates"
	"github.com/ericfisherdev/shelfsync/internal/adapter/driving/web/templates/pages"
	vm "github.com/ericfisherdev/shelfsync/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/shelfsync/internal/application"
	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler is the web driving adapter that serves HTML via templ components.
type Handler struct {
	connect       *application.ConnectService
	vault         *application.VaultService
	gallery       *application.GalleryService
	signer        *application.ShareSigner
	publicURL     string
	secureCookies bool
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. publicURL
// prefixes share links; an https URL also marks cookies Secure.
func NewHandler(
	connect *application.ConnectService,
	vault *application.VaultService,
	gallery *application.GalleryService,
	signer *application.ShareSigner,
	publicURL string,
	logger *slog.Logger,
) *Handler {
	publicURL = strings.TrimRight(publicURL, "/")
	return &Handler{
		connect:       connect,
		vault:         vault,
		gallery:       gallery,
		signer:        signer,
		publicURL:     publicURL,
		secureCookies: strings.HasPrefix(publicURL, "https://"),
		logger:        logger,
	}
}

// Home sends visitors to the connect form.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/connect", http.StatusFound)
}

// ConnectForm renders the tenant metadata form.
func (h *Handler) ConnectForm(w http.ResponseWriter, r *http.Request) {
	h.renderConnect(w, r, http.StatusOK, vm.ConnectFormViewModel{})
}

// StartConnect validates the submitted metadata and redirects to the
// provider's authorization page.
func (h *Handler) StartConnect(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		h.renderError(w, r, http.StatusForbidden, "Form expired", "Reload the page and submit the form again.")
		return
	}

	meta := model.TenantMeta{
		AccountID:            r.FormValue("account_id"),
		DestinationBaseID:    strings.TrimSpace(r.FormValue("airtable_base_url")),
		DestinationTable:     r.FormValue("airtable_table_name"),
		DestinationAPIKey:    r.FormValue("airtable_api_key"),
		SharedKeyID:          strings.TrimSpace(r.FormValue("shared_key_id")),
		SharedKeyPassword:    r.FormValue("shared_key_password"),
		NewSharedKeyLabel:    strings.TrimSpace(r.FormValue("share_label")),
		NewSharedKeyPassword: r.FormValue("share_password"),
	}

	start, err := h.connect.BeginAuthorization(r.Context(), meta)
	if err != nil {
		h.logFailure("start authorization failed", err)
		h.renderConnect(w, r, pageStatus(err), vm.ConnectFormViewModel{
			Error:            errorMessage(err),
			AccountID:        meta.AccountID,
			DestinationRef:   meta.DestinationBaseID,
			DestinationTable: meta.DestinationTable,
			SharedKeyID:      meta.SharedKeyID,
			NewSharedKeyName: meta.NewSharedKeyLabel,
		})
		return
	}

	http.Redirect(w, r, start.URL, http.StatusFound)
}

// Callback handles the provider redirect after the tenant approves access.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		h.logger.Info("authorization declined", "reason", reason)
		h.renderConnect(w, r, http.StatusBadRequest, vm.ConnectFormViewModel{
			Error: "Access was not granted. Start again to connect.",
		})
		return
	}

	id, err := h.connect.CompleteAuthorization(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		h.logFailure("authorization callback failed", err)
		h.renderConnect(w, r, http.StatusBadRequest, vm.ConnectFormViewModel{Error: errorMessage(err)})
		return
	}

	redirectToSuccess(w, r, id)
}

// PasteForm renders the pasted-redirect form.
func (h *Handler) PasteForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "Finish connecting", pages.Paste(vm.PasteViewModel{
		CSRFToken: csrfToken(w, r, h.secureCookies),
	}))
}

// SubmitPaste completes authorization from a pasted redirect address.
func (h *Handler) SubmitPaste(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		h.renderError(w, r, http.StatusForbidden, "Form expired", "Reload the page and submit the form again.")
		return
	}

	state, code, err := application.ParseRedirectArtifact(r.FormValue("redirect_url"))
	if err == nil {
		var id string
		if id, err = h.connect.CompleteAuthorization(r.Context(), state, code); err == nil {
			redirectToSuccess(w, r, id)
			return
		}
	}

	h.logFailure("pasted authorization failed", err)
	h.render(w, r, http.StatusBadRequest, "Finish connecting", pages.Paste(vm.PasteViewModel{
		CSRFToken: csrfToken(w, r, h.secureCookies),
		Error:     errorMessage(err),
	}))
}

// Success shows the connection key of a finished flow.
func (h *Handler) Success(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		http.Redirect(w, r, "/connect", http.StatusFound)
		return
	}
	h.render(w, r, http.StatusOK, "Connected", pages.Success(vm.SuccessViewModel{
		ConnectionKey: key,
		GalleryPath:   "/gallery?" + url.Values{"key": {key}}.Encode(),
		SettingsPath:  "/settings?" + url.Values{"key": {key}}.Encode(),
	}))
}

// Settings renders the export settings of the connection named by key.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		http.Redirect(w, r, "/connect", http.StatusFound)
		return
	}

	conn, err := h.connect.Connection(r.Context(), key)
	if err != nil {
		h.logFailure("load settings failed", err)
		h.renderError(w, r, pageStatus(err), "Settings unavailable", errorMessage(err))
		return
	}

	h.renderSettings(w, r, http.StatusOK, toSettingsViewModel(*conn, nil))
}

// SaveSettings stores the submitted column selection and, when one was
// pasted, a replacement Airtable key.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		h.renderError(w, r, http.StatusForbidden, "Form expired", "Reload the page and submit the form again.")
		return
	}

	key := strings.TrimSpace(r.FormValue("key"))
	chosen := r.PostForm["field"]
	conn, err := h.connect.UpdateSettings(r.Context(), key, application.Settings{
		DestinationAPIKey: r.FormValue("airtable_api_key"),
		Fields:            chosen,
	})
	if err == nil {
		data := toSettingsViewModel(*conn, nil)
		data.Saved = true
		h.renderSettings(w, r, http.StatusOK, data)
		return
	}

	h.logFailure("save settings failed", err)
	current, lerr := h.connect.Connection(r.Context(), key)
	if lerr != nil {
		h.renderError(w, r, pageStatus(err), "Settings unavailable", errorMessage(err))
		return
	}
	if chosen == nil {
		chosen = []string{}
	}
	data := toSettingsViewModel(*current, chosen)
	data.Error = errorMessage(err)
	h.renderSettings(w, r, pageStatus(err), data)
}

// SharedKeyForm renders the shared key creation form.
func (h *Handler) SharedKeyForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "Create a store key", pages.SharedKeyCreate(vm.SharedKeyFormViewModel{
		CSRFToken: csrfToken(w, r, h.secureCookies),
	}))
}

// CreateSharedKey stores a new shared key from the form.
func (h *Handler) CreateSharedKey(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		h.renderError(w, r, http.StatusForbidden, "Form expired", "Reload the page and submit the form again.")
		return
	}

	label := strings.TrimSpace(r.FormValue("label"))
	data := vm.SharedKeyFormViewModel{CSRFToken: csrfToken(w, r, h.secureCookies), Label: label}
	status := http.StatusOK

	if _, err := h.vault.Create(r.Context(), label, r.FormValue("password"), r.FormValue("api_key")); err != nil {
		h.logFailure("create shared key failed", err)
		data.Error = errorMessage(err)
		status = pageStatus(err)
	} else {
		data.Saved = true
	}

	h.render(w, r, status, "Create a store key", pages.SharedKeyCreate(data))
}

// Gallery renders the items matching the query's connection, category and
// filters.
func (h *Handler) Gallery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.galleryRequest(w, r)
	if !ok {
		return
	}
	g, err := h.gallery.Load(r.Context(), req)
	if err != nil {
		h.galleryFailed(w, r, err)
		return
	}

	data := toGalleryViewModel(g)
	data.SpreadsheetURL = "/gallery/export.xlsx?" + r.URL.RawQuery
	if token, err := h.signer.Sign(req); err != nil {
		h.logger.Error("sign gallery link failed", "error", err)
	} else {
		data.ShareURL = h.publicURL + "/gallery/s/" + token
	}
	h.render(w, r, http.StatusOK, g.Title, pages.Gallery(data))
}

// GallerySpreadsheet downloads the gallery selected by the query as xlsx.
func (h *Handler) GallerySpreadsheet(w http.ResponseWriter, r *http.Request) {
	req, ok := h.galleryRequest(w, r)
	if !ok {
		return
	}
	h.spreadsheet(w, r, req)
}

// SharedGallery renders the gallery locked into a signed link.
func (h *Handler) SharedGallery(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	req, err := h.signer.Verify(token)
	if err != nil {
		h.galleryFailed(w, r, err)
		return
	}
	g, err := h.gallery.Load(r.Context(), req)
	if err != nil {
		h.galleryFailed(w, r, err)
		return
	}

	data := toGalleryViewModel(g)
	data.SpreadsheetURL = "/gallery/s/" + token + "/export.xlsx"
	data.ShareURL = h.publicURL + "/gallery/s/" + token
	h.render(w, r, http.StatusOK, g.Title, pages.Gallery(data))
}

// SharedGallerySpreadsheet downloads the gallery of a signed link as xlsx.
func (h *Handler) SharedGallerySpreadsheet(w http.ResponseWriter, r *http.Request) {
	req, err := h.signer.Verify(r.PathValue("token"))
	if err != nil {
		h.galleryFailed(w, r, err)
		return
	}
	h.spreadsheet(w, r, req)
}

func (h *Handler) spreadsheet(w http.ResponseWriter, r *http.Request, req model.ExportRequest) {
	g, err := h.gallery.Load(r.Context(), req)
	if err != nil {
		h.galleryFailed(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := writeSpreadsheet(&buf, g); err != nil {
		h.logger.Error("build spreadsheet failed", "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "Download failed", "The spreadsheet could not be built.")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": spreadsheetName(g.Title),
	}))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("write spreadsheet failed", "error", err)
	}
}

// galleryRequest reads an export request from the query string. A missing
// key sends the visitor to connect first.
func (h *Handler) galleryRequest(w http.ResponseWriter, r *http.Request) (model.ExportRequest, bool) {
	q := r.URL.Query()
	key := strings.TrimSpace(q.Get("key"))
	if key == "" {
		http.Redirect(w, r, "/connect", http.StatusFound)
		return model.ExportRequest{}, false
	}

	filters, err := model.ParseListingFilters(q.Get("listing_filters"))
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Invalid filters", err.Error())
		return model.ExportRequest{}, false
	}
	if checked(q.Get("qoh_positive_only")) {
		filters = filters.WithPositiveStockOnly(strings.TrimSpace(q.Get("shop_id")))
	}

	return model.ExportRequest{
		ConnectionID:   key,
		CategoryID:     strings.TrimSpace(q.Get("category_id")),
		ListingFilters: filters,
	}, true
}

func (h *Handler) galleryFailed(w http.ResponseWriter, r *http.Request, err error) {
	h.logFailure("gallery failed", err)
	h.renderError(w, r, pageStatus(err), "Gallery unavailable", errorMessage(err))
}

func (h *Handler) renderConnect(w http.ResponseWriter, r *http.Request, status int, data vm.ConnectFormViewModel) {
	data.CSRFToken = csrfToken(w, r, h.secureCookies)
	keys, err := h.vault.List(r.Context())
	if err != nil {
		h.logger.Error("list shared keys failed", "error", err)
	}
	data.SharedKeys = toSharedKeyOptions(keys)
	h.render(w, r, status, "Connect", pages.Connect(data))
}

func (h *Handler) renderSettings(w http.ResponseWriter, r *http.Request, status int, data vm.SettingsViewModel) {
	data.CSRFToken = csrfToken(w, r, h.secureCookies)
	h.render(w, r, status, "Export settings", pages.Settings(data))
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, title, message string) {
	h.render(w, r, status, title, pages.Error(vm.ErrorViewModel{Title: title, Message: message}))
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, title string, body templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.Layout(title, body).Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render page", "title", title, "error", err)
	}
}

func (h *Handler) logFailure(msg string, err error) {
	if model.IsClientError(err) || errors.Is(err, model.ErrTokenExchange) {
		h.logger.Info(msg, "error", err, "kind", model.KindOf(err))
		return
	}
	h.logger.Error(msg, "error", err, "kind", model.KindOf(err))
}

func redirectToSuccess(w http.ResponseWriter, r *http.Request, id string) {
	http.Redirect(w, r, "/connect/success?"+url.Values{"key": {id}}.Encode(), http.StatusSeeOther)
}

// pageStatus maps an error to the status of the page that reports it.
func pageStatus(err error) int {
	switch model.KindOf(err) {
	case model.KindConnectionNotFound:
		return http.StatusNotFound
	case model.KindInvalidShareLink, model.KindUnlockFailed:
		return http.StatusForbidden
	case model.KindReconnectRequired:
		return http.StatusUnauthorized
	case model.KindUpstreamRateLimited, model.KindUpstreamUnavailable, model.KindUpstreamRequest,
		model.KindDestinationWrite, model.KindNoDestinationCredential:
		return http.StatusBadGateway
	case model.KindCanceled:
		return http.StatusServiceUnavailable
	case model.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// errorMessage hides internal failure details from visitors.
func errorMessage(err error) string {
	if model.KindOf(err) == model.KindInternal {
		return "Something went wrong. Try again later."
	}
	return err.Error()
}

func checked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// spreadsheetName derives a download file name from a gallery title.
func spreadsheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "gallery"
	}
	return name + ".xlsx"
}
