package web

import (
	"io/fs"
	"net/http"
)

// RegisterRoutes registers the HTML pages on the provided mux.
// Static assets are served from the embedded filesystem at /static/*.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	staticFS, _ := fs.Sub(StaticFS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFS)))

	mux.HandleFunc("GET /{$}", h.Home)

	// Authorization flow.
	mux.HandleFunc("GET /connect", h.ConnectForm)
	mux.HandleFunc("POST /connect/start", h.StartConnect)
	mux.HandleFunc("GET /connect/callback", h.Callback)
	mux.HandleFunc("GET /connect/paste", h.PasteForm)
	mux.HandleFunc("POST /connect/paste", h.SubmitPaste)
	mux.HandleFunc("GET /connect/success", h.Success)

	mux.HandleFunc("GET /settings", h.Settings)
	mux.HandleFunc("POST /settings", h.SaveSettings)

	mux.HandleFunc("GET /shared-keys/create", h.SharedKeyForm)
	mux.HandleFunc("POST /shared-keys/create", h.CreateSharedKey)

	// Galleries.
	mux.HandleFunc("GET /gallery", h.Gallery)
	mux.HandleFunc("GET /gallery/export.xlsx", h.GallerySpreadsheet)
	mux.HandleFunc("GET /gallery/s/{token}", h.SharedGallery)
	mux.HandleFunc("GET /gallery/s/{token}/export.xlsx", h.SharedGallerySpreadsheet)
}
