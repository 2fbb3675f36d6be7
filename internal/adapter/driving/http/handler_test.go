package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqliteadapter "github.com/ericfisherdev/shelfsync/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/shelfsync/internal/adapter/driving/http"
	"github.com/ericfisherdev/shelfsync/internal/application"
	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// --- Fakes ---

type fakeAuth struct{}

func (fakeAuth) AuthCodeURL(state string) string {
	return "https://auth.example.com/authorize?state=" + state
}

func (fakeAuth) Exchange(_ context.Context, code string) (model.TokenPair, error) {
	if code == "bad" {
		return model.TokenPair{}, fmt.Errorf("%w: invalid_grant", model.ErrTokenExchange)
	}
	return model.TokenPair{AccessToken: "at-" + code, RefreshToken: "rt-" + code, Expiry: time.Now().Add(time.Hour)}, nil
}

func (fakeAuth) Refresh(_ context.Context, _ string) (model.TokenPair, error) {
	return model.TokenPair{AccessToken: "at-new", RefreshToken: "rt-new", Expiry: time.Now().Add(time.Hour)}, nil
}

type fakeCatalog struct {
	items []model.CatalogItem
}

func (f *fakeCatalog) FetchItems(_ context.Context, req driven.PageRequest) (driven.Page[model.CatalogItem], error) {
	var out []model.CatalogItem
	for _, it := range f.items {
		if req.CategoryID == "" || it.CategoryID == req.CategoryID {
			out = append(out, it)
		}
	}
	return driven.Page[model.CatalogItem]{Records: out, Total: len(out)}, nil
}

func (f *fakeCatalog) FetchVendors(_ context.Context, _ driven.PageRequest) (driven.Page[model.Vendor], error) {
	return driven.Page[model.Vendor]{Records: []model.Vendor{{ID: "7", Name: "Acme"}, {ID: "8", Name: "Globex"}}, Total: 2}, nil
}

func (f *fakeCatalog) FetchCategories(_ context.Context, _ driven.PageRequest) (driven.Page[model.Category], error) {
	return driven.Page[model.Category]{Records: []model.Category{{ID: "639", Name: "Shoes", FullPath: "Apparel/Shoes"}}, Total: 1}, nil
}

type fakeDest struct {
	mu        sync.Mutex
	tables    []driven.TableSpec
	records   int
	failTable error
}

func (d *fakeDest) CreateTable(_ context.Context, spec driven.TableSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failTable != nil {
		return "", d.failTable
	}
	d.tables = append(d.tables, spec)
	return fmt.Sprintf("tbl%d", len(d.tables)), nil
}

func (d *fakeDest) CreateRecords(_ context.Context, batch driven.RecordBatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records += len(batch.Records)
	return nil
}

func (d *fakeDest) MaxBatchSize() int { return 10 }

func (d *fakeDest) TableURL(baseID, tableID string) string {
	return "https://airtable.com/" + baseID + "/" + tableID
}

// --- Test helpers ---

const testBaseID = "appBase1234567890"

type harness struct {
	mux     http.Handler
	conns   *sqliteadapter.ConnectionRepo
	connect *application.ConnectService
	vault   *application.VaultService
	dest    *fakeDest
	connID  string
}

// catalogItems returns n items in category 639; odd ids belong to vendor 7,
// even ids to vendor 8. Every third item is out of stock.
func catalogItems(n int) []model.CatalogItem {
	items := make([]model.CatalogItem, 0, n)
	for i := 1; i <= n; i++ {
		vendor := "7"
		if i%2 == 0 {
			vendor = "8"
		}
		items = append(items, model.CatalogItem{
			ItemID:      fmt.Sprint(i),
			Description: fmt.Sprintf("Item %d", i),
			VendorID:    vendor,
			CategoryID:  "639",
			Stock:       []model.ShopStock{{ShopID: "0", QOH: i % 3}},
		})
	}
	return items
}

func newHarness(t *testing.T, opts httphandler.Options) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := sqliteadapter.NewDB(ctx, filepath.Join(t.TempDir(), "shelfsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqliteadapter.RunMigrations(db.Writer))

	cipher, err := sqliteadapter.NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	conns := sqliteadapter.NewConnectionRepo(db, cipher)
	keys := sqliteadapter.NewSharedKeyRepo(db, cipher)

	connID, err := conns.Create(ctx, model.TenantMeta{
		AccountID:         "42",
		DestinationBaseID: testBaseID,
		DestinationTable:  "Items",
		DestinationAPIKey: "pat-own",
	}, model.TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	auth := fakeAuth{}
	dest := &fakeDest{}
	vault := application.NewVaultService(keys, conns, 4)
	connect := application.NewConnectService(auth, conns, vault, 0)
	tokens := application.NewTokenService(conns, auth, nil)
	fetcher := application.NewFetcher(&fakeCatalog{items: catalogItems(12)}, tokens, nil, application.FetchPolicy{}, nil)
	exports := application.NewExportService(conns, tokens, fetcher, vault, dest, nil, application.ExportConfig{}, slog.Default())
	signer := application.NewShareSigner([]byte("share-secret"), time.Hour)
	dispatcher := application.NewDispatcher(connect, exports, signer, "https://shelfsync.example.com")
	health := application.NewHealthService(db, conns)

	if opts.DestinationWebBase == "" {
		opts.DestinationWebBase = "https://airtable.com/"
	}
	h := httphandler.NewHandler(connect, vault, exports, dispatcher, health, opts, slog.Default())
	mux := http.NewServeMux()
	httphandler.RegisterAPIRoutes(mux, h)
	mux.HandleFunc("GET /gallery", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	return &harness{
		mux:     httphandler.ApplyMiddleware(mux, slog.Default(), nil),
		conns:   conns,
		connect: connect,
		vault:   vault,
		dest:    dest,
		connID:  connID,
	}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

// --- Tests ---

func TestConnectionInfo(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{name: "known key", query: "?key=" + h.connID, wantStatus: http.StatusOK},
		{name: "missing key", query: "", wantStatus: http.StatusBadRequest},
		{name: "unknown key", query: "?key=nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, "/api/connection-info"+tt.query, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	rec := h.do(t, http.MethodGet, "/api/connection-info?key="+h.connID, "")
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, h.connID, resp["connection_id"])
	assert.Equal(t, "https://airtable.com/"+testBaseID, resp["airtable_base_url"])
	assert.Equal(t, false, resp["needs_reconnect"])
}

func TestUpdateBase(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	tests := []struct {
		name     string
		body     string
		wantOK   bool
		wantKind string
	}{
		{
			name:   "full base url via alias",
			body:   fmt.Sprintf(`{"connection_id":%q,"airtable_base_url":"https://airtable.com/appNewBase12345678/tblX/viwY"}`, h.connID),
			wantOK: true,
		},
		{
			name:     "invalid reference",
			body:     fmt.Sprintf(`{"connection_id":%q,"destination_base_ref":"not a base"}`, h.connID),
			wantKind: string(model.KindInvalidDestinationRef),
		},
		{
			name:     "unknown connection",
			body:     `{"connection_id":"nope","destination_base_ref":"appNewBase12345678"}`,
			wantKind: string(model.KindConnectionNotFound),
		},
		{
			name:     "missing connection",
			body:     `{"destination_base_ref":"appNewBase12345678"}`,
			wantKind: string(model.KindMissingConnectionID),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/connection/update-base", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp map[string]any
			decodeJSON(t, rec, &resp)
			assert.Equal(t, tt.wantOK, resp["success"])
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, resp["error_kind"])
			}
		})
	}

	conn, err := h.conns.Get(context.Background(), h.connID)
	require.NoError(t, err)
	assert.Equal(t, "appNewBase12345678", conn.DestinationBaseID)
}

func TestSharedKeys_CreateListUnlock(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	rec := h.do(t, http.MethodPost, "/api/shared-keys", `{"label":"Main store","password":"hunter22","api_key":"pat-shared"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var created map[string]any
	decodeJSON(t, rec, &created)
	require.Equal(t, true, created["success"])
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	rec = h.do(t, http.MethodGet, "/api/shared-keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pat-shared")
	assert.NotContains(t, rec.Body.String(), "hunter22")
	var listed struct {
		SharedKeys []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		} `json:"shared_keys"`
	}
	decodeJSON(t, rec, &listed)
	require.Len(t, listed.SharedKeys, 1)
	assert.Equal(t, "Main store", listed.SharedKeys[0].Label)

	rec = h.do(t, http.MethodPost, "/api/shared-keys/"+id+"/unlock",
		fmt.Sprintf(`{"password":"wrong","connection_id":%q}`, h.connID))
	var failed map[string]any
	decodeJSON(t, rec, &failed)
	assert.Equal(t, false, failed["success"])
	assert.Equal(t, string(model.KindUnlockFailed), failed["error_kind"])

	rec = h.do(t, http.MethodPost, "/api/shared-keys/"+id+"/unlock",
		fmt.Sprintf(`{"password":"hunter22","connection_id":%q}`, h.connID))
	var unlocked map[string]any
	decodeJSON(t, rec, &unlocked)
	assert.Equal(t, true, unlocked["success"])

	conn, err := h.conns.Get(context.Background(), h.connID)
	require.NoError(t, err)
	assert.Equal(t, id, conn.SharedKeyID)
}

func TestSharedKeys_CreateRejectsMissingFields(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	rec := h.do(t, http.MethodPost, "/api/shared-keys", `{"label":"Main store","password":""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, string(model.KindInvalidSharedKey), resp["error_kind"])
}

func TestRun(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	rec := h.do(t, http.MethodPost, "/api/run", fmt.Sprintf(`{"connection_id":%q,"category_id":"639"}`, h.connID))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	require.Equal(t, true, resp["success"], resp["error"])
	assert.EqualValues(t, 12, resp["written"])
	assert.Equal(t, "https://airtable.com/"+testBaseID+"/tbl1", resp["airtable_url"])
	assert.Equal(t, 12, h.dest.records)
}

func TestRun_StockShortcutAndVendorFilter(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	body := fmt.Sprintf(`{"connection_id":%q,"category_id":"639","listing_filters":"{\"vendor\":\"Acme\"}","qoh_positive_only":"true"}`, h.connID)
	rec := h.do(t, http.MethodPost, "/api/run", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	require.Equal(t, true, resp["success"], resp["error"])
	// Odd ids 1..11 belong to Acme; 3 and 9 have zero stock.
	assert.EqualValues(t, 4, resp["written"])
}

func TestRun_FailuresAreReportedWith200(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	tests := []struct {
		name     string
		body     string
		wantKind string
	}{
		{name: "missing connection", body: `{"category_id":"639"}`, wantKind: string(model.KindMissingConnectionID)},
		{name: "unknown connection", body: `{"connection_id":"nope","category_id":"639"}`, wantKind: string(model.KindConnectionNotFound)},
		{name: "malformed filters", body: `{"connection_id":"nope","listing_filters":[1,2]}`, wantKind: string(model.KindInvalidListingFilters)},
		{name: "malformed filter string", body: `{"connection_id":"nope","listing_filters":"{vendor"}`, wantKind: string(model.KindInvalidListingFilters)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/run", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp map[string]any
			decodeJSON(t, rec, &resp)
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, tt.wantKind, resp["error_kind"])
			assert.NotEmpty(t, resp["error"])
		})
	}
	assert.Empty(t, h.dest.tables)
}

func TestRun_LongErrorKeepsMostRecentText(t *testing.T) {
	h := newHarness(t, httphandler.Options{})
	h.dest.failTable = &driven.StatusError{
		Service:    "airtable",
		StatusCode: http.StatusUnprocessableEntity,
		Body:       strings.Repeat("é", 800) + " final cause",
	}

	rec := h.do(t, http.MethodPost, "/api/run", fmt.Sprintf(`{"connection_id":%q,"category_id":"639"}`, h.connID))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success   bool   `json:"success"`
		Error     string `json:"error"`
		ErrorKind string `json:"error_kind"`
	}
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, string(model.KindDestinationWrite), resp.ErrorKind)
	assert.True(t, utf8.ValidString(resp.Error))
	assert.Equal(t, application.MaxErrorText, utf8.RuneCountInString(resp.Error))
	assert.True(t, strings.HasSuffix(resp.Error, " final cause"))
}

func TestSettings(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	rec := h.do(t, http.MethodGet, "/api/connection/settings?key="+h.connID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pat-own")

	var before httphandler.SettingsResponse
	decodeJSON(t, rec, &before)
	assert.True(t, before.HasOwnKey)
	require.Len(t, before.Fields, len(application.TableFields()))
	for _, f := range before.Fields {
		assert.True(t, f.Selected, f.Name)
	}
	assert.True(t, before.Fields[0].Required)

	rec = h.do(t, http.MethodPost, "/api/connection/settings",
		fmt.Sprintf(`{"connection_id":%q,"airtable_api_key":"pat-rotated","fields":["Name","Price"]}`, h.connID))
	require.Equal(t, http.StatusOK, rec.Code)
	var saved map[string]any
	decodeJSON(t, rec, &saved)
	require.Equal(t, true, saved["success"], saved["error"])

	conn, err := h.conns.Get(context.Background(), h.connID)
	require.NoError(t, err)
	assert.Equal(t, "pat-rotated", conn.DestinationAPIKey)
	assert.Equal(t, []string{"System SKU", "Name", "Price"}, conn.Fields)

	rec = h.do(t, http.MethodGet, "/api/connection/settings?key="+h.connID, "")
	var after httphandler.SettingsResponse
	decodeJSON(t, rec, &after)
	var selected []string
	for _, f := range after.Fields {
		if f.Selected {
			selected = append(selected, f.Name)
		}
	}
	assert.Equal(t, []string{"System SKU", "Name", "Price"}, selected)

	rec = h.do(t, http.MethodPost, "/api/run", fmt.Sprintf(`{"connection_id":%q,"category_id":"639"}`, h.connID))
	var run map[string]any
	decodeJSON(t, rec, &run)
	require.Equal(t, true, run["success"], run["error"])
	require.Len(t, h.dest.tables, 1)
	assert.Len(t, h.dest.tables[0].Fields, 3)
}

func TestUpdateSettings_Failures(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	tests := []struct {
		name     string
		body     string
		wantKind string
	}{
		{name: "no fields", body: fmt.Sprintf(`{"connection_id":%q,"fields":[]}`, h.connID), wantKind: string(model.KindInvalidFieldSelection)},
		{name: "unknown field", body: fmt.Sprintf(`{"connection_id":%q,"fields":["Colour"]}`, h.connID), wantKind: string(model.KindInvalidFieldSelection)},
		{name: "unknown connection", body: `{"connection_id":"nope","fields":["Name"]}`, wantKind: string(model.KindConnectionNotFound)},
		{name: "missing connection", body: `{"fields":["Name"]}`, wantKind: string(model.KindMissingConnectionID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/connection/settings", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp map[string]any
			decodeJSON(t, rec, &resp)
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, tt.wantKind, resp["error_kind"])
		})
	}

	rec := h.do(t, http.MethodGet, "/api/connection/settings?key=nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessage(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	rec := h.do(t, http.MethodPost, "/api/message", fmt.Sprintf(`{"action":"saveConnectionKey","key":%q}`, h.connID))
	require.Equal(t, http.StatusOK, rec.Code)
	var saved map[string]any
	decodeJSON(t, rec, &saved)
	assert.Equal(t, true, saved["ok"])
	assert.Equal(t, h.connID, saved["connection_id"])

	rec = h.do(t, http.MethodPost, "/api/message", fmt.Sprintf(`{"action":"openGallery","key":%q,"category_id":"639"}`, h.connID))
	var gallery map[string]any
	decodeJSON(t, rec, &gallery)
	assert.Equal(t, true, gallery["ok"])
	assert.True(t, strings.HasPrefix(gallery["gallery_url"].(string), "https://shelfsync.example.com/gallery/s/"))

	rec = h.do(t, http.MethodPost, "/api/message", `{"action":"deleteEverything"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var unknown map[string]any
	decodeJSON(t, rec, &unknown)
	assert.Equal(t, false, unknown["ok"])
	assert.Equal(t, string(model.KindUnknownAction), unknown["error_kind"])

	rec = h.do(t, http.MethodPost, "/api/message", `{"action":"runExport","connection_id":"c1","listing_filters":[1,2]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var badFilters map[string]any
	decodeJSON(t, rec, &badFilters)
	assert.Equal(t, false, badFilters["ok"])
	assert.Equal(t, string(model.KindInvalidListingFilters), badFilters["error_kind"])

	rec = h.do(t, http.MethodPost, "/api/message", `{"action":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteCallback(t *testing.T) {
	h := newHarness(t, httphandler.Options{})
	ctx := context.Background()
	meta := model.TenantMeta{AccountID: "77", DestinationBaseID: testBaseID, DestinationAPIKey: "pat-77"}

	start, err := h.connect.BeginAuthorization(ctx, meta)
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/connect/callback", fmt.Sprintf(`{"state":%q,"code":"abc"}`, start.State))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	require.Equal(t, true, resp["success"], resp["error"])
	id := resp["connection_id"].(string)

	conn, err := h.conns.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "77", conn.AccountID)
	assert.Equal(t, "at-abc", conn.Tokens.AccessToken)

	// The state is consumed.
	rec = h.do(t, http.MethodPost, "/connect/callback", fmt.Sprintf(`{"state":%q,"code":"abc"}`, start.State))
	var again map[string]any
	decodeJSON(t, rec, &again)
	assert.Equal(t, false, again["success"])
	assert.Equal(t, string(model.KindAuthFlowNotFound), again["error_kind"])
}

func TestCompleteCallback_PastedRedirect(t *testing.T) {
	h := newHarness(t, httphandler.Options{})
	meta := model.TenantMeta{AccountID: "78", DestinationBaseID: testBaseID, DestinationAPIKey: "pat-78"}

	start, err := h.connect.BeginAuthorization(context.Background(), meta)
	require.NoError(t, err)

	pasted := "https://shelfsync.example.com/connect/callback?code=xyz&state=" + start.State
	rec := h.do(t, http.MethodPost, "/connect/callback", fmt.Sprintf(`{"redirect_url":%q}`, pasted))
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, true, resp["success"], resp["error"])

	start, err = h.connect.BeginAuthorization(context.Background(), meta)
	require.NoError(t, err)
	rec = h.do(t, http.MethodPost, "/connect/callback", fmt.Sprintf(`{"state":%q,"code":"bad"}`, start.State))
	var failed map[string]any
	decodeJSON(t, rec, &failed)
	assert.Equal(t, false, failed["success"])
	assert.Equal(t, string(model.KindTokenExchange), failed["error_kind"])
}

func TestAdminConnections(t *testing.T) {
	t.Run("disabled without token", func(t *testing.T) {
		h := newHarness(t, httphandler.Options{})
		rec := h.do(t, http.MethodGet, "/api/admin/connections", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	h := newHarness(t, httphandler.Options{AdminToken: "s3cret"})

	rec := h.do(t, http.MethodGet, "/api/admin/connections", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/connections", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/connections", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pat-own")
	assert.NotContains(t, rec.Body.String(), `"at"`)

	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, h.connID, resp[0]["id"])
	assert.Equal(t, true, resp[0]["has_own_key"])
}

func TestHealth(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	rec := h.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.EqualValues(t, 1, resp["connections"])
}

func TestCORS_OnlyOnAPIPaths(t *testing.T) {
	h := newHarness(t, httphandler.Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/gallery", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	handler := httphandler.ApplyMiddleware(mux, slog.Default(), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "internal server error", resp["error"])
}
