package application_test

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// --- ConnectionStore ---

type memConnStore struct {
	mu      sync.Mutex
	conns   map[string]model.Connection
	nextID  int
	updates int
}

func newMemConnStore(conns ...model.Connection) *memConnStore {
	s := &memConnStore{conns: make(map[string]model.Connection)}
	for _, c := range conns {
		s.conns[c.ID] = c
	}
	return s
}

func (s *memConnStore) Create(_ context.Context, meta model.TenantMeta, tokens model.TokenPair) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("conn-%d", s.nextID)
	s.conns[id] = model.Connection{
		ID:                id,
		AccountID:         meta.AccountID,
		DestinationBaseID: meta.DestinationBaseID,
		DestinationTable:  meta.DestinationTable,
		DestinationAPIKey: meta.DestinationAPIKey,
		Tokens:            tokens,
	}
	return id, nil
}

func (s *memConnStore) Get(_ context.Context, id string) (*model.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, model.ErrConnectionNotFound
	}
	return &c, nil
}

func (s *memConnStore) List(_ context.Context) ([]model.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out, nil
}

func (s *memConnStore) mutate(id string, fn func(*model.Connection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return model.ErrConnectionNotFound
	}
	fn(&c)
	s.conns[id] = c
	return nil
}

func (s *memConnStore) UpdateTokens(_ context.Context, id string, tokens model.TokenPair) error {
	return s.mutate(id, func(c *model.Connection) {
		s.updates++
		c.Tokens = tokens
		c.NeedsReconnect = false
	})
}

func (s *memConnStore) UpdateDestination(_ context.Context, id, baseID string) error {
	return s.mutate(id, func(c *model.Connection) { c.DestinationBaseID = baseID })
}

func (s *memConnStore) UpdateDestinationKey(_ context.Context, id, apiKey string) error {
	return s.mutate(id, func(c *model.Connection) { c.DestinationAPIKey = apiKey })
}

func (s *memConnStore) UpdateFields(_ context.Context, id string, fields []string) error {
	return s.mutate(id, func(c *model.Connection) { c.Fields = append([]string(nil), fields...) })
}

func (s *memConnStore) AssociateSharedKey(_ context.Context, id, keyID string) error {
	return s.mutate(id, func(c *model.Connection) { c.SharedKeyID = keyID })
}

func (s *memConnStore) MarkReconnectRequired(_ context.Context, id string) error {
	return s.mutate(id, func(c *model.Connection) { c.NeedsReconnect = true })
}

func (s *memConnStore) get(id string) model.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

// --- SharedKeyStore ---

type memKeyStore struct {
	mu   sync.Mutex
	keys map[string]model.SharedKey
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[string]model.SharedKey)}
}

func (s *memKeyStore) Create(_ context.Context, k model.SharedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
	return nil
}

func (s *memKeyStore) Get(_ context.Context, id string) (*model.SharedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, driven.ErrSharedKeyNotFound
	}
	return &k, nil
}

func (s *memKeyStore) List(_ context.Context) ([]model.SharedKeySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SharedKeySummary, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.Summary())
	}
	return out, nil
}

// --- AuthProvider ---

type fakeAuth struct {
	mu           sync.Mutex
	refreshCalls int
	refresh      func(n int, refreshToken string) (model.TokenPair, error)
	exchange     func(code string) (model.TokenPair, error)
}

func (a *fakeAuth) AuthCodeURL(state string) string {
	return "https://auth.example.com/authorize?state=" + state
}

func (a *fakeAuth) Exchange(_ context.Context, code string) (model.TokenPair, error) {
	if a.exchange == nil {
		return model.TokenPair{AccessToken: "at-" + code, RefreshToken: "rt-" + code, Expiry: time.Now().Add(time.Hour)}, nil
	}
	return a.exchange(code)
}

func (a *fakeAuth) Refresh(_ context.Context, refreshToken string) (model.TokenPair, error) {
	a.mu.Lock()
	a.refreshCalls++
	n := a.refreshCalls
	a.mu.Unlock()
	if a.refresh == nil {
		return model.TokenPair{AccessToken: "at-new", RefreshToken: "rt-new", Expiry: time.Now().Add(time.Hour)}, nil
	}
	return a.refresh(n, refreshToken)
}

func (a *fakeAuth) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls
}

// --- CatalogSource ---

// fakeSource serves a fixed catalog in pages with "offset:N" cursors. fail
// may inject an error for the nth items request (1-based).
type fakeSource struct {
	mu         sync.Mutex
	items      []model.CatalogItem
	vendors    []model.Vendor
	categories []model.Category
	pageSize   int
	fail       func(n int) error
	lookupFail func() error
	itemCalls  int
	tokens     []string
}

func (s *fakeSource) FetchItems(_ context.Context, req driven.PageRequest) (driven.Page[model.CatalogItem], error) {
	s.mu.Lock()
	s.itemCalls++
	n := s.itemCalls
	s.tokens = append(s.tokens, req.AccessToken)
	s.mu.Unlock()

	if s.fail != nil {
		if err := s.fail(n); err != nil {
			return driven.Page[model.CatalogItem]{}, err
		}
	}

	var matching []model.CatalogItem
	for _, it := range s.items {
		if req.CategoryID == "" || it.CategoryID == req.CategoryID {
			matching = append(matching, it)
		}
	}

	size := s.pageSize
	if size == 0 {
		size = 100
	}
	start := 0
	if req.Cursor != "" {
		start, _ = strconv.Atoi(strings.TrimPrefix(req.Cursor, "offset:"))
	}
	end := min(start+size, len(matching))

	page := driven.Page[model.CatalogItem]{Records: matching[start:end], Total: len(matching)}
	if end < len(matching) {
		page.Next = "offset:" + strconv.Itoa(end)
	}
	return page, nil
}

func (s *fakeSource) FetchVendors(_ context.Context, _ driven.PageRequest) (driven.Page[model.Vendor], error) {
	if s.lookupFail != nil {
		if err := s.lookupFail(); err != nil {
			return driven.Page[model.Vendor]{}, err
		}
	}
	return driven.Page[model.Vendor]{Records: s.vendors, Total: len(s.vendors)}, nil
}

func (s *fakeSource) FetchCategories(_ context.Context, req driven.PageRequest) (driven.Page[model.Category], error) {
	if s.lookupFail != nil {
		if err := s.lookupFail(); err != nil {
			return driven.Page[model.Category]{}, err
		}
	}
	var out []model.Category
	for _, c := range s.categories {
		if req.CategoryID == "" || c.ID == req.CategoryID {
			out = append(out, c)
		}
	}
	return driven.Page[model.Category]{Records: out, Total: len(out)}, nil
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemCalls
}

// --- Destination ---

type fakeDest struct {
	mu      sync.Mutex
	tables  []driven.TableSpec
	batches []driven.RecordBatch
	fail    func(n int) error
	calls   int
}

func (d *fakeDest) CreateTable(_ context.Context, spec driven.TableSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables = append(d.tables, spec)
	return fmt.Sprintf("tbl%d", len(d.tables)), nil
}

func (d *fakeDest) CreateRecords(_ context.Context, batch driven.RecordBatch) error {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()

	if d.fail != nil {
		if err := d.fail(n); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	batch.Records = append([]driven.Record(nil), batch.Records...)
	d.batches = append(d.batches, batch)
	return nil
}

func (d *fakeDest) MaxBatchSize() int { return 10 }

func (d *fakeDest) TableURL(baseID, tableID string) string {
	return "https://airtable.com/" + baseID + "/" + tableID
}

func (d *fakeDest) rowsIn(tableID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.batches {
		if b.TableID == tableID {
			n += len(b.Records)
		}
	}
	return n
}

// --- Fixtures ---

// catalogFixture builds n items in category cat. Odd items belong to vendor 7
// (Acme), even items to vendor 8 (Globex).
func catalogFixture(n int, cat string, firstID int) []model.CatalogItem {
	items := make([]model.CatalogItem, 0, n)
	for i := range n {
		id := firstID + i
		vendor := "8"
		if id%2 == 1 {
			vendor = "7"
		}
		items = append(items, model.CatalogItem{
			ItemID:       strconv.Itoa(id),
			Description:  fmt.Sprintf("Item %d", id),
			DefaultCost:  "10.00",
			DefaultPrice: "19.99",
			VendorID:     vendor,
			CategoryID:   cat,
			SystemSKU:    fmt.Sprintf("2100%08d", id),
			Stock:        []model.ShopStock{{ShopID: "0", QOH: id % 3}},
		})
	}
	return items
}

var fixtureVendors = []model.Vendor{{ID: "7", Name: "Acme"}, {ID: "8", Name: "Globex"}}

var fixtureCategories = []model.Category{
	{ID: "639", Name: "Shoes", FullPath: "Apparel/Shoes"},
	{ID: "640", Name: "Hats", FullPath: "Apparel/Hats"},
}

// freshConnection returns a connection with a token valid for an hour.
func freshConnection(id string) model.Connection {
	return model.Connection{
		ID:                id,
		AccountID:         "42",
		DestinationBaseID: "appBase1234567890",
		DestinationTable:  "Items",
		DestinationAPIKey: "pat-own",
		Tokens: model.TokenPair{
			AccessToken:  "at-old",
			RefreshToken: "rt-old",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
}

// stubRefresher is a tokenRefresher that hands out numbered tokens.
type stubRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *stubRefresher) Refresh(_ context.Context, _, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("at-%d", r.calls+1), nil
}

// countingRecorder tallies Recorder events.
type countingRecorder struct {
	mu      sync.Mutex
	pages   int
	retries int
	rows    int
	runs    []string
}

func (r *countingRecorder) PageFetched(string) { r.mu.Lock(); r.pages++; r.mu.Unlock() }

func (r *countingRecorder) Retried(string, string) { r.mu.Lock(); r.retries++; r.mu.Unlock() }

func (r *countingRecorder) TokenRefreshed(string) {}

func (r *countingRecorder) RowsWritten(n int) { r.mu.Lock(); r.rows += n; r.mu.Unlock() }

func (r *countingRecorder) RunFinished(kind string) { r.mu.Lock(); r.runs = append(r.runs, kind); r.mu.Unlock() }
