package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Gallery is a printable view of the items an export with the same request
// would write.
type Gallery struct {
	Title       string
	Request     model.ExportRequest
	Rows        []Row
	GeneratedAt time.Time
}

// GalleryService loads galleries. It never writes to the destination.
type GalleryService struct {
	reader catalogReader
	now    func() time.Time
}

// NewGalleryService creates a GalleryService.
func NewGalleryService(conns driven.ConnectionStore, tokens *TokenService, fetcher *Fetcher) *GalleryService {
	return &GalleryService{
		reader: catalogReader{conns: conns, tokens: tokens, fetcher: fetcher},
		now:    time.Now,
	}
}

// Load streams the catalog and keeps the items matching the request's
// filters. No match yields an empty gallery.
func (s *GalleryService) Load(ctx context.Context, req model.ExportRequest) (Gallery, error) {
	_, sess, err := s.reader.open(ctx, req.ConnectionID)
	if err != nil {
		return Gallery{}, err
	}

	vendors, title, err := s.reader.lookups(ctx, sess, req, allCategoriesTitle)
	if err != nil {
		return Gallery{}, err
	}

	g := Gallery{Title: title, Request: req, GeneratedAt: s.now()}
	shopID := req.ListingFilters[model.FilterShopID]

	for item, err := range s.reader.fetcher.Items(ctx, sess, categoryFilter(req), req.ListingFilters.NeedsStock()) {
		if err != nil {
			return Gallery{}, err
		}
		vendor := vendors[item.VendorID]
		if req.ListingFilters.MatchItem(item, vendor) {
			g.Rows = append(g.Rows, NewRow(item, vendor, title, shopID))
		}
	}

	slog.Info("gallery loaded", "connection", req.ConnectionID, "category", title, "items", len(g.Rows))
	return g, nil
}
