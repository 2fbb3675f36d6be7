package web

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	vm "github.com/ericfisherdev/shelfsync/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/shelfsync/internal/application"
	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

const galleryTimeLayout = "Jan 2, 2006 3:04 PM MST"

// toCardViewModel converts a resolved row into a gallery card. The first
// image is shown; the rest are counted.
func toCardViewModel(row application.Row) vm.CardViewModel {
	card := vm.CardViewModel{
		Name:     row.Name,
		SKU:      row.SKU(),
		Vendor:   row.VendorName,
		Price:    formatPrice(row.Price),
		NoteHTML: RenderMarkdown(row.Note),
	}
	if card.Name == "" {
		card.Name = "Item " + row.ItemID
	}
	if row.HasQOH {
		card.QOH = strconv.Itoa(row.QOH)
	}
	if len(row.Images) > 0 {
		card.ImageURL = row.Images[0]
		card.ExtraImages = len(row.Images) - 1
	}
	return card
}

// toGalleryViewModel converts a loaded gallery. Share and spreadsheet links
// are filled in by the caller.
func toGalleryViewModel(g application.Gallery) vm.GalleryViewModel {
	cards := make([]vm.CardViewModel, 0, len(g.Rows))
	for _, row := range g.Rows {
		cards = append(cards, toCardViewModel(row))
	}

	subtitle := fmt.Sprintf("%d items", len(cards))
	if len(cards) == 1 {
		subtitle = "1 item"
	}
	if f := describeFilters(g.Request.ListingFilters); f != "" {
		subtitle += " · " + f
	}

	return vm.GalleryViewModel{
		Title:       g.Title,
		Subtitle:    subtitle,
		GeneratedAt: g.GeneratedAt.Format(galleryTimeLayout),
		Cards:       cards,
	}
}

// describeFilters renders filters as "key: value" pairs in key order.
func describeFilters(f model.ListingFilters) string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := f[k]; v != "" {
			parts = append(parts, k+": "+v)
		} else {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, ", ")
}

func formatPrice(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		return v
	}
	return fmt.Sprintf("$%.2f", f)
}

func toSharedKeyOptions(keys []model.SharedKeySummary) []vm.SharedKeyOption {
	opts := make([]vm.SharedKeyOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, vm.SharedKeyOption{ID: k.ID, Label: k.Label})
	}
	return opts
}

// toSettingsViewModel lists every export column. chosen overrides the stored
// selection when a rejected form is shown again.
func toSettingsViewModel(conn model.Connection, chosen []string) vm.SettingsViewModel {
	selected := chosen
	if selected == nil {
		for _, f := range application.SelectFields(conn.Fields) {
			selected = append(selected, f.Name)
		}
	}

	all := application.TableFields()
	fields := make([]vm.FieldOption, 0, len(all))
	for i, f := range all {
		fields = append(fields, vm.FieldOption{
			Name:     f.Name,
			Selected: i == 0 || slices.Contains(selected, f.Name),
			Required: i == 0,
		})
	}
	return vm.SettingsViewModel{
		ConnectionKey: conn.ID,
		HasOwnKey:     conn.DestinationAPIKey != "",
		Fields:        fields,
	}
}
