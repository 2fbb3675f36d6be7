package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Listing filter keys understood by MatchItem. Unknown keys are ignored.
const (
	FilterVendor      = "vendor"
	FilterQOHPositive = "qoh_positive"
	FilterQOHZero     = "qoh_zero"
	FilterShopID      = "shop_id"
	FilterName        = "name"
)

// ListingFilters are key/value predicates applied to every catalog record.
type ListingFilters map[string]string

// ParseListingFilters decodes the JSON object form used on every boundary.
// Non-string values are converted with their JSON text, so {"shop_id": 1}
// and {"shop_id": "1"} are equivalent. An empty input yields no filters.
func ParseListingFilters(raw string) (ListingFilters, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ListingFilters{}, nil
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidListingFilters, err)
	}
	return ListingFiltersFromMap(generic), nil
}

// ListingFiltersFromMap normalizes an already-decoded JSON object.
func ListingFiltersFromMap(m map[string]any) ListingFilters {
	out := make(ListingFilters, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case nil:
			continue
		case string:
			out[k] = tv
		case bool:
			if tv {
				out[k] = "on"
			} else {
				out[k] = "off"
			}
		default:
			b, err := json.Marshal(tv)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// WithPositiveStockOnly applies the "in stock only" shortcut: positive
// quantities kept, zero quantities dropped. An explicit shop narrows the check.
func (f ListingFilters) WithPositiveStockOnly(shopID string) ListingFilters {
	out := make(ListingFilters, len(f)+3)
	for k, v := range f {
		out[k] = v
	}
	out[FilterQOHPositive] = "on"
	out[FilterQOHZero] = "off"
	if shopID != "" && shopID != "-1" {
		out[FilterShopID] = shopID
	}
	return out
}

// NeedsStock reports whether any predicate reads quantity on hand.
func (f ListingFilters) NeedsStock() bool {
	_, pos := f[FilterQOHPositive]
	_, zero := f[FilterQOHZero]
	return pos || zero
}

// MatchItem reports whether item with the resolved vendorName satisfies
// every recognized predicate.
func (f ListingFilters) MatchItem(item CatalogItem, vendorName string) bool {
	if want, ok := f[FilterVendor]; ok && want != "" && vendorName != want {
		return false
	}
	if want, ok := f[FilterName]; ok && want != "" &&
		!strings.Contains(strings.ToLower(item.Description), strings.ToLower(want)) {
		return false
	}
	if f.NeedsStock() {
		qoh, _ := item.QuantityOnHand(f[FilterShopID])
		if qoh > 0 && isOff(f[FilterQOHPositive]) {
			return false
		}
		if qoh <= 0 && isOff(f[FilterQOHZero]) {
			return false
		}
	}
	return true
}

func isOff(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "off", "false", "0", "no":
		return true
	}
	return false
}

// ExportRequest is one export or gallery invocation. It is never persisted.
type ExportRequest struct {
	ConnectionID   string
	CategoryID     string
	ListingFilters ListingFilters
}

// AllCategories reports whether the request spans the whole catalog.
func (r ExportRequest) AllCategories() bool {
	c := strings.TrimSpace(r.CategoryID)
	return c == "" || strings.EqualFold(c, AllCategories)
}

// ParseDestinationRef extracts a destination base id from a full base URL
// (https://airtable.com/appXXXX/tblYYYY/...) or a bare base id.
func ParseDestinationRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDestinationRef)
	}
	if isBaseID(ref) {
		return ref, nil
	}
	if strings.Contains(ref, "airtable.com") {
		raw := ref
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		if u, err := url.Parse(raw); err == nil {
			for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
				if strings.HasPrefix(seg, "app") && len(seg) >= 14 {
					return seg, nil
				}
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDestinationRef, ref)
}

func isBaseID(s string) bool {
	if !strings.HasPrefix(s, "app") || len(s) < 14 {
		return false
	}
	for _, r := range s[3:] {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}
