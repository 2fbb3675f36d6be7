package model

// CatalogItem is one upstream catalog record, flattened to the values the
// export and gallery need. Money and measurements keep the upstream string
// form; conversion happens when a destination row is built.
type CatalogItem struct {
	ItemID          string
	Description     string
	DefaultCost     string
	DefaultPrice    string
	MSRP            string
	VendorID        string
	CategoryID      string
	SystemSKU       string
	CustomSKU       string
	UPC             string
	EAN             string
	ManufacturerSKU string
	Note            string
	ImageURLs       []string
	Stock           []ShopStock
}

// ShopStock is the quantity on hand of an item at one shop. Shop "0" is the
// upstream's all-shops summary.
type ShopStock struct {
	ShopID string
	QOH    int
}

// QuantityOnHand returns the quantity for shopID, falling back to the summary
// record when shopID is empty. ok is false when no matching record exists.
func (i CatalogItem) QuantityOnHand(shopID string) (qoh int, ok bool) {
	want := shopID
	if want == "" {
		want = "0"
	}
	for _, s := range i.Stock {
		if s.ShopID == want {
			return s.QOH, true
		}
	}
	if shopID == "" && len(i.Stock) > 0 {
		total := 0
		for _, s := range i.Stock {
			total += s.QOH
		}
		return total, true
	}
	return 0, false
}

// Vendor is an upstream supplier record.
type Vendor struct {
	ID   string
	Name string
}

// Category is an upstream category record. FullPath is slash-separated.
type Category struct {
	ID       string
	Name     string
	FullPath string
}

// DisplayName returns the full path when known, else the name.
func (c Category) DisplayName() string {
	if c.FullPath != "" {
		return c.FullPath
	}
	return c.Name
}
