package lightspeed

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

// The API returns a single record as an object and several as an array, and
// encodes numbers as strings. These wrappers absorb both quirks.

type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0:
		*o = nil
	case b[0] == '[':
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
	case b[0] == '{':
		var one T
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*o = oneOrMany[T]{one}
	default:
		// null, "" or any scalar stands for "no records".
		*o = nil
	}
	return nil
}

// relation decodes an object-valued relation and ignores the empty-string
// placeholder sent when the relation has no rows.
type relation[T any] struct {
	v T
}

func (r *relation[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	return json.Unmarshal(b, &r.v)
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return string(f) }

type attributes struct {
	Next  string     `json:"next"`
	Count flexString `json:"count"`
}

func (a attributes) total() int {
	n, err := strconv.Atoi(a.Count.String())
	if err != nil {
		return -1
	}
	return n
}

type itemsEnvelope struct {
	Attributes attributes          `json:"@attributes"`
	Item       oneOrMany[itemJSON] `json:"Item"`
}

type vendorsEnvelope struct {
	Attributes attributes            `json:"@attributes"`
	Vendor     oneOrMany[vendorJSON] `json:"Vendor"`
}

type categoriesEnvelope struct {
	Attributes attributes              `json:"@attributes"`
	Category   oneOrMany[categoryJSON] `json:"Category"`
}

type itemJSON struct {
	ItemID          flexString `json:"itemID"`
	Description     string     `json:"description"`
	DefaultCost     flexString `json:"defaultCost"`
	DefaultVendorID flexString `json:"defaultVendorID"`
	CategoryID      flexString `json:"categoryID"`
	SystemSku       flexString `json:"systemSku"`
	CustomSku       flexString `json:"customSku"`
	UPC             flexString `json:"upc"`
	EAN             flexString `json:"ean"`
	ManufacturerSku flexString `json:"manufacturerSku"`

	Prices relation[struct {
		ItemPrice oneOrMany[priceJSON] `json:"ItemPrice"`
	}] `json:"Prices"`
	Images relation[struct {
		Image oneOrMany[imageJSON] `json:"Image"`
	}] `json:"Images"`
	ItemShops relation[struct {
		ItemShop oneOrMany[itemShopJSON] `json:"ItemShop"`
	}] `json:"ItemShops"`
	Note relation[noteJSON] `json:"Note"`
}

type priceJSON struct {
	Amount  flexString `json:"amount"`
	UseType string     `json:"useType"`
}

type imageJSON struct {
	BaseImageURL string `json:"baseImageURL"`
	PublicID     string `json:"publicID"`
}

type itemShopJSON struct {
	ShopID flexString `json:"shopID"`
	QOH    flexString `json:"qoh"`
}

// noteJSON covers both the flat {"note": "..."} form and the nested list form.
type noteJSON struct {
	Note  flexString          `json:"note"`
	Notes oneOrMany[noteJSON] `json:"Note"`
}

func (n noteJSON) text() string {
	if s := n.Note.String(); s != "" {
		return s
	}
	for _, inner := range n.Notes {
		if s := inner.text(); s != "" {
			return s
		}
	}
	return ""
}

type vendorJSON struct {
	VendorID flexString `json:"vendorID"`
	Name     string     `json:"name"`
}

type categoryJSON struct {
	CategoryID   flexString `json:"categoryID"`
	Name         string     `json:"name"`
	FullPathName string     `json:"fullPathName"`
}

func (it itemJSON) toModel() model.CatalogItem {
	item := model.CatalogItem{
		ItemID:          it.ItemID.String(),
		Description:     strings.TrimSpace(it.Description),
		DefaultCost:     it.DefaultCost.String(),
		VendorID:        zeroAsEmpty(it.DefaultVendorID.String()),
		CategoryID:      zeroAsEmpty(it.CategoryID.String()),
		SystemSKU:       it.SystemSku.String(),
		CustomSKU:       it.CustomSku.String(),
		UPC:             it.UPC.String(),
		EAN:             it.EAN.String(),
		ManufacturerSKU: it.ManufacturerSku.String(),
		Note:            it.Note.v.text(),
	}

	prices := it.Prices.v.ItemPrice
	for _, p := range prices {
		switch strings.TrimSpace(p.UseType) {
		case "Default":
			item.DefaultPrice = p.Amount.String()
		case "MSRP":
			item.MSRP = p.Amount.String()
		}
	}
	if item.DefaultPrice == "" && len(prices) > 0 {
		item.DefaultPrice = prices[0].Amount.String()
	}

	for _, img := range it.Images.v.Image {
		base := strings.TrimSpace(img.BaseImageURL)
		pid := strings.TrimSpace(img.PublicID)
		if base == "" || pid == "" {
			continue
		}
		item.ImageURLs = append(item.ImageURLs, strings.TrimRight(base, "/")+"/"+pid)
	}

	for _, s := range it.ItemShops.v.ItemShop {
		qoh, err := strconv.ParseFloat(s.QOH.String(), 64)
		if err != nil {
			continue
		}
		item.Stock = append(item.Stock, model.ShopStock{ShopID: s.ShopID.String(), QOH: int(qoh)})
	}

	return item
}

// zeroAsEmpty maps the API's "0" placeholder for unset references to "".
func zeroAsEmpty(s string) string {
	if s == "0" {
		return ""
	}
	return s
}
