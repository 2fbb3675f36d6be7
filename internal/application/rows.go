package application

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Destination column names. System SKU comes first and becomes the primary
// field of every created table.
const (
	colSystemSKU       = "System SKU"
	colName            = "Name"
	colCost            = "Cost"
	colPrice           = "Price"
	colMSRP            = "MSRP"
	colVendorName      = "Vendor Name"
	colVendorID        = "Vendor ID"
	colCustomSKU       = "Custom SKU"
	colUPC             = "UPC"
	colEAN             = "EAN"
	colManufacturerSKU = "Manufacturer SKU"
	colItemID          = "Item ID"
	colCategory        = "Category"
	colQOH             = "Quantity On Hand"
	colImages          = "Images"
)

// TableFields is the fixed schema of every export table.
func TableFields() []driven.FieldSpec {
	return []driven.FieldSpec{
		{Name: colSystemSKU, Type: driven.FieldText},
		{Name: colName, Type: driven.FieldText},
		{Name: colCost, Type: driven.FieldNumber},
		{Name: colPrice, Type: driven.FieldNumber},
		{Name: colMSRP, Type: driven.FieldNumber},
		{Name: colVendorName, Type: driven.FieldText},
		{Name: colVendorID, Type: driven.FieldText},
		{Name: colCustomSKU, Type: driven.FieldText},
		{Name: colUPC, Type: driven.FieldText},
		{Name: colEAN, Type: driven.FieldText},
		{Name: colManufacturerSKU, Type: driven.FieldText},
		{Name: colItemID, Type: driven.FieldText},
		{Name: colCategory, Type: driven.FieldText},
		{Name: colQOH, Type: driven.FieldNumber},
		{Name: colImages, Type: driven.FieldAttachments},
	}
}

// SelectFields returns the schema columns named in selected, in schema
// order. System SKU is always included as the primary field. An empty
// selection means every column; unknown names are skipped.
func SelectFields(selected []string) []driven.FieldSpec {
	all := TableFields()
	if len(selected) == 0 {
		return all
	}
	out := make([]driven.FieldSpec, 0, len(selected)+1)
	for _, f := range all {
		if f.Name == colSystemSKU || slices.Contains(selected, f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// NormalizeFieldSelection validates a tenant's column choice against the
// schema and returns it in schema order with System SKU first. Choosing
// every column yields nil, which stores as "all columns".
func NormalizeFieldSelection(names []string) ([]string, error) {
	known := TableFields()
	chosen := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !slices.ContainsFunc(known, func(f driven.FieldSpec) bool { return f.Name == n }) {
			return nil, fmt.Errorf("%w: unknown column %q", model.ErrInvalidFieldSelection, n)
		}
		chosen = append(chosen, n)
	}
	if len(chosen) == 0 {
		return nil, fmt.Errorf("%w: select at least one field", model.ErrInvalidFieldSelection)
	}

	fields := SelectFields(chosen)
	if len(fields) == len(known) {
		return nil, nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Name)
	}
	return out, nil
}

// Row is a catalog item resolved against its lookups. Export and gallery
// both build their output from Rows.
type Row struct {
	ItemID          string
	Name            string
	Cost            string
	Price           string
	MSRP            string
	VendorID        string
	VendorName      string
	SystemSKU       string
	CustomSKU       string
	UPC             string
	EAN             string
	ManufacturerSKU string
	Category        string
	Note            string
	Images          []string
	QOH             int
	HasQOH          bool
}

// NewRow resolves item against the vendor name and category title. shopID
// selects the stock record reported as quantity on hand.
func NewRow(item model.CatalogItem, vendorName, category, shopID string) Row {
	r := Row{
		ItemID:          item.ItemID,
		Name:            item.Description,
		Cost:            item.DefaultCost,
		Price:           item.DefaultPrice,
		MSRP:            item.MSRP,
		VendorID:        item.VendorID,
		VendorName:      vendorName,
		SystemSKU:       item.SystemSKU,
		CustomSKU:       item.CustomSKU,
		UPC:             item.UPC,
		EAN:             item.EAN,
		ManufacturerSKU: item.ManufacturerSKU,
		Category:        category,
		Note:            item.Note,
		Images:          item.ImageURLs,
	}
	r.QOH, r.HasQOH = item.QuantityOnHand(shopID)
	return r
}

// SKU is the most specific identifier the row carries.
func (r Row) SKU() string {
	for _, s := range []string{r.CustomSKU, r.SystemSKU, r.ManufacturerSKU, r.UPC} {
		if s != "" {
			return s
		}
	}
	return r.ItemID
}

// Record maps the row onto destination columns. Empty values are omitted so
// the destination keeps its blank cells; numbers are sent as numbers.
func (r Row) Record() driven.Record {
	rec := driven.Record{}
	text := func(col, v string) {
		if v = strings.TrimSpace(v); v != "" {
			rec[col] = v
		}
	}
	number := func(col, v string) {
		if f, ok := parseNumber(v); ok {
			rec[col] = f
		}
	}

	text(colSystemSKU, r.SystemSKU)
	text(colName, r.Name)
	number(colCost, r.Cost)
	number(colPrice, r.Price)
	number(colMSRP, r.MSRP)
	text(colVendorName, r.VendorName)
	text(colVendorID, r.VendorID)
	text(colCustomSKU, r.CustomSKU)
	text(colUPC, r.UPC)
	text(colEAN, r.EAN)
	text(colManufacturerSKU, r.ManufacturerSKU)
	text(colItemID, r.ItemID)
	text(colCategory, r.Category)
	if r.HasQOH {
		rec[colQOH] = r.QOH
	}
	if len(r.Images) > 0 {
		atts := make([]map[string]string, 0, len(r.Images))
		for _, u := range r.Images {
			atts = append(atts, map[string]string{"url": u})
		}
		rec[colImages] = atts
	}
	return rec
}

// RecordFor is Record restricted to the given columns.
func (r Row) RecordFor(fields []driven.FieldSpec) driven.Record {
	rec := r.Record()
	if len(fields) == len(TableFields()) {
		return rec
	}
	for col := range rec {
		if !slices.ContainsFunc(fields, func(f driven.FieldSpec) bool { return f.Name == col }) {
			delete(rec, col)
		}
	}
	return rec
}

func parseNumber(v string) (float64, bool) {
	v = strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
