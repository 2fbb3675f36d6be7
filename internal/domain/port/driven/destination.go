package driven

import "context"

// Destination field types.
const (
	FieldText        = "singleLineText"
	FieldNumber      = "number"
	FieldAttachments = "multipleAttachments"
	FieldLongText    = "multilineText"
)

// FieldSpec is one column of a destination table.
type FieldSpec struct {
	Name string
	Type string
}

// TableSpec describes a table to create in a destination base.
type TableSpec struct {
	APIKey      string
	BaseID      string
	Name        string
	Description string
	Fields      []FieldSpec
}

// Record maps field names to destination values.
type Record map[string]any

// RecordBatch is one write request. Its size never exceeds
// Destination.MaxBatchSize.
type RecordBatch struct {
	APIKey  string
	BaseID  string
	TableID string
	Records []Record
}

// Destination defines the driven port for the spreadsheet-style store. One
// call is one HTTP request; non-2xx responses are returned as *StatusError.
type Destination interface {
	CreateTable(ctx context.Context, spec TableSpec) (tableID string, err error)
	CreateRecords(ctx context.Context, batch RecordBatch) error
	MaxBatchSize() int
	TableURL(baseID, tableID string) string
}
