// Package viewmodel defines presentation-ready structs for templ components.
// View models decouple template rendering from domain model types.
package viewmodel

// SharedKeyOption is one entry of the shared key picker.
type SharedKeyOption struct {
	ID    string
	Label string
}

// ConnectFormViewModel holds the connect form state, including values to
// refill after a validation error.
type ConnectFormViewModel struct {
	CSRFToken  string
	Error      string
	SharedKeys []SharedKeyOption

	AccountID        string
	DestinationRef   string
	DestinationTable string
	SharedKeyID      string
	NewSharedKeyName string
}

// PasteViewModel holds the pasted-redirect form state.
type PasteViewModel struct {
	CSRFToken string
	Error     string
}

// SuccessViewModel is shown once a connection exists.
type SuccessViewModel struct {
	ConnectionKey string
	GalleryPath   string
	SettingsPath  string
}

// FieldOption is one export column on the settings form. Required columns
// are always exported and cannot be unticked.
type FieldOption struct {
	Name     string
	Selected bool
	Required bool
}

// SettingsViewModel holds the export settings form state. The current key
// is never shown; HasOwnKey only reports whether one is stored.
type SettingsViewModel struct {
	CSRFToken     string
	Error         string
	Saved         bool
	ConnectionKey string
	HasOwnKey     bool
	Fields        []FieldOption
}

// SharedKeyFormViewModel holds the shared key creation form state.
type SharedKeyFormViewModel struct {
	CSRFToken string
	Error     string
	Saved     bool
	Label     string
}

// CardViewModel is one item of a gallery.
type CardViewModel struct {
	Name        string
	SKU         string
	Vendor      string
	Price       string
	QOH         string
	ImageURL    string
	ExtraImages int
	NoteHTML    string
}

// GalleryViewModel holds a rendered gallery.
type GalleryViewModel struct {
	Title          string
	Subtitle       string
	GeneratedAt    string
	Cards          []CardViewModel
	ShareURL       string
	SpreadsheetURL string
}

// ErrorViewModel is a full-page error.
type ErrorViewModel struct {
	Title   string
	Message string
}
