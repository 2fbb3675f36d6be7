package application

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

// Message actions accepted from the in-page client.
const (
	ActionSaveConnectionKey = "saveConnectionKey"
	ActionOpenGallery       = "openGallery"
	ActionRunExport         = "runExport"
)

// Message is one request from the in-page client. The set is closed: only
// the types in this file implement it.
type Message interface {
	Action() string
	isMessage()
}

// SaveConnectionKey asks the server to confirm a connection key before the
// client stores it.
type SaveConnectionKey struct {
	Key string
}

// OpenGallery asks for a signed gallery link.
type OpenGallery struct {
	Key            string
	CategoryID     string
	ListingFilters model.ListingFilters
}

// RunExport starts an export and waits for its result.
type RunExport struct {
	ConnectionID   string
	CategoryID     string
	ListingFilters model.ListingFilters
}

func (SaveConnectionKey) Action() string { return ActionSaveConnectionKey }
func (OpenGallery) Action() string       { return ActionOpenGallery }
func (RunExport) Action() string         { return ActionRunExport }

func (SaveConnectionKey) isMessage() {}
func (OpenGallery) isMessage()       {}
func (RunExport) isMessage()         {}

type wireMessage struct {
	Action         string          `json:"action"`
	Key            string          `json:"key"`
	ConnectionID   string          `json:"connection_id"`
	CategoryID     string          `json:"category_id"`
	ListingFilters json.RawMessage `json:"listing_filters"`
}

// DecodeMessage parses a client message. Unknown actions yield
// *model.UnknownActionError whatever else the message carries.
// listing_filters may be an object or a string holding one; it is only read
// by the actions that use it.
func DecodeMessage(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch w.Action {
	case ActionSaveConnectionKey:
		return SaveConnectionKey{Key: strings.TrimSpace(w.Key)}, nil
	case ActionOpenGallery:
		filters, err := DecodeListingFilters(w.ListingFilters)
		if err != nil {
			return nil, err
		}
		key := w.Key
		if key == "" {
			key = w.ConnectionID
		}
		return OpenGallery{Key: strings.TrimSpace(key), CategoryID: w.CategoryID, ListingFilters: filters}, nil
	case ActionRunExport:
		filters, err := DecodeListingFilters(w.ListingFilters)
		if err != nil {
			return nil, err
		}
		id := w.ConnectionID
		if id == "" {
			id = w.Key
		}
		return RunExport{ConnectionID: strings.TrimSpace(id), CategoryID: w.CategoryID, ListingFilters: filters}, nil
	default:
		return nil, &model.UnknownActionError{Action: w.Action}
	}
}

// DecodeListingFilters accepts listing_filters as a JSON object, a string
// holding one, or nothing.
func DecodeListingFilters(raw json.RawMessage) (model.ListingFilters, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.ListingFilters{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrInvalidListingFilters, err)
		}
		return model.ParseListingFilters(s)
	}
	return model.ParseListingFilters(string(raw))
}

// Reply is the response to a Message.
type Reply struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	GalleryURL   string `json:"gallery_url,omitempty"`
	AirtableURL  string `json:"airtable_url,omitempty"`
	Written      int    `json:"written,omitempty"`
	Output       string `json:"output,omitempty"`
}

// FailureReply builds the reply for err.
func FailureReply(err error) Reply {
	return Reply{OK: false, Error: TrimErrorText(err.Error()), ErrorKind: string(model.KindOf(err))}
}

// Dispatcher answers client messages. Each message is handled on its own
// goroutine; the caller waits for the result or for its context to end,
// whichever comes first.
type Dispatcher struct {
	connect   *ConnectService
	exports   *ExportService
	signer    *ShareSigner
	publicURL string
}

// NewDispatcher creates a Dispatcher. publicURL prefixes gallery links.
func NewDispatcher(connect *ConnectService, exports *ExportService, signer *ShareSigner, publicURL string) *Dispatcher {
	return &Dispatcher{
		connect:   connect,
		exports:   exports,
		signer:    signer,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Dispatch handles msg and blocks until it completes or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Reply {
	if err := ctx.Err(); err != nil {
		return FailureReply(err)
	}

	done := make(chan Reply, 1)
	go func() {
		done <- d.handle(ctx, msg)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		slog.Warn("message abandoned", "action", msg.Action(), "error", ctx.Err())
		return FailureReply(ctx.Err())
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg Message) Reply {
	switch m := msg.(type) {
	case SaveConnectionKey:
		conn, err := d.connect.Connection(ctx, m.Key)
		if err != nil {
			return FailureReply(err)
		}
		return Reply{OK: true, ConnectionID: conn.ID}

	case OpenGallery:
		if _, err := d.connect.Connection(ctx, m.Key); err != nil {
			return FailureReply(err)
		}
		token, err := d.signer.Sign(model.ExportRequest{
			ConnectionID:   m.Key,
			CategoryID:     m.CategoryID,
			ListingFilters: m.ListingFilters,
		})
		if err != nil {
			return FailureReply(err)
		}
		return Reply{OK: true, ConnectionID: m.Key, GalleryURL: d.publicURL + "/gallery/s/" + token}

	case RunExport:
		res, err := d.exports.Run(ctx, model.ExportRequest{
			ConnectionID:   m.ConnectionID,
			CategoryID:     m.CategoryID,
			ListingFilters: m.ListingFilters,
		})
		if err != nil {
			r := FailureReply(err)
			r.Written = res.Written
			r.Output = res.Output
			return r
		}
		return Reply{OK: true, ConnectionID: m.ConnectionID, AirtableURL: res.DestinationURL, Written: res.Written, Output: res.Output}

	default:
		return FailureReply(&model.UnknownActionError{Action: msg.Action()})
	}
}
