package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shelfsync/internal/application"
	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want application.Message
	}{
		{
			name: "save connection key",
			raw:  `{"action":"saveConnectionKey","key":" c1 "}`,
			want: application.SaveConnectionKey{Key: "c1"},
		},
		{
			name: "open gallery with object filters",
			raw:  `{"action":"openGallery","key":"c1","category_id":"639","listing_filters":{"vendor":"Acme","qoh_positive":true}}`,
			want: application.OpenGallery{Key: "c1", CategoryID: "639", ListingFilters: model.ListingFilters{"vendor": "Acme", "qoh_positive": "on"}},
		},
		{
			name: "run export with string filters",
			raw:  `{"action":"runExport","connection_id":"c1","category_id":"ALL","listing_filters":"{\"shop_id\":1}"}`,
			want: application.RunExport{ConnectionID: "c1", CategoryID: "ALL", ListingFilters: model.ListingFilters{"shop_id": "1"}},
		},
		{
			name: "run export keyed by key",
			raw:  `{"action":"runExport","key":"c1","category_id":"639"}`,
			want: application.RunExport{ConnectionID: "c1", CategoryID: "639", ListingFilters: model.ListingFilters{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := application.DecodeMessage([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeMessage_UnknownAction(t *testing.T) {
	_, err := application.DecodeMessage([]byte(`{"action":"deleteEverything"}`))
	require.Error(t, err)

	var unknown *model.UnknownActionError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "deleteEverything", unknown.Action)
	assert.Equal(t, model.KindUnknownAction, model.KindOf(err))
}

func TestDecodeMessage_UnknownActionIgnoresMalformedFilters(t *testing.T) {
	_, err := application.DecodeMessage([]byte(`{"action":"deleteEverything","listing_filters":[1,2]}`))

	var unknown *model.UnknownActionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "deleteEverything", unknown.Action)
}

func TestDecodeMessage_SaveKeyIgnoresFilters(t *testing.T) {
	got, err := application.DecodeMessage([]byte(`{"action":"saveConnectionKey","key":"c1","listing_filters":"{broken"}`))
	require.NoError(t, err)
	assert.Equal(t, application.SaveConnectionKey{Key: "c1"}, got)
}

func TestDecodeMessage_Malformed(t *testing.T) {
	_, err := application.DecodeMessage([]byte(`{"action":`))
	require.Error(t, err)

	_, err = application.DecodeMessage([]byte(`{"action":"runExport","listing_filters":[1,2]}`))
	require.Error(t, err)

	_, err = application.DecodeMessage([]byte(`{"action":"openGallery","key":"c1","listing_filters":[1,2]}`))
	require.Error(t, err)
}

func newTestDispatcher(t *testing.T) (*application.Dispatcher, *application.ShareSigner, exportFixture) {
	t.Helper()
	f := newExportFixture(t, freshConnection("c1"), shoesFixture())
	vault, _ := newTestVault(f.conns)
	connect := application.NewConnectService(f.auth, f.conns, vault, 0)
	signer := application.NewShareSigner([]byte("share-secret"), time.Hour)
	return application.NewDispatcher(connect, f.svc, signer, "https://shelfsync.example.com/"), signer, f
}

func TestDispatch_SaveConnectionKey(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	r := d.Dispatch(ctx, application.SaveConnectionKey{Key: "c1"})
	assert.True(t, r.OK)
	assert.Equal(t, "c1", r.ConnectionID)

	r = d.Dispatch(ctx, application.SaveConnectionKey{Key: "nope"})
	assert.False(t, r.OK)
	assert.Equal(t, string(model.KindConnectionNotFound), r.ErrorKind)
}

func TestDispatch_OpenGalleryReturnsSignedLink(t *testing.T) {
	d, signer, _ := newTestDispatcher(t)

	r := d.Dispatch(context.Background(), application.OpenGallery{
		Key:            "c1",
		CategoryID:     "639",
		ListingFilters: model.ListingFilters{"vendor": "Acme"},
	})
	require.True(t, r.OK, r.Error)

	prefix := "https://shelfsync.example.com/gallery/s/"
	require.True(t, strings.HasPrefix(r.GalleryURL, prefix), r.GalleryURL)

	req, err := signer.Verify(strings.TrimPrefix(r.GalleryURL, prefix))
	require.NoError(t, err)
	assert.Equal(t, "c1", req.ConnectionID)
	assert.Equal(t, "639", req.CategoryID)
	assert.Equal(t, "Acme", req.ListingFilters["vendor"])
}

func TestDispatch_RunExport(t *testing.T) {
	d, _, f := newTestDispatcher(t)

	r := d.Dispatch(context.Background(), application.RunExport{ConnectionID: "c1", CategoryID: "639"})
	require.True(t, r.OK, r.Error)
	assert.Equal(t, 37, r.Written)
	assert.Equal(t, "https://airtable.com/appBase1234567890/tbl1", r.AirtableURL)
	assert.Len(t, f.dest.tables, 1)
}

func TestDispatch_RunExportFailureIsNotSuccess(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	r := d.Dispatch(context.Background(), application.RunExport{CategoryID: "639"})
	assert.False(t, r.OK)
	assert.Equal(t, string(model.KindMissingConnectionID), r.ErrorKind)
	assert.NotEmpty(t, r.Error)
}

func TestDispatch_CanceledContext(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := d.Dispatch(ctx, application.RunExport{ConnectionID: "c1", CategoryID: "639"})
	assert.False(t, r.OK)
	assert.Equal(t, string(model.KindCanceled), r.ErrorKind)
}
