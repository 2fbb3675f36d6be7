package application_test

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shelfsync/internal/application"
	"github.com/ericfisherdev/shelfsync/internal/domain/model"
)

type connectFixture struct {
	svc   *application.ConnectService
	auth  *fakeAuth
	conns *memConnStore
	vault *application.VaultService
	keys  *memKeyStore
}

func newConnectFixture() connectFixture {
	conns := newMemConnStore()
	vault, keys := newTestVault(conns)
	auth := &fakeAuth{}
	return connectFixture{
		svc:   application.NewConnectService(auth, conns, vault, 0),
		auth:  auth,
		conns: conns,
		vault: vault,
		keys:  keys,
	}
}

func validMeta() model.TenantMeta {
	return model.TenantMeta{
		AccountID:         " 42 ",
		DestinationBaseID: "https://airtable.com/appBase1234567890/tblX/viwY",
		DestinationAPIKey: "pat-own",
	}
}

func TestBeginAuthorization_RegistersFlow(t *testing.T) {
	f := newConnectFixture()

	start, err := f.svc.BeginAuthorization(context.Background(), validMeta())
	require.NoError(t, err)
	require.NotEmpty(t, start.State)

	u, err := url.Parse(start.URL)
	require.NoError(t, err)
	assert.Equal(t, start.State, u.Query().Get("state"))

	phase, ok := f.svc.FlowPhase(start.State)
	require.True(t, ok)
	assert.Equal(t, model.FlowAwaitingAuthorizationCode, phase)
}

func TestBeginAuthorization_RejectsInvalidInput(t *testing.T) {
	f := newConnectFixture()
	ctx := context.Background()

	meta := validMeta()
	meta.DestinationBaseID = "https://example.com/not-a-base"
	_, err := f.svc.BeginAuthorization(ctx, meta)
	require.ErrorIs(t, err, model.ErrInvalidDestinationRef)

	meta = validMeta()
	meta.AccountID = ""
	_, err = f.svc.BeginAuthorization(ctx, meta)
	require.ErrorIs(t, err, model.ErrInvalidTenantInfo)
}

func TestBeginAuthorization_VerifiesSharedKeyUpFront(t *testing.T) {
	f := newConnectFixture()
	ctx := context.Background()

	keyID, err := f.vault.Create(ctx, "Team", "hunter2", "pat-shared")
	require.NoError(t, err)

	meta := validMeta()
	meta.DestinationAPIKey = ""
	meta.SharedKeyID = keyID
	meta.SharedKeyPassword = "wrong"

	_, err = f.svc.BeginAuthorization(ctx, meta)
	require.ErrorIs(t, err, model.ErrUnlockFailed)
}

func TestCompleteAuthorization_CreatesConnection(t *testing.T) {
	f := newConnectFixture()
	ctx := context.Background()

	start, err := f.svc.BeginAuthorization(ctx, validMeta())
	require.NoError(t, err)

	id, err := f.svc.CompleteAuthorization(ctx, start.State, "code-1")
	require.NoError(t, err)

	conn := f.conns.get(id)
	assert.Equal(t, "42", conn.AccountID)
	assert.Equal(t, "appBase1234567890", conn.DestinationBaseID)
	assert.Equal(t, "at-code-1", conn.Tokens.AccessToken)
	assert.Equal(t, "rt-code-1", conn.Tokens.RefreshToken)

	_, ok := f.svc.FlowPhase(start.State)
	assert.False(t, ok, "completed flows are forgotten")

	_, err = f.svc.CompleteAuthorization(ctx, start.State, "code-1")
	require.ErrorIs(t, err, model.ErrAuthFlowNotFound, "a state is single-use")
}

func TestCompleteAuthorization_UnlocksPendingSharedKey(t *testing.T) {
	f := newConnectFixture()
	ctx := context.Background()

	keyID, err := f.vault.Create(ctx, "Team", "hunter2", "pat-shared")
	require.NoError(t, err)

	meta := validMeta()
	meta.DestinationAPIKey = ""
	meta.SharedKeyID = keyID
	meta.SharedKeyPassword = "hunter2"

	start, err := f.svc.BeginAuthorization(ctx, meta)
	require.NoError(t, err)
	id, err := f.svc.CompleteAuthorization(ctx, start.State, "code-1")
	require.NoError(t, err)

	assert.Equal(t, keyID, f.conns.get(id).SharedKeyID)
}

func TestCompleteAuthorization_PublishesOwnKey(t *testing.T) {
	f := newConnectFixture()
	ctx := context.Background()

	meta := validMeta()
	meta.NewSharedKeyLabel = "Store team"
	meta.NewSharedKeyPassword = "s3cret"

	start, err := f.svc.BeginAuthorization(ctx, meta)
	require.NoError(t, err)
	id, err := f.svc.CompleteAuthorization(ctx, start.State, "code-1")
	require.NoError(t, err)

	keys, err := f.vault.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "Store team", keys[0].Label)
	assert.Equal(t, keys[0].ID, f.conns.get(id).SharedKeyID)
	require.NoError(t, f.vault.Verify(ctx, keys[0].ID, "s3cret"))
}

func TestCompleteAuthorization_ExchangeFailureDiscardsFlow(t *testing.T) {
	f := newConnectFixture()
	f.auth.exchange = func(string) (model.TokenPair, error) {
		return model.TokenPair{}, fmt.Errorf("%w: invalid_grant", model.ErrTokenExchange)
	}
	ctx := context.Background()

	start, err := f.svc.BeginAuthorization(ctx, validMeta())
	require.NoError(t, err)

	_, err = f.svc.CompleteAuthorization(ctx, start.State, "bad")
	require.ErrorIs(t, err, model.ErrTokenExchange)

	_, ok := f.svc.FlowPhase(start.State)
	assert.False(t, ok)
	_, err = f.svc.CompleteAuthorization(ctx, start.State, "bad")
	require.ErrorIs(t, err, model.ErrAuthFlowNotFound)

	conns, err := f.conns.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestCompleteAuthorization_ExpiredFlow(t *testing.T) {
	f := newConnectFixture()
	ctx := context.Background()

	start, err := f.svc.BeginAuthorization(ctx, validMeta())
	require.NoError(t, err)

	f.svc.SetClock(func() time.Time { return time.Now().Add(application.DefaultFlowTTL + time.Minute) })

	_, err = f.svc.CompleteAuthorization(ctx, start.State, "code-1")
	require.ErrorIs(t, err, model.ErrAuthFlowNotFound)
}

func TestCompleteAuthorization_UnknownState(t *testing.T) {
	f := newConnectFixture()

	_, err := f.svc.CompleteAuthorization(context.Background(), "nope", "code")
	require.ErrorIs(t, err, model.ErrAuthFlowNotFound)
}

func TestParseRedirectArtifact(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantState string
		wantCode  string
		wantErr   error
	}{
		{name: "full url", raw: "https://shelfsync.example.com/connect/callback?code=abc&state=xyz", wantState: "xyz", wantCode: "abc"},
		{name: "query with question mark", raw: " ?state=s1&code=c1 ", wantState: "s1", wantCode: "c1"},
		{name: "bare query with fragment", raw: "code=c2&state=s2#_", wantState: "s2", wantCode: "c2"},
		{name: "provider error", raw: "https://x/cb?error=access_denied&state=s", wantErr: model.ErrTokenExchange},
		{name: "missing code", raw: "https://x/cb?state=s", wantErr: model.ErrAuthFlowNotFound},
		{name: "empty", raw: "", wantErr: model.ErrAuthFlowNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, code, err := application.ParseRedirectArtifact(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestUpdateDestination(t *testing.T) {
	f := newConnectFixture()
	f.conns.conns["c1"] = freshConnection("c1")
	ctx := context.Background()

	base, err := f.svc.UpdateDestination(ctx, "c1", "airtable.com/appOther123456789/tbl1")
	require.NoError(t, err)
	assert.Equal(t, "appOther123456789", base)
	assert.Equal(t, "appOther123456789", f.conns.get("c1").DestinationBaseID)

	_, err = f.svc.UpdateDestination(ctx, "c1", "garbage")
	require.ErrorIs(t, err, model.ErrInvalidDestinationRef)

	_, err = f.svc.UpdateDestination(ctx, "missing", "appOther123456789")
	require.ErrorIs(t, err, model.ErrConnectionNotFound)

	_, err = f.svc.UpdateDestination(ctx, "", "appOther123456789")
	require.ErrorIs(t, err, model.ErrMissingConnectionID)
}

func TestUpdateSettings(t *testing.T) {
	f := newConnectFixture()
	f.conns.conns["c1"] = freshConnection("c1")
	ctx := context.Background()

	conn, err := f.svc.UpdateSettings(ctx, "c1", application.Settings{
		DestinationAPIKey: "  patRotated  ",
		Fields:            []string{"Price", "Name"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"System SKU", "Name", "Price"}, conn.Fields)
	assert.Equal(t, "patRotated", conn.DestinationAPIKey)
	assert.Equal(t, "at-old", conn.Tokens.AccessToken, "tokens untouched")
}

func TestUpdateSettings_BlankKeyKeepsCurrent(t *testing.T) {
	f := newConnectFixture()
	f.conns.conns["c1"] = freshConnection("c1")
	before := f.conns.get("c1").DestinationAPIKey

	conn, err := f.svc.UpdateSettings(context.Background(), "c1", application.Settings{Fields: []string{"Name"}})
	require.NoError(t, err)
	assert.Equal(t, before, conn.DestinationAPIKey)
}

func TestUpdateSettings_AllColumnsStoresEmptySelection(t *testing.T) {
	f := newConnectFixture()
	c := freshConnection("c1")
	c.Fields = []string{"System SKU", "Name"}
	f.conns.conns["c1"] = c

	var all []string
	for _, fs := range application.TableFields() {
		all = append(all, fs.Name)
	}
	conn, err := f.svc.UpdateSettings(context.Background(), "c1", application.Settings{Fields: all})
	require.NoError(t, err)
	assert.Empty(t, conn.Fields)
}

func TestUpdateSettings_InvalidSelectionWritesNothing(t *testing.T) {
	f := newConnectFixture()
	f.conns.conns["c1"] = freshConnection("c1")
	before := f.conns.get("c1")
	ctx := context.Background()

	_, err := f.svc.UpdateSettings(ctx, "c1", application.Settings{DestinationAPIKey: "patNew"})
	require.ErrorIs(t, err, model.ErrInvalidFieldSelection)

	_, err = f.svc.UpdateSettings(ctx, "c1", application.Settings{DestinationAPIKey: "patNew", Fields: []string{"Name", "Colour"}})
	require.ErrorIs(t, err, model.ErrInvalidFieldSelection)

	assert.Equal(t, before.DestinationAPIKey, f.conns.get("c1").DestinationAPIKey)
	assert.Empty(t, f.conns.get("c1").Fields)

	_, err = f.svc.UpdateSettings(ctx, "missing", application.Settings{Fields: []string{"Name"}})
	require.ErrorIs(t, err, model.ErrConnectionNotFound)

	_, err = f.svc.UpdateSettings(ctx, " ", application.Settings{Fields: []string{"Name"}})
	require.ErrorIs(t, err, model.ErrMissingConnectionID)
}
