package lightspeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuthProvider = (*OAuth)(nil)

// Default OAuth endpoints. The legacy PHP endpoints avoid a redirect loop on
// the newer host; refreshes go to the current token endpoint.
const (
	DefaultAuthURL    = "https://cloud.lightspeedapp.com/oauth/authorize.php"
	DefaultTokenURL   = "https://cloud.lightspeedapp.com/oauth/access_token.php"
	DefaultRefreshURL = "https://cloud.lightspeedapp.com/auth/oauth/token"
	DefaultScope      = "employee:all"
)

// OAuthConfig holds the client registration and endpoints.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	RefreshURL   string
	Scope        string
}

// OAuth implements the AuthProvider port with golang.org/x/oauth2.
type OAuth struct {
	exchange   *oauth2.Config
	refresh    *oauth2.Config
	httpClient *http.Client
}

// NewOAuth builds an OAuth provider. httpClient may be nil.
func NewOAuth(cfg OAuthConfig, httpClient *http.Client) *OAuth {
	base := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if cfg.Scope != "" {
		base.Scopes = []string{cfg.Scope}
	}

	refresh := base
	refresh.Endpoint.TokenURL = cfg.RefreshURL
	if refresh.Endpoint.TokenURL == "" {
		refresh.Endpoint.TokenURL = cfg.TokenURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &OAuth{exchange: &base, refresh: &refresh, httpClient: httpClient}
}

// AuthCodeURL returns the provider URL the tenant is sent to.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.exchange.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token pair. Every failure wraps
// model.ErrTokenExchange.
func (o *OAuth) Exchange(ctx context.Context, code string) (model.TokenPair, error) {
	if code == "" {
		return model.TokenPair{}, fmt.Errorf("%w: empty authorization code", model.ErrTokenExchange)
	}

	tok, err := o.exchange.Exchange(o.withClient(ctx), code)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("%w: %w", model.ErrTokenExchange, err)
	}
	if tok.RefreshToken == "" {
		return model.TokenPair{}, fmt.Errorf("%w: provider returned no refresh token", model.ErrTokenExchange)
	}

	return toPair(tok), nil
}

// Refresh trades a refresh token for a new pair. The provider may rotate the
// refresh token; when it does not, the input token is carried over.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	if refreshToken == "" {
		return model.TokenPair{}, fmt.Errorf("refresh: %w", driven.ErrRefreshRejected)
	}

	src := o.refresh.TokenSource(o.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if isRejection(err) {
			return model.TokenPair{}, fmt.Errorf("refresh: %w: %w", driven.ErrRefreshRejected, err)
		}
		return model.TokenPair{}, fmt.Errorf("refresh: %w", err)
	}

	pair := toPair(tok)
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func (o *OAuth) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// isRejection reports whether the token endpoint refused the grant itself, as
// opposed to failing transiently.
func isRejection(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	if re.Response == nil {
		return false
	}
	return re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized
}

func toPair(tok *oauth2.Token) model.TokenPair {
	return model.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}
