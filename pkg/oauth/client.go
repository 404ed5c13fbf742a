// Package oauth issues the token, refresh and revocation requests of the
// login flows. It builds on golang.org/x/oauth2 and maps every failure onto
// the autherr taxonomy: provider rejections are AuthErrors, transport
// failures are NetworkErrors.
package oauth

import (
	"context"
	"crypto/rsa"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/discovery"
	"github.com/telekom/acctl/pkg/system"
)

// DefaultScopes are requested when the caller configures none.
var DefaultScopes = []string{"openid"}

// Client talks to the token and revocation endpoints.
type Client struct {
	http *http.Client
	rest *resty.Client
	log  *zap.SugaredLogger
	now  func() time.Time
}

// NewClient returns a Client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, log *zap.SugaredLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http: httpClient,
		rest: resty.NewWithClient(httpClient),
		log:  system.OrDefault(log),
		now:  time.Now,
	}
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func oauthConfig(info *discovery.ServerInfo, clientID, redirectURI string, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:    clientID,
		Endpoint:    info.Endpoint(),
		RedirectURL: redirectURI,
		Scopes:      scopes,
	}
}

// AuthorizationURL builds the URL the user opens to sign in. The output
// depends only on its inputs.
func AuthorizationURL(info *discovery.ServerInfo, clientID, redirectURI string, pkce *PKCE, scopes []string) string {
	return oauthConfig(info, clientID, redirectURI, scopes).AuthCodeURL(pkce.State, oauth2.S256ChallengeOption(pkce.Verifier))
}

// ExchangeCode trades an authorization code for a credential.
func (c *Client) ExchangeCode(ctx context.Context, info *discovery.ServerInfo, clientID, code, verifier, redirectURI string) (*account.Credential, error) {
	cfg := oauthConfig(info, clientID, redirectURI, nil)
	tok, err := cfg.Exchange(c.withHTTP(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, mapError("authorization code exchange", err)
	}
	return c.credential(tok, clientID), nil
}

// Refresh obtains a new token pair using refreshToken.
func (c *Client) Refresh(ctx context.Context, info *discovery.ServerInfo, clientID, refreshToken string) (*account.Credential, error) {
	if refreshToken == "" {
		return nil, autherr.Auth("no refresh token available")
	}
	cfg := oauthConfig(info, clientID, "", nil)
	tok, err := cfg.TokenSource(c.withHTTP(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, mapError("token refresh", err)
	}
	return c.credential(tok, clientID), nil
}

// ServiceCredential identifies a non-interactive client. Exactly one of
// ClientSecret and PrivateKey is used; the key wins when both are set.
type ServiceCredential struct {
	ClientID     string
	ClientSecret string
	PrivateKey   *rsa.PrivateKey
	Scopes       []string
}

// ExchangeServiceCredential runs the client credentials grant, authenticating
// with a secret or a signed JWT assertion.
func (c *Client) ExchangeServiceCredential(ctx context.Context, info *discovery.ServerInfo, sc ServiceCredential) (*account.Credential, error) {
	if sc.ClientID == "" {
		return nil, autherr.Config("service login requires a client id")
	}
	cc := &clientcredentials.Config{
		ClientID:  sc.ClientID,
		TokenURL:  info.TokenEndpoint,
		Scopes:    sc.Scopes,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	switch {
	case sc.PrivateKey != nil:
		assertion, err := SignAssertion(sc.ClientID, info.TokenEndpoint, sc.PrivateKey, c.now())
		if err != nil {
			return nil, err
		}
		cc.EndpointParams = url.Values{
			"client_assertion_type": {AssertionType},
			"client_assertion":      {assertion},
		}
	case sc.ClientSecret != "":
		cc.ClientSecret = sc.ClientSecret
	default:
		return nil, autherr.Config("service login requires a client secret or private key")
	}
	tok, err := cc.Token(c.withHTTP(ctx))
	if err != nil {
		return nil, mapError("client credentials token", err)
	}
	return c.credential(tok, sc.ClientID), nil
}

// Revoke asks the provider to invalidate token. Callers treat failures as
// best-effort and only log them.
func (c *Client) Revoke(ctx context.Context, info *discovery.ServerInfo, clientID, token, hint string) error {
	if info.RevocationEndpoint == "" {
		c.log.Debugw("Provider has no revocation endpoint, skipping revoke", "issuer", info.Issuer)
		return nil
	}
	form := map[string]string{"token": token, "client_id": clientID}
	if hint != "" {
		form["token_type_hint"] = hint
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFormData(form).
		Post(info.RevocationEndpoint)
	if err != nil {
		return autherr.Network(err, "token revocation failed")
	}
	if resp.IsError() {
		e := autherr.Auth("token revocation failed: %s", strings.TrimSpace(resp.String()))
		e.StatusCode = resp.StatusCode()
		return e
	}
	return nil
}

func (c *Client) credential(tok *oauth2.Token, clientID string) *account.Credential {
	now := c.now()
	cred := &account.Credential{
		ClientID: clientID,
		Tokens: account.Tokens{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenType:    tok.TokenType,
		},
		Expires: account.Expires{Access: tok.Expiry},
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		cred.Tokens.IDToken = id
	}
	if secs := extraSeconds(tok.Extra("refresh_expires_in")); secs > 0 && tok.RefreshToken != "" {
		cred.Expires.Refresh = now.Add(time.Duration(secs) * time.Second)
	}
	return cred
}

func extraSeconds(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// mapError converts an oauth2 failure. A provider that answered with a 5xx
// is treated as a transient network failure.
func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return autherr.Wrap(autherr.KindCancelled, err, "%s cancelled", op)
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" {
			msg = strings.TrimSpace(string(re.Body))
		}
		kind := autherr.KindAuth
		if status >= 500 {
			kind = autherr.KindNetwork
		}
		return &autherr.Error{
			Kind:       kind,
			Message:    op + " failed: " + msg,
			StatusCode: status,
			Code:       re.ErrorCode,
			Cause:      err,
		}
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return autherr.Network(err, "%s failed", op)
	}
	return autherr.Wrap(autherr.KindAuth, err, "%s failed", op)
}
