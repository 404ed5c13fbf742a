// Package discovery resolves and caches identity provider metadata.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/system"
)

// ServerInfo is the subset of the OpenID provider metadata the login and
// refresh paths need.
type ServerInfo struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RevocationEndpoint    string   `json:"revocation_endpoint,omitempty"`
	UserInfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	PKCESupported         bool     `json:"pkce_supported"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported,omitempty"`
	GrantTypes            []string `json:"grant_types_supported,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// Endpoint converts the metadata into an oauth2 endpoint. Credentials are
// always sent in the request body, which Keycloak public clients require.
func (s *ServerInfo) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   s.AuthorizationEndpoint,
		TokenURL:  s.TokenEndpoint,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// SupportsGrant reports whether the provider advertises grant. Providers
// that omit grant_types_supported are assumed to support it.
func (s *ServerInfo) SupportsGrant(grant string) bool {
	return len(s.GrantTypes) == 0 || slices.Contains(s.GrantTypes, grant)
}

// IssuerURL returns the issuer for a realm under baseURL. An empty realm
// treats baseURL itself as the issuer.
func IssuerURL(baseURL, realm string) string {
	base := strings.TrimRight(baseURL, "/")
	if realm == "" {
		return base
	}
	return base + "/auth/realms/" + realm
}

// Resolver fetches provider metadata once per issuer for the life of the
// process. Failures are not cached.
type Resolver struct {
	client *http.Client
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]*ServerInfo
	group singleflight.Group
}

// NewResolver creates a Resolver. A nil client uses http.DefaultClient.
func NewResolver(client *http.Client, log *zap.SugaredLogger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		client: client,
		log:    system.OrDefault(log),
		cache:  map[string]*ServerInfo{},
	}
}

// Fetch returns the metadata for the realm at baseURL.
func (r *Resolver) Fetch(ctx context.Context, baseURL, realm string) (*ServerInfo, error) {
	if baseURL == "" {
		return nil, autherr.Config("base URL is required to resolve server info")
	}
	issuer := IssuerURL(baseURL, realm)

	r.mu.RLock()
	info, ok := r.cache[issuer]
	r.mu.RUnlock()
	if ok {
		return copyInfo(info), nil
	}

	v, err, _ := r.group.Do(issuer, func() (any, error) {
		info, err := r.discover(ctx, issuer)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[issuer] = info
		r.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return copyInfo(v.(*ServerInfo)), nil
}

func (r *Resolver) discover(ctx context.Context, issuer string) (*ServerInfo, error) {
	r.log.Debugw("Fetching OIDC discovery document", "issuer", issuer)
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, r.client), issuer)
	if err != nil {
		return nil, autherr.Network(err, "failed to fetch server info from %s", issuer)
	}

	var claims struct {
		RevocationEndpoint   string   `json:"revocation_endpoint"`
		EndSessionEndpoint   string   `json:"end_session_endpoint"`
		CodeChallengeMethods []string `json:"code_challenge_methods_supported"`
		GrantTypes           []string `json:"grant_types_supported"`
		Scopes               []string `json:"scopes_supported"`
	}
	if err := provider.Claims(&claims); err != nil {
		return nil, autherr.Network(err, "malformed discovery document from %s", issuer)
	}
	ep := provider.Endpoint()
	if ep.TokenURL == "" {
		return nil, autherr.Network(fmt.Errorf("token_endpoint missing"), "malformed discovery document from %s", issuer)
	}

	info := &ServerInfo{
		Issuer:                issuer,
		AuthorizationEndpoint: ep.AuthURL,
		TokenEndpoint:         ep.TokenURL,
		RevocationEndpoint:    claims.RevocationEndpoint,
		UserInfoEndpoint:      provider.UserInfoEndpoint(),
		EndSessionEndpoint:    claims.EndSessionEndpoint,
		PKCESupported:         slices.Contains(claims.CodeChallengeMethods, "S256"),
		CodeChallengeMethods:  claims.CodeChallengeMethods,
		GrantTypes:            claims.GrantTypes,
		ScopesSupported:       claims.Scopes,
	}
	r.log.Debugw("Resolved server info", "issuer", issuer, "pkce", info.PKCESupported, "revocation", info.RevocationEndpoint != "")
	return info, nil
}

func copyInfo(in *ServerInfo) *ServerInfo {
	out := *in
	out.CodeChallengeMethods = slices.Clone(in.CodeChallengeMethods)
	out.GrantTypes = slices.Clone(in.GrantTypes)
	out.ScopesSupported = slices.Clone(in.ScopesSupported)
	return &out
}
