// Package fakeprovider runs an in-process identity provider and platform API
// for tests. It speaks enough of the Keycloak OIDC endpoints (discovery,
// authorization, token, revocation, userinfo) and of the platform REST API
// (session, org switch, orgs, users, roles, activity, usage) to drive every
// login, refresh and org flow end to end.
package fakeprovider

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/telekom/acctl/pkg/account"
)

const (
	DefaultRealm    = "test_realm"
	DefaultClientID = "test_client"
	DefaultEmail    = "foo@bar.com"
	signingSecret   = "fakeprovider-signing-secret"
)

// Provider is a running fake. All exported knobs may be changed between
// requests while holding no lock; tests set them before driving a flow.
type Provider struct {
	Server   *httptest.Server
	Realm    string
	ClientID string

	// ServiceClients maps service client ids to their secrets.
	ServiceClients map[string]string
	// AssertionKeys maps service client ids to keys accepted for signed JWT assertions.
	AssertionKeys map[string]*rsa.PublicKey

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// FixedAccessToken and FixedRefreshToken replace generated tokens when set.
	FixedAccessToken  string
	FixedRefreshToken string
	// RefreshDelay slows refresh_token grants so tests can overlap them.
	RefreshDelay time.Duration
	// SingleUseRefresh invalidates a refresh token once it is used.
	SingleUseRefresh bool
	// DisablePKCEMetadata omits code_challenge_methods_supported from discovery.
	DisablePKCEMetadata bool

	mu        sync.Mutex
	codes     map[string]pendingCode
	access    map[string]*grant
	refresh   map[string]*grant
	revoked   []string
	grants    map[string]int
	discovery int
	current   map[string]int64
	orgs      []*Org
	members   map[int64][]*Member
	people    map[string]*Person
	roles     []Role
	envs      []Environment
	events    []Event
	usage     []UsageSample
	rolesDown bool
	nextUser  int
}

type pendingCode struct {
	clientID    string
	challenge   string
	redirectURI string
}

type grant struct {
	subject  string
	email    string
	kind     account.Kind
	clientID string
	expires  time.Time
}

// New starts a fake provider seeded with the default organizations, users
// and roles. It is closed when the test ends.
func New(t testing.TB) *Provider {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p := &Provider{
		Realm:          DefaultRealm,
		ClientID:       DefaultClientID,
		ServiceClients: map[string]string{},
		AssertionKeys:  map[string]*rsa.PublicKey{},
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		codes:          map[string]pendingCode{},
		access:         map[string]*grant{},
		refresh:        map[string]*grant{},
		grants:         map[string]int{},
		current:        map[string]int64{},
	}
	p.seed()
	p.Server = httptest.NewServer(p.router())
	t.Cleanup(p.Server.Close)
	return p
}

// URL is the base URL for both the identity provider and the platform.
func (p *Provider) URL() string { return p.Server.URL }

// Issuer is the realm issuer URL.
func (p *Provider) Issuer() string { return p.Server.URL + "/auth/realms/" + p.Realm }

func (p *Provider) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	realm := r.Group("/auth/realms/:realm")
	realm.GET("/.well-known/openid-configuration", p.handleDiscovery)
	realm.GET("/protocol/openid-connect/auth", p.handleAuthorize)
	realm.POST("/protocol/openid-connect/token", p.handleToken)
	realm.POST("/protocol/openid-connect/revoke", p.handleRevoke)
	realm.GET("/protocol/openid-connect/userinfo", p.handleUserInfo)
	realm.GET("/protocol/openid-connect/certs", func(c *gin.Context) { c.JSON(200, gin.H{"keys": []any{}}) })

	api := r.Group("/api/v1", p.requireBearer)
	api.GET("/auth/findSession", p.handleFindSession)
	api.PUT("/auth/switchLoggedInOrg", p.handleSwitchOrg)
	api.GET("/org/env", p.handleEnvironments)
	api.GET("/org/:org_id", p.handleGetOrg)
	api.PUT("/org/:org_id", p.handleRenameOrg)
	api.GET("/org/:org_id/family", p.handleFamily)
	api.GET("/org/:org_id/usage", p.handleUsage)
	api.GET("/org/:org_id/user", p.handleListUsers)
	api.POST("/org/:org_id/user", p.handleAddUser)
	api.PUT("/org/:org_id/user/:user_guid", p.handleUpdateUser)
	api.DELETE("/org/:org_id/user/:user_guid", p.handleRemoveUser)
	api.GET("/activity", p.handleActivity)
	api.GET("/role", p.handleRoles)
	return r
}

// SeedAccount registers tokens for the default user and returns the account
// a token store would hold for them. Tokens named "bad_*" or already expired
// are not registered, so the provider rejects them.
func (p *Provider) SeedAccount(kind account.Kind, tokens account.Tokens, expires account.Expires) *account.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	subject := DefaultEmail
	g := &grant{subject: subject, email: DefaultEmail, kind: kind, clientID: p.ClientID, expires: expires.Access}
	if tokens.AccessToken != "" && !isBad(tokens.AccessToken) && now.Before(expires.Access) {
		p.access[tokens.AccessToken] = g
	}
	if tokens.RefreshToken != "" && !isBad(tokens.RefreshToken) && (expires.Refresh.IsZero() || now.Before(expires.Refresh)) {
		rg := *g
		rg.expires = expires.Refresh
		p.refresh[tokens.RefreshToken] = &rg
	}
	org := p.orgs[0]
	return &account.Account{
		Name: account.NameFor(p.ClientID, subject),
		Kind: kind,
		Auth: account.Credential{
			BaseURL:  p.URL(),
			ClientID: p.ClientID,
			Realm:    p.Realm,
			Tokens:   tokens,
			Expires:  expires,
		},
		Org:           &account.Org{ID: org.ID, GUID: org.GUID, Name: org.Name, Default: true},
		SchemaVersion: account.SchemaVersion,
	}
}

// DefaultSeed seeds a platform account with valid tokens.
func (p *Provider) DefaultSeed() *account.Account {
	now := time.Now()
	return p.SeedAccount(account.KindPlatform,
		account.Tokens{AccessToken: "platform_access_token", RefreshToken: "platform_refresh_token"},
		account.Expires{Access: now.Add(time.Hour).Truncate(time.Second), Refresh: now.Add(24 * time.Hour).Truncate(time.Second)})
}

// GrantCount returns how many token requests of grantType succeeded.
func (p *Provider) GrantCount(grantType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grants[grantType]
}

// DiscoveryCount returns how many discovery documents were served.
func (p *Provider) DiscoveryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discovery
}

// Revoked returns the tokens revoked so far.
func (p *Provider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// InvalidateAccess makes the provider reject an access token.
func (p *Provider) InvalidateAccess(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.access, token)
}

// CurrentOrg returns the org the subject is switched into.
func (p *Provider) CurrentOrg(subject string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentOrgLocked(subject)
}

func (p *Provider) currentOrgLocked(subject string) int64 {
	if id, ok := p.current[subject]; ok {
		return id
	}
	return p.orgs[0].ID
}

// issue mints an access/refresh pair for g. Caller holds p.mu.
func (p *Provider) issue(g grant) (accessToken, refreshToken string, err error) {
	now := time.Now()
	g.expires = now.Add(p.AccessTTL)
	accessToken = p.FixedAccessToken
	if accessToken == "" {
		claims := jwt.MapClaims{
			"sub":                g.subject,
			"azp":                g.clientID,
			"exp":                g.expires.Unix(),
			"iat":                now.Unix(),
			"jti":                uuid.NewString(),
			"preferred_username": g.subject,
		}
		if g.email != "" {
			claims["email"] = g.email
		}
		accessToken, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingSecret))
		if err != nil {
			return "", "", err
		}
	}
	ag := g
	p.access[accessToken] = &ag

	refreshToken = p.FixedRefreshToken
	if refreshToken == "" {
		refreshToken = "rt-" + uuid.NewString()
	}
	rg := g
	rg.expires = now.Add(p.RefreshTTL)
	p.refresh[refreshToken] = &rg
	return accessToken, refreshToken, nil
}

func isBad(token string) bool {
	return len(token) >= 4 && token[:4] == "bad_"
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s/protocol/openid-connect/%s", p.Issuer(), path)
}
