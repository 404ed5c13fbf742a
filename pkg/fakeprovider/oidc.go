package fakeprovider

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/telekom/acctl/pkg/account"
)

func oauthError(c *gin.Context, status int, code, description string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": description})
}

func (p *Provider) handleDiscovery(c *gin.Context) {
	if c.Param("realm") != p.Realm {
		c.JSON(http.StatusNotFound, gin.H{"error": "Realm does not exist"})
		return
	}
	p.mu.Lock()
	p.discovery++
	p.mu.Unlock()

	doc := gin.H{
		"issuer":                 p.Issuer(),
		"authorization_endpoint": p.endpoint("auth"),
		"token_endpoint":         p.endpoint("token"),
		"revocation_endpoint":    p.endpoint("revoke"),
		"userinfo_endpoint":      p.endpoint("userinfo"),
		"jwks_uri":               p.endpoint("certs"),
		"end_session_endpoint":   p.endpoint("logout"),
		"grant_types_supported":  []string{"authorization_code", "refresh_token", "client_credentials"},
		"scopes_supported":       []string{"openid", "email", "profile", "offline_access"},
		"response_types_supported": []string{"code"},
		"subject_types_supported":  []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	if !p.DisablePKCEMetadata {
		doc["code_challenge_methods_supported"] = []string{"plain", "S256"}
	}
	c.JSON(http.StatusOK, doc)
}

// handleAuthorize approves every request for the default user and redirects
// straight back with a code, as if the user had signed in.
func (p *Provider) handleAuthorize(c *gin.Context) {
	q := c.Request.URL.Query()
	if q.Get("client_id") != p.ClientID {
		c.String(http.StatusBadRequest, "unknown client")
		return
	}
	if q.Get("response_type") != "code" || q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		c.String(http.StatusBadRequest, "PKCE S256 required")
		return
	}
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Hostname() != "127.0.0.1" {
		c.String(http.StatusBadRequest, "invalid redirect_uri")
		return
	}
	code := uuid.NewString()
	p.mu.Lock()
	p.codes[code] = pendingCode{clientID: p.ClientID, challenge: q.Get("code_challenge"), redirectURI: redirect.String()}
	p.mu.Unlock()

	rq := redirect.Query()
	rq.Set("code", code)
	rq.Set("state", q.Get("state"))
	redirect.RawQuery = rq.Encode()
	c.Redirect(http.StatusFound, redirect.String())
}

func (p *Provider) handleToken(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		oauthError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	form := c.Request.PostForm
	grantType := form.Get("grant_type")

	p.mu.Lock()
	var (
		g    grant
		fail func()
	)
	switch grantType {
	case "authorization_code":
		g, fail = p.authorizationCodeGrant(c, form)
	case "refresh_token":
		p.mu.Unlock()
		if p.RefreshDelay > 0 {
			time.Sleep(p.RefreshDelay)
		}
		p.mu.Lock()
		g, fail = p.refreshGrant(c, form)
	case "client_credentials":
		g, fail = p.clientCredentialsGrant(c, form)
	default:
		fail = func() { oauthError(c, http.StatusBadRequest, "unsupported_grant_type", grantType) }
	}
	if fail != nil {
		p.mu.Unlock()
		fail()
		return
	}
	accessToken, refreshToken, err := p.issue(g)
	if err == nil {
		p.grants[grantType]++
	}
	accessTTL, refreshTTL := p.AccessTTL, p.RefreshTTL
	p.mu.Unlock()
	if err != nil {
		oauthError(c, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":       accessToken,
		"refresh_token":      refreshToken,
		"token_type":         "Bearer",
		"expires_in":         int(accessTTL.Seconds()),
		"refresh_expires_in": int(refreshTTL.Seconds()),
		"id_token":           "",
		"scope":              "openid email profile",
	})
}

func (p *Provider) authorizationCodeGrant(c *gin.Context, form url.Values) (grant, func()) {
	code := form.Get("code")
	pending, ok := p.codes[code]
	if !ok {
		return grant{}, func() { oauthError(c, http.StatusBadRequest, "invalid_grant", "Code not valid") }
	}
	delete(p.codes, code)
	if form.Get("client_id") != pending.clientID {
		return grant{}, func() { oauthError(c, http.StatusBadRequest, "invalid_client", "Client mismatch") }
	}
	if form.Get("redirect_uri") != pending.redirectURI {
		return grant{}, func() { oauthError(c, http.StatusBadRequest, "invalid_grant", "Incorrect redirect_uri") }
	}
	if s256(form.Get("code_verifier")) != pending.challenge {
		return grant{}, func() { oauthError(c, http.StatusBadRequest, "invalid_grant", "PKCE verification failed: Code mismatch") }
	}
	return grant{subject: DefaultEmail, email: DefaultEmail, kind: account.KindPlatform, clientID: pending.clientID}, nil
}

func (p *Provider) refreshGrant(c *gin.Context, form url.Values) (grant, func()) {
	token := form.Get("refresh_token")
	g, ok := p.refresh[token]
	if !ok || (!g.expires.IsZero() && time.Now().After(g.expires)) {
		return grant{}, func() { oauthError(c, http.StatusBadRequest, "invalid_grant", "Invalid refresh token") }
	}
	if p.SingleUseRefresh {
		delete(p.refresh, token)
	}
	return *g, nil
}

func (p *Provider) clientCredentialsGrant(c *gin.Context, form url.Values) (grant, func()) {
	clientID := form.Get("client_id")
	if assertion := form.Get("client_assertion"); assertion != "" {
		if form.Get("client_assertion_type") != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
			return grant{}, func() { oauthError(c, http.StatusBadRequest, "invalid_client", "Unsupported assertion type") }
		}
		sub, err := p.verifyAssertion(assertion)
		if err != nil {
			return grant{}, func() { oauthError(c, http.StatusUnauthorized, "invalid_client", err.Error()) }
		}
		clientID = sub
	} else {
		secret, ok := p.ServiceClients[clientID]
		if !ok || secret != form.Get("client_secret") {
			return grant{}, func() { oauthError(c, http.StatusUnauthorized, "unauthorized_client", "Invalid client or Invalid client credentials") }
		}
	}
	subject := "service-account-" + clientID
	return grant{subject: subject, kind: account.KindService, clientID: clientID}, nil
}

func (p *Provider) verifyAssertion(assertion string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(tok *jwt.Token) (any, error) {
		unverified, _ := tok.Claims.(*jwt.RegisteredClaims)
		if unverified == nil {
			return nil, jwt.ErrTokenInvalidClaims
		}
		key, ok := p.AssertionKeys[unverified.Issuer]
		if !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return "", err
	}
	if claims.Subject != claims.Issuer || !claims.VerifyAudience(p.endpoint("token"), true) {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

func (p *Provider) handleRevoke(c *gin.Context) {
	token := c.PostForm("token")
	if token == "" {
		oauthError(c, http.StatusBadRequest, "invalid_request", "token required")
		return
	}
	p.mu.Lock()
	delete(p.access, token)
	delete(p.refresh, token)
	p.revoked = append(p.revoked, token)
	p.mu.Unlock()
	c.Status(http.StatusOK)
}

func (p *Provider) handleUserInfo(c *gin.Context) {
	g, ok := p.lookupBearer(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	info := gin.H{"sub": g.subject, "preferred_username": g.subject}
	if g.email != "" {
		info["email"] = g.email
	}
	c.JSON(http.StatusOK, info)
}

func (p *Provider) lookupBearer(c *gin.Context) (grant, bool) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return grant{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.access[token]
	if !ok || (!g.expires.IsZero() && time.Now().After(g.expires)) {
		return grant{}, false
	}
	return *g, true
}
