// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/discovery"
	"github.com/telekom/acctl/pkg/metrics"
	"github.com/telekom/acctl/pkg/oauth"
	"github.com/telekom/acctl/pkg/platform"
	"github.com/telekom/acctl/pkg/system"
	"github.com/telekom/acctl/pkg/telemetry"
	"github.com/telekom/acctl/pkg/tokenstore"
)

const (
	msgAlreadyAuthenticated = "Account already authenticated"
	msgLoginInProgress      = "Another login is already in progress"
	msgSwitchFailed         = "Failed to switch organization"
)

func tracer() trace.Tracer { return telemetry.Tracer("auth") }

// Config wires a Manager. Store, Resolver and OAuth are required.
type Config struct {
	BaseURL  string
	ClientID string
	Realm    string

	Store    tokenstore.Store
	Resolver *discovery.Resolver
	OAuth    *oauth.Client
	// Platform enables session enrichment and org switching.
	Platform *platform.Client
	// Service selects the non-interactive flow for Login.
	Service *oauth.ServiceCredential

	Scopes       []string
	CallbackPort int
	LoginTimeout time.Duration
	Presenter    Presenter
	// NoReauth makes EnsureValid fail instead of starting a new login when
	// the refresh token is unusable.
	NoReauth bool

	// HTTPClient is used for the Keycloak userinfo fallback.
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
	Now        func() time.Time
}

// Manager is the account facade: it finds, logs in, logs out and switches
// accounts, and keeps their credentials valid.
type Manager struct {
	cfg      Config
	log      *zap.SugaredLogger
	now      func() time.Time
	subjects *subjectResolver

	loginMu   sync.Mutex
	refreshes singleflight.Group
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.BaseURL == "" {
		return nil, autherr.Config("base URL is required")
	}
	if cfg.ClientID == "" {
		return nil, autherr.Config("client id is required")
	}
	if cfg.Store == nil {
		return nil, autherr.Config("token store is required")
	}
	if cfg.Resolver == nil || cfg.OAuth == nil {
		return nil, autherr.Config("resolver and oauth client are required")
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	log := system.OrDefault(cfg.Logger)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		now:      now,
		subjects: newSubjectResolver(cfg.BaseURL, cfg.Realm, cfg.HTTPClient, log),
	}, nil
}

// ClientID returns the configured client id.
func (m *Manager) ClientID() string { return m.cfg.ClientID }

// Find returns the account stored under nameOrID, or nil when there is none.
// A bare id without a client prefix is looked up under the configured
// client.
func (m *Manager) Find(ctx context.Context, nameOrID string) (*account.Account, error) {
	if nameOrID == "" {
		return nil, nil
	}
	acct, err := m.cfg.Store.Get(ctx, nameOrID)
	if err != nil || acct != nil {
		return acct, err
	}
	if strings.Contains(nameOrID, ":") {
		return nil, nil
	}
	return m.cfg.Store.Get(ctx, account.NameFor(m.cfg.ClientID, nameOrID))
}

// List returns every stored account in store order.
func (m *Manager) List(ctx context.Context) ([]*account.Account, error) {
	return m.cfg.Store.List(ctx)
}

// ServerInfo resolves the provider metadata. It needs no account.
func (m *Manager) ServerInfo(ctx context.Context) (*discovery.ServerInfo, error) {
	return m.cfg.Resolver.Fetch(ctx, m.cfg.BaseURL, m.cfg.Realm)
}

// LoginOptions tunes a single Login call. Zero values fall back to the
// manager configuration.
type LoginOptions struct {
	// Force replaces an already authenticated account.
	Force     bool
	Timeout   time.Duration
	Port      int
	Presenter Presenter
	// OnTransition observes the flow states.
	OnTransition func(from, to State)
}

func (m *Manager) kind() account.Kind {
	if m.cfg.Service != nil {
		return account.KindService
	}
	return account.KindPlatform
}

func (m *Manager) flowName() string {
	if m.cfg.Service != nil {
		return "service"
	}
	return "pkce"
}

// Login authenticates and persists the resulting account. Only one login
// may run per Manager; a concurrent call fails with a StateError.
func (m *Manager) Login(ctx context.Context, opts LoginOptions) (acct *account.Account, err error) {
	ctx, span := tracer().Start(ctx, "acctl.auth.login", trace.WithAttributes(
		attribute.String("acctl.flow", m.flowName()),
		attribute.Bool("acctl.force", opts.Force),
	))
	defer func() {
		if acct != nil {
			span.SetAttributes(attribute.String("acctl.account", acct.Name))
		}
		telemetry.End(span, err)
	}()
	acct, _, err = m.login(ctx, opts)
	return acct, err
}

// login returns the stored account alongside the error when it refuses to
// replace it.
func (m *Manager) login(ctx context.Context, opts LoginOptions) (*account.Account, *account.Account, error) {
	flowName := m.flowName()
	if !m.loginMu.TryLock() {
		metrics.LoginResults.WithLabelValues(flowName, "conflict").Inc()
		return nil, nil, autherr.State(msgLoginInProgress)
	}
	defer m.loginMu.Unlock()
	metrics.LoginAttempts.WithLabelValues(flowName).Inc()

	if !opts.Force {
		existing, err := m.authenticated(ctx)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			metrics.LoginResults.WithLabelValues(flowName, "conflict").Inc()
			return nil, existing, autherr.State(msgAlreadyAuthenticated)
		}
	}

	acct, err := m.authenticate(ctx, opts)
	if err != nil {
		result := "error"
		if autherr.IsCancelled(err) {
			result = "cancelled"
		}
		metrics.LoginResults.WithLabelValues(flowName, result).Inc()
		return nil, nil, err
	}
	if err := m.cfg.Store.Set(ctx, acct); err != nil {
		metrics.LoginResults.WithLabelValues(flowName, "error").Inc()
		return nil, nil, err
	}
	metrics.LoginResults.WithLabelValues(flowName, "success").Inc()
	m.log.Infow("Logged in", "account", acct.Name, "kind", acct.Kind)
	return acct.Clone(), nil, nil
}

// Authenticated returns the stored account a Login without Force would
// refuse to replace, or nil.
func (m *Manager) Authenticated(ctx context.Context) (*account.Account, error) {
	acct, err := m.authenticated(ctx)
	return acct.Clone(), err
}

// IsAlreadyAuthenticated reports whether err is the refusal of a Login
// without Force.
func IsAlreadyAuthenticated(err error) bool {
	var e *autherr.Error
	return errors.As(err, &e) && e.Kind == autherr.KindState && e.Message == msgAlreadyAuthenticated
}

// authenticated returns the most recently stored account of this client and
// kind whose credential can still be renewed.
func (m *Manager) authenticated(ctx context.Context) (*account.Account, error) {
	accounts, err := m.cfg.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	clientID := m.cfg.ClientID
	if m.cfg.Service != nil {
		clientID = m.cfg.Service.ClientID
	}
	now := m.now()
	for i := len(accounts) - 1; i >= 0; i-- {
		a := accounts[i]
		if a.Kind != m.kind() || a.Auth.ClientID != clientID || a.Auth.BaseURL != m.cfg.BaseURL || a.Auth.Realm != m.cfg.Realm {
			continue
		}
		if !a.Auth.AccessExpired(now) || !a.Auth.RefreshExpired(now) {
			return a, nil
		}
	}
	return nil, nil
}

// authenticate runs a login flow and builds the account it produced. Nothing
// is persisted.
func (m *Manager) authenticate(ctx context.Context, opts LoginOptions) (*account.Account, error) {
	info, err := m.ServerInfo(ctx)
	if err != nil {
		return nil, err
	}
	fc := FlowConfig{
		Info:      info,
		OAuth:     m.cfg.OAuth,
		ClientID:  m.cfg.ClientID,
		Port:      m.cfg.CallbackPort,
		Timeout:   m.cfg.LoginTimeout,
		Presenter: m.cfg.Presenter,
		Scopes:    m.cfg.Scopes,
		Service:   m.cfg.Service,
		Logger:    m.log,
	}
	if opts.Port != 0 {
		fc.Port = opts.Port
	}
	if opts.Timeout > 0 {
		fc.Timeout = opts.Timeout
	}
	if opts.Presenter != nil {
		fc.Presenter = opts.Presenter
	}
	flow, err := NewFlow(fc)
	if err != nil {
		return nil, err
	}
	if opts.OnTransition != nil {
		flow.OnTransition(opts.OnTransition)
	}
	cred, err := flow.Run(ctx)
	if err != nil {
		return nil, err
	}
	cred.BaseURL = m.cfg.BaseURL
	cred.Realm = m.cfg.Realm

	acct := &account.Account{
		Kind:          m.kind(),
		Auth:          *cred,
		SchemaVersion: account.SchemaVersion,
	}
	session := m.session(ctx, acct)
	if session == nil && acct.Kind == account.KindPlatform && m.cfg.Platform != nil {
		return nil, autherr.Auth("Failed to resolve the platform session for the new login")
	}
	if session != nil {
		session.Apply(acct)
	}
	subject, err := m.subjects.resolve(ctx, acct, session, m.cfg.Service)
	if err != nil {
		return nil, err
	}
	acct.Name = account.NameFor(m.cfg.ClientID, subject)
	return acct, nil
}

// session reads the platform session for acct. Failures are logged and
// yield nil.
func (m *Manager) session(ctx context.Context, acct *account.Account) *platform.Session {
	if m.cfg.Platform == nil {
		return nil
	}
	s, err := m.cfg.Platform.FindSession(ctx, acct.Auth.Tokens.AccessToken)
	if err != nil {
		m.log.Warnw("Failed to read platform session", "kind", acct.Kind, "error", err)
		return nil
	}
	return s
}

// LogoutOptions selects the accounts to log out. Accounts must be non-nil
// unless All is set; an empty slice is a no-op.
type LogoutOptions struct {
	Accounts []string
	All      bool
}

// Logout revokes and deletes the selected accounts and returns the removed
// ones. Revocation is best effort; the local delete always runs.
func (m *Manager) Logout(ctx context.Context, opts LogoutOptions) (removed []*account.Account, err error) {
	ctx, span := tracer().Start(ctx, "acctl.auth.logout", trace.WithAttributes(attribute.Bool("acctl.all", opts.All)))
	defer func() {
		span.SetAttributes(attribute.Int("acctl.removed", len(removed)))
		telemetry.End(span, err)
	}()
	if opts.Accounts == nil && !opts.All {
		return nil, autherr.Type("Expected accounts to be a list of accounts")
	}

	var targets []*account.Account
	if opts.All {
		all, err := m.cfg.Store.List(ctx)
		if err != nil {
			return nil, err
		}
		targets = all
	} else {
		seen := map[string]bool{}
		for _, name := range opts.Accounts {
			acct, err := m.Find(ctx, name)
			if err != nil {
				return nil, err
			}
			if acct == nil {
				m.log.Debugw("Skipping logout of unknown account", "account", name)
				continue
			}
			if !seen[acct.Name] {
				seen[acct.Name] = true
				targets = append(targets, acct)
			}
		}
	}

	removed = make([]*account.Account, 0, len(targets))
	for _, acct := range targets {
		m.revoke(ctx, acct)
		if _, err := m.cfg.Store.Delete(ctx, acct.Name); err != nil {
			return removed, err
		}
		metrics.Logouts.Inc()
		m.log.Infow("Logged out", "account", acct.Name)
		removed = append(removed, acct)
	}
	return removed, nil
}

func (m *Manager) revoke(ctx context.Context, acct *account.Account) {
	token, hint := acct.Auth.Tokens.RefreshToken, "refresh_token"
	if token == "" {
		token, hint = acct.Auth.Tokens.AccessToken, "access_token"
	}
	if token == "" {
		return
	}
	info, clientID, err := m.endpoint(ctx, acct)
	if err == nil {
		err = m.cfg.OAuth.Revoke(ctx, info, clientID, token, hint)
	}
	if err != nil {
		metrics.RevokeFailures.Inc()
		m.log.Warnw("Failed to revoke token, removing local credentials anyway", "account", acct.Name, "error", err)
	}
}

// EnsureValid returns a copy of acct whose access token is usable. An
// expired access token is refreshed once per account even when many callers
// ask at the same time; a dead refresh token leads to a new login unless
// NoReauth is set.
func (m *Manager) EnsureValid(ctx context.Context, acct *account.Account) (*account.Account, error) {
	if acct == nil {
		return nil, autherr.Type("Account required")
	}
	if !acct.Auth.AccessExpired(m.now()) {
		return acct.Clone(), nil
	}
	v, err, shared := m.refreshes.Do(acct.Name, func() (any, error) {
		return m.renew(ctx, acct.Clone())
	})
	if shared {
		metrics.TokenRefreshesCoalesced.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(*account.Account).Clone(), nil
}

func (m *Manager) renew(ctx context.Context, acct *account.Account) (_ *account.Account, err error) {
	ctx, span := tracer().Start(ctx, "acctl.auth.refresh", trace.WithAttributes(attribute.String("acctl.account", acct.Name)))
	defer func() { telemetry.End(span, err) }()

	now := m.now()
	stored, err := m.cfg.Store.Get(ctx, acct.Name)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		if !stored.Auth.AccessExpired(now) {
			return stored, nil
		}
		// the store may hold a newer refresh token than the caller's copy
		acct = stored
	}
	if acct.Auth.RefreshExpired(now) {
		m.log.Debugw("Refresh token expired", "account", acct.Name)
		return m.reauthenticate(ctx, acct, nil)
	}

	info, clientID, err := m.endpoint(ctx, acct)
	if err != nil {
		return nil, err
	}
	cred, err := m.cfg.OAuth.Refresh(ctx, info, clientID, acct.Auth.Tokens.RefreshToken)
	metrics.TokenRefreshes.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		if autherr.Permanent(err) {
			m.log.Debugw("Refresh token rejected", "account", acct.Name, "error", err)
			return m.reauthenticate(ctx, acct, err)
		}
		return nil, err
	}

	updated := acct.Clone()
	applyTokens(updated, cred)
	if err := m.cfg.Store.Set(ctx, updated); err != nil {
		return nil, err
	}
	m.log.Debugw("Refreshed access token", "account", updated.Name, "expires", updated.Auth.Expires.Access)
	return updated, nil
}

// applyTokens replaces the token material of acct, keeping identity fields.
// A provider that does not rotate refresh tokens keeps the previous one.
func applyTokens(acct *account.Account, cred *account.Credential) {
	prev := acct.Auth.Tokens
	acct.Auth.Tokens = cred.Tokens
	if acct.Auth.Tokens.IDToken == "" {
		acct.Auth.Tokens.IDToken = prev.IDToken
	}
	acct.Auth.Expires.Access = cred.Expires.Access
	if cred.Tokens.RefreshToken == "" {
		acct.Auth.Tokens.RefreshToken = prev.RefreshToken
		return
	}
	acct.Auth.Expires.Refresh = cred.Expires.Refresh
}

// endpoint resolves the provider metadata and client id acct was issued
// under, falling back to the manager configuration for older records.
func (m *Manager) endpoint(ctx context.Context, acct *account.Account) (*discovery.ServerInfo, string, error) {
	baseURL, realm := acct.Auth.BaseURL, acct.Auth.Realm
	if baseURL == "" {
		baseURL, realm = m.cfg.BaseURL, m.cfg.Realm
	}
	clientID := acct.Auth.ClientID
	if clientID == "" {
		clientID = m.cfg.ClientID
	}
	info, err := m.cfg.Resolver.Fetch(ctx, baseURL, realm)
	return info, clientID, err
}

func (m *Manager) reauthenticate(ctx context.Context, acct *account.Account, cause error) (*account.Account, error) {
	if m.cfg.NoReauth || acct.Kind != m.kind() {
		e := autherr.Auth("Account %s requires re-authentication", acct.Name)
		e.Cause = cause
		return nil, e
	}
	metrics.Reauthentications.Inc()
	m.log.Infow("Credentials expired, logging in again", "account", acct.Name)
	fresh, _, err := m.login(ctx, LoginOptions{Force: true})
	if err != nil {
		return nil, err
	}
	if fresh.Name != acct.Name {
		m.log.Warnw("Re-authentication produced a different account", "expected", acct.Name, "got", fresh.Name)
	}
	return fresh, nil
}

// SwitchOrg scopes acct to the org identified by orgID (org_id, guid or name;
// empty keeps the current org) and persists the result. A nil acct logs in
// first, reusing an already authenticated account. A rejected switch leaves
// the stored account untouched.
func (m *Manager) SwitchOrg(ctx context.Context, acct *account.Account, orgID string) (_ *account.Account, err error) {
	ctx, span := tracer().Start(ctx, "acctl.auth.switch_org", trace.WithAttributes(attribute.String("acctl.org", orgID)))
	defer func() { telemetry.End(span, err) }()

	if m.cfg.Platform == nil {
		return nil, autherr.Config("platform URL is required to switch organizations")
	}
	if acct == nil {
		var existing *account.Account
		acct, existing, err = m.login(ctx, LoginOptions{})
		if existing != nil {
			acct = existing
		} else if err != nil {
			return nil, err
		}
	}
	if acct.Kind != account.KindPlatform {
		return nil, autherr.Type("Account must be a platform account")
	}

	working, err := m.EnsureValid(ctx, acct)
	if err != nil {
		return nil, err
	}
	org, err := m.cfg.Platform.ResolveOrg(ctx, working, orgID)
	if err != nil {
		metrics.OrgSwitches.WithLabelValues("error").Inc()
		// a rejected token can surface while looking the org up
		var ae *autherr.Error
		if errors.As(err, &ae) && ae.Kind == autherr.KindAuth {
			return nil, &autherr.Error{Kind: autherr.KindAuth, Message: msgSwitchFailed, StatusCode: ae.StatusCode, Cause: err}
		}
		return nil, err
	}

	if err := m.cfg.Platform.SwitchOrg(ctx, working.Auth.Tokens.AccessToken, org.ID); err != nil {
		metrics.OrgSwitches.WithLabelValues("error").Inc()
		var he *platform.HTTPError
		if errors.As(err, &he) {
			return nil, &autherr.Error{Kind: autherr.KindAuth, Message: msgSwitchFailed, StatusCode: he.StatusCode, Cause: err}
		}
		return nil, autherr.Wrap(autherr.KindOf(err), err, msgSwitchFailed)
	}

	// tokens issued before the switch still carry the old org
	if working.Auth.Tokens.RefreshToken != "" {
		if err := m.refreshScoped(ctx, working); err != nil {
			m.log.Warnw("Failed to refresh tokens after switching organization", "account", working.Name, "error", err)
		}
	}
	session := m.session(ctx, working)
	if session != nil {
		session.Apply(working)
	}
	if session == nil || session.Org == nil {
		switched := org
		working.Org = &switched
	}
	if err := m.cfg.Store.Set(ctx, working); err != nil {
		metrics.OrgSwitches.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.OrgSwitches.WithLabelValues("success").Inc()
	m.log.Infow("Switched organization", "account", working.Name, "org", org.Name)
	return working.Clone(), nil
}

func (m *Manager) refreshScoped(ctx context.Context, acct *account.Account) error {
	info, clientID, err := m.endpoint(ctx, acct)
	if err != nil {
		return err
	}
	cred, err := m.cfg.OAuth.Refresh(ctx, info, clientID, acct.Auth.Tokens.RefreshToken)
	metrics.TokenRefreshes.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	applyTokens(acct, cred)
	return nil
}
