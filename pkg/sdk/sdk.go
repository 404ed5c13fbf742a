// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package sdk assembles the account manager and the platform clients from a
// single options struct. It is the programmatic entry point used by the CLI.
package sdk

import (
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/acctl/pkg/auth"
	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/discovery"
	"github.com/telekom/acctl/pkg/oauth"
	"github.com/telekom/acctl/pkg/platform"
	"github.com/telekom/acctl/pkg/ratelimit"
	"github.com/telekom/acctl/pkg/system"
	"github.com/telekom/acctl/pkg/tokenstore"
	"github.com/telekom/acctl/pkg/version"
)

// Options configures New.
type Options struct {
	BaseURL     string
	ClientID    string
	Realm       string
	PlatformURL string

	// TokenStoreType selects a backend when TokenStore is nil.
	TokenStoreType     string
	TokenStore         tokenstore.Store
	TokenStoreDir      string
	TokenStorePassword string

	// ClientSecret or PrivateKeyFile select the service account flow.
	ClientSecret   string
	PrivateKeyFile string
	// ServiceClientID is the service client; defaults to ClientID.
	ServiceClientID string
	// ServiceAccount requires the service flow even if no credential is set,
	// which then fails validation.
	ServiceAccount bool
	Scopes         []string

	CallbackPort int
	LoginTimeout time.Duration
	Presenter    auth.Presenter
	NoReauth     bool

	CAFile          string
	InsecureSkipTLS bool
	HTTPTimeout     time.Duration
	HTTPClient      *http.Client
	UserAgentSuffix string
	PlatformRate    *ratelimit.Config

	Logger *zap.SugaredLogger
}

// SDK is the assembled facade.
type SDK struct {
	Auth     *auth.Manager
	Org      *platform.OrgClient
	User     *platform.UserClient
	Role     *platform.RoleClient
	Platform *platform.Client

	store tokenstore.Store
}

// New validates opts and wires every component. Org, User and Role are nil
// when no platform URL is configured.
func New(opts *Options) (*SDK, error) {
	if opts == nil {
		return nil, autherr.Type("Expected options to be an object")
	}
	if isNilStore(opts.TokenStore) {
		return nil, autherr.Type("Expected the token store to be a \"TokenStore\" instance")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, autherr.Config("Invalid base URL: expected a non-empty string")
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		return nil, autherr.Config("Invalid client ID: expected a non-empty string")
	}
	if opts.CallbackPort < 0 || opts.CallbackPort > 65535 {
		return nil, autherr.Config("Invalid callback port %d", opts.CallbackPort)
	}
	log := system.OrDefault(opts.Logger)

	service, err := serviceCredential(opts)
	if err != nil {
		return nil, err
	}

	userAgent := version.UserAgent(opts.UserAgentSuffix)
	hc := opts.HTTPClient
	if hc == nil {
		hc, err = oauth.NewHTTPClient(oauth.TransportOptions{
			CAFile:          opts.CAFile,
			InsecureSkipTLS: opts.InsecureSkipTLS,
			Timeout:         opts.HTTPTimeout,
			UserAgent:       userAgent,
		})
		if err != nil {
			return nil, autherr.Wrap(autherr.KindConfig, err, "failed to build HTTP client")
		}
	}

	store := opts.TokenStore
	if store == nil {
		store, err = tokenstore.New(tokenstore.Options{
			Type:     tokenstore.Type(opts.TokenStoreType),
			Dir:      opts.TokenStoreDir,
			Password: opts.TokenStorePassword,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
	}

	s := &SDK{store: store}
	if opts.PlatformURL != "" {
		popts := []platform.Option{
			platform.WithHTTPClient(hc),
			platform.WithLogger(log),
			platform.WithUserAgent(userAgent),
		}
		if opts.PlatformRate != nil {
			popts = append(popts, platform.WithRateLimit(*opts.PlatformRate))
		}
		s.Platform, err = platform.New(opts.PlatformURL, popts...)
		if err != nil {
			_ = closeStore(store)
			return nil, err
		}
	}

	s.Auth, err = auth.NewManager(auth.Config{
		BaseURL:      opts.BaseURL,
		ClientID:     opts.ClientID,
		Realm:        opts.Realm,
		Store:        store,
		Resolver:     discovery.NewResolver(hc, log),
		OAuth:        oauth.NewClient(hc, log),
		Platform:     s.Platform,
		Service:      service,
		Scopes:       opts.Scopes,
		CallbackPort: opts.CallbackPort,
		LoginTimeout: opts.LoginTimeout,
		Presenter:    opts.Presenter,
		NoReauth:     opts.NoReauth,
		HTTPClient:   hc,
		Logger:       log,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.Platform != nil {
		s.Org = s.Platform.Orgs(s.Auth)
		s.User = s.Platform.Users(s.Auth)
		s.Role = s.Platform.Roles(s.Auth)
	}
	return s, nil
}

func serviceCredential(opts *Options) (*oauth.ServiceCredential, error) {
	if opts.ClientSecret == "" && opts.PrivateKeyFile == "" {
		if opts.ServiceAccount {
			return nil, autherr.Config("service account login requires a client secret or private key file")
		}
		return nil, nil
	}
	clientID := opts.ServiceClientID
	if clientID == "" {
		clientID = opts.ClientID
	}
	sc := &oauth.ServiceCredential{ClientID: clientID, ClientSecret: opts.ClientSecret, Scopes: opts.Scopes}
	if opts.PrivateKeyFile != "" {
		key, err := oauth.LoadPrivateKey(opts.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		sc.PrivateKey = key
	}
	return sc, nil
}

// isNilStore catches typed nil values hidden in the interface.
func isNilStore(s tokenstore.Store) bool {
	if s == nil {
		return false
	}
	v := reflect.ValueOf(s)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// Store returns the token store the SDK writes to.
func (s *SDK) Store() tokenstore.Store { return s.store }

// Close releases the platform limiter and closes the token store if it
// holds resources.
func (s *SDK) Close() error {
	if s.Platform != nil {
		s.Platform.Close()
	}
	return closeStore(s.store)
}

func closeStore(store tokenstore.Store) error {
	for store != nil {
		if c, ok := store.(io.Closer); ok {
			return c.Close()
		}
		u, ok := store.(interface{ Unwrap() tokenstore.Store })
		if !ok {
			return nil
		}
		store = u.Unwrap()
	}
	return nil
}
