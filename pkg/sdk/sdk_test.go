/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package sdk

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/auth"
	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/fakeprovider"
	"github.com/telekom/acctl/pkg/platform"
	"github.com/telekom/acctl/pkg/system"
	"github.com/telekom/acctl/pkg/tokenstore"
)

func options(p *fakeprovider.Provider) *Options {
	return &Options{
		BaseURL:        p.URL(),
		ClientID:       p.ClientID,
		Realm:          p.Realm,
		PlatformURL:    p.URL(),
		TokenStoreType: "memory",
		Presenter:      fakeprovider.NewBrowser(),
		Logger:         system.NewTestLogger(),
	}
}

func newSDK(t *testing.T, opts *Options) *SDK {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewValidation(t *testing.T) {
	p := fakeprovider.New(t)

	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, autherr.IsType(err))
	assert.Equal(t, "Expected options to be an object", err.Error())

	var typedNil *tokenstore.Memory
	opts := options(p)
	opts.TokenStore = typedNil
	_, err = New(opts)
	require.Error(t, err)
	assert.True(t, autherr.IsType(err))
	assert.Equal(t, `Expected the token store to be a "TokenStore" instance`, err.Error())

	opts = options(p)
	opts.TokenStoreType = "bogus"
	_, err = New(opts)
	assert.True(t, autherr.IsConfig(err))

	opts = options(p)
	opts.BaseURL = ""
	_, err = New(opts)
	assert.True(t, autherr.IsConfig(err))

	opts = options(p)
	opts.ClientID = " "
	_, err = New(opts)
	assert.True(t, autherr.IsConfig(err))

	opts = options(p)
	opts.ServiceAccount = true
	_, err = New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a client secret or private key")

	opts = options(p)
	opts.PrivateKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = New(opts)
	assert.True(t, autherr.IsConfig(err))

	opts = options(p)
	opts.PlatformURL = "://bad"
	_, err = New(opts)
	assert.True(t, autherr.IsConfig(err))
}

func TestNewWithoutPlatform(t *testing.T) {
	p := fakeprovider.New(t)
	opts := options(p)
	opts.PlatformURL = ""
	s := newSDK(t, opts)
	assert.NotNil(t, s.Auth)
	assert.Nil(t, s.Org)
	assert.Nil(t, s.User)
	assert.Nil(t, s.Role)
}

func TestNewUsesProvidedStore(t *testing.T) {
	p := fakeprovider.New(t)
	store := tokenstore.NewMemory()
	acct := p.DefaultSeed()
	require.NoError(t, store.Set(context.Background(), acct))

	opts := options(p)
	opts.TokenStore = store
	s := newSDK(t, opts)
	assert.Same(t, store, s.Store())

	found, err := s.Auth.Find(context.Background(), "foo@bar.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, acct.Name, found.Name)
}

func TestNewSQLiteStore(t *testing.T) {
	p := fakeprovider.New(t)
	opts := options(p)
	opts.TokenStoreType = "sqlite"
	opts.TokenStoreDir = t.TempDir()
	s, err := New(opts)
	require.NoError(t, err)

	acct, err := s.Auth.Login(context.Background(), auth.LoginOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	opts.Presenter = fakeprovider.NewBrowser()
	s = newSDK(t, opts)
	found, err := s.Auth.Find(context.Background(), acct.Name)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, acct.Auth.Tokens, found.Auth.Tokens)
}

func TestEndToEnd(t *testing.T) {
	p := fakeprovider.New(t)
	s := newSDK(t, options(p))
	ctx := context.Background()

	info, err := s.Auth.ServerInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.Issuer(), info.Issuer)

	acct, err := s.Auth.Login(ctx, auth.LoginOptions{})
	require.NoError(t, err)
	assert.Equal(t, "test_client:foo@bar.com", acct.Name)

	orgs, err := s.Org.List(ctx, acct, "")
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, "Bar org", orgs[0].Name)

	users, err := s.User.List(ctx, acct, "100")
	require.NoError(t, err)
	assert.Len(t, users, 2)

	roles, err := s.Role.List(ctx, acct, platform.RoleFilter{})
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	switched, err := s.Auth.SwitchOrg(ctx, acct, "2000")
	require.NoError(t, err)
	assert.Equal(t, "Bar org", switched.Org.Name)

	removed, err := s.Auth.Logout(ctx, auth.LogoutOptions{Accounts: []string{acct.Name}})
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	list, err := s.Auth.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPlatformCallsRejectServiceAccounts(t *testing.T) {
	p := fakeprovider.New(t)
	s := newSDK(t, options(p))
	acct := p.SeedAccount(account.KindService, account.Tokens{AccessToken: "x"}, account.Expires{})

	_, err := s.Org.List(context.Background(), acct, "")
	require.Error(t, err)
	assert.Equal(t, "Account must be a platform account", err.Error())
}

func TestServiceAccountWithPrivateKey(t *testing.T) {
	p := fakeprovider.New(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p.AssertionKeys["svc_client"] = &key.PublicKey

	keyFile := filepath.Join(t.TempDir(), "key.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyFile, pemBytes, 0o600))

	opts := options(p)
	opts.PrivateKeyFile = keyFile
	opts.ServiceClientID = "svc_client"
	opts.Presenter = nil
	s := newSDK(t, opts)

	acct, err := s.Auth.Login(context.Background(), auth.LoginOptions{})
	require.NoError(t, err)
	assert.Equal(t, account.KindService, acct.Kind)
	assert.Equal(t, "test_client:svc_client", acct.Name)
	assert.Equal(t, 1, p.GrantCount("client_credentials"))
}
