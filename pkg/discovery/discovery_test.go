package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/fakeprovider"
	"github.com/telekom/acctl/pkg/system"
)

func TestIssuerURL(t *testing.T) {
	assert.Equal(t, "https://login.example.com/auth/realms/prod", IssuerURL("https://login.example.com/", "prod"))
	assert.Equal(t, "https://idp.example.com/realms/x", IssuerURL("https://idp.example.com/realms/x", ""))
}

func TestFetch(t *testing.T) {
	p := fakeprovider.New(t)
	r := NewResolver(p.Server.Client(), system.NewTestLogger())

	info, err := r.Fetch(context.Background(), p.URL(), p.Realm)
	require.NoError(t, err)
	assert.Equal(t, p.Issuer(), info.Issuer)
	assert.Equal(t, p.Issuer()+"/protocol/openid-connect/token", info.TokenEndpoint)
	assert.Equal(t, p.Issuer()+"/protocol/openid-connect/auth", info.AuthorizationEndpoint)
	assert.Equal(t, p.Issuer()+"/protocol/openid-connect/revoke", info.RevocationEndpoint)
	assert.Equal(t, p.Issuer()+"/protocol/openid-connect/userinfo", info.UserInfoEndpoint)
	assert.True(t, info.PKCESupported)
	assert.True(t, info.SupportsGrant("client_credentials"))
	assert.False(t, info.SupportsGrant("urn:ietf:params:oauth:grant-type:device_code"))

	ep := info.Endpoint()
	assert.Equal(t, info.TokenEndpoint, ep.TokenURL)
}

func TestFetchCachesPerIssuer(t *testing.T) {
	p := fakeprovider.New(t)
	r := NewResolver(p.Server.Client(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Fetch(ctx, p.URL(), p.Realm)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	first, err := r.Fetch(ctx, p.URL(), p.Realm)
	require.NoError(t, err)
	first.GrantTypes[0] = "mutated"
	second, err := r.Fetch(ctx, p.URL(), p.Realm)
	require.NoError(t, err)

	assert.Equal(t, 1, p.DiscoveryCount())
	assert.NotEqual(t, "mutated", second.GrantTypes[0])
}

func TestFetchPKCEUnadvertised(t *testing.T) {
	p := fakeprovider.New(t)
	p.DisablePKCEMetadata = true
	info, err := NewResolver(nil, nil).Fetch(context.Background(), p.URL(), p.Realm)
	require.NoError(t, err)
	assert.False(t, info.PKCESupported)
}

func TestFetchFailuresAreNetworkErrors(t *testing.T) {
	t.Run("unknown realm", func(t *testing.T) {
		p := fakeprovider.New(t)
		r := NewResolver(nil, nil)
		_, err := r.Fetch(context.Background(), p.URL(), "missing")
		require.Error(t, err)
		assert.True(t, autherr.IsNetwork(err))

		// failures are not cached
		_, err = r.Fetch(context.Background(), p.URL(), p.Realm)
		require.NoError(t, err)
	})

	t.Run("malformed document", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}))
		defer srv.Close()
		_, err := NewResolver(nil, nil).Fetch(context.Background(), srv.URL, "r")
		require.Error(t, err)
		assert.True(t, autherr.IsNetwork(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := NewResolver(nil, nil).Fetch(context.Background(), url, "r")
		require.Error(t, err)
		assert.True(t, autherr.IsNetwork(err))
	})

	t.Run("missing base url", func(t *testing.T) {
		_, err := NewResolver(nil, nil).Fetch(context.Background(), "", "r")
		assert.True(t, autherr.IsConfig(err))
	})
}
