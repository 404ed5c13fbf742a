/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/discovery"
	"github.com/telekom/acctl/pkg/fakeprovider"
	"github.com/telekom/acctl/pkg/oauth"
	"github.com/telekom/acctl/pkg/system"
)

type presenterFunc func(ctx context.Context, authURL string) error

func (f presenterFunc) Present(ctx context.Context, authURL string) error { return f(ctx, authURL) }

// callbackPresenter skips the provider and hits the loopback callback with
// the given query, replacing the state when state is non-empty.
type callbackPresenter struct {
	query url.Values
	state string

	mu       sync.Mutex
	redirect string
	status   chan int
}

func newCallbackPresenter(query url.Values, state string) *callbackPresenter {
	return &callbackPresenter{query: query, state: state, status: make(chan int, 1)}
}

func (p *callbackPresenter) Present(_ context.Context, authURL string) error {
	u, err := url.Parse(authURL)
	if err != nil {
		return err
	}
	redirect := u.Query().Get("redirect_uri")
	p.mu.Lock()
	p.redirect = redirect
	p.mu.Unlock()

	q := url.Values{}
	for k, v := range p.query {
		q[k] = v
	}
	q.Set("state", u.Query().Get("state"))
	if p.state != "" {
		q.Set("state", p.state)
	}
	go func() {
		resp, err := http.Get(redirect + "?" + q.Encode())
		if err != nil {
			p.status <- 0
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		p.status <- resp.StatusCode
	}()
	return nil
}

func (p *callbackPresenter) redirectURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redirect
}

func flowSetup(t *testing.T) (*fakeprovider.Provider, FlowConfig) {
	t.Helper()
	p := fakeprovider.New(t)
	log := system.NewTestLogger()
	info, err := discovery.NewResolver(nil, log).Fetch(context.Background(), p.URL(), p.Realm)
	require.NoError(t, err)
	return p, FlowConfig{
		Info:     info,
		OAuth:    oauth.NewClient(nil, log),
		ClientID: p.ClientID,
		Logger:   log,
	}
}

func recordTransitions(f *Flow) func() []string {
	var mu sync.Mutex
	var seen []string
	f.OnTransition(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, from.String()+"->"+to.String())
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
}

func assertListenerClosed(t *testing.T, redirectURI string) {
	t.Helper()
	u, err := url.Parse(redirectURI)
	require.NoError(t, err)
	conn, err := net.DialTimeout("tcp", u.Host, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
	}
	assert.Error(t, err, "callback listener should be closed")
}

func TestNewFlowValidation(t *testing.T) {
	_, cfg := flowSetup(t)

	bad := cfg
	bad.Info = nil
	_, err := NewFlow(bad)
	assert.True(t, autherr.IsConfig(err))

	bad = cfg
	bad.Presenter = nil
	_, err = NewFlow(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a presenter")

	bad = cfg
	bad.Presenter = fakeprovider.NewBrowser()
	bad.Port = 70000
	_, err = NewFlow(bad)
	assert.True(t, autherr.IsConfig(err))

	ok := cfg
	ok.Presenter = fakeprovider.NewBrowser()
	f, err := NewFlow(ok)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, f.State())
	assert.Equal(t, DefaultLoginTimeout, f.cfg.Timeout)
}

func TestFlowInteractive(t *testing.T) {
	p, cfg := flowSetup(t)
	p.FixedAccessToken = "AT1"
	browser := fakeprovider.NewBrowser()
	cfg.Presenter = browser

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	transitions := recordTransitions(f)

	cred, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AT1", cred.Tokens.AccessToken)
	assert.NotEmpty(t, cred.Tokens.RefreshToken)
	assert.True(t, cred.Expires.Access.After(time.Now()))
	assert.Equal(t, StateComplete, f.State())
	assert.Equal(t, []string{
		"Idle->AwaitingUserAuthorization",
		"AwaitingUserAuthorization->ExchangingCode",
		"ExchangingCode->Complete",
	}, transitions())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, body, err := browser.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Login Successful")

	presented := browser.Presented()
	require.Len(t, presented, 1)
	u, err := url.Parse(presented[0])
	require.NoError(t, err)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assertListenerClosed(t, u.Query().Get("redirect_uri"))

	_, err = f.Run(context.Background())
	assert.True(t, autherr.IsState(err))
}

func TestFlowWithoutPKCEMetadataStillSendsChallenge(t *testing.T) {
	p, cfg := flowSetup(t)
	p.DisablePKCEMetadata = true
	info, err := discovery.NewResolver(nil, nil).Fetch(context.Background(), p.URL(), p.Realm)
	require.NoError(t, err)
	require.False(t, info.PKCESupported)
	cfg.Info = info
	cfg.Presenter = fakeprovider.NewBrowser()

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	_, err = f.Run(context.Background())
	require.NoError(t, err)
}

func TestFlowStateMismatch(t *testing.T) {
	_, cfg := flowSetup(t)
	presenter := newCallbackPresenter(url.Values{"code": {"abc"}}, "forged")
	cfg.Presenter = presenter

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	_, err = f.Run(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsAuth(err))
	assert.Equal(t, "state mismatch", err.Error())
	assert.Equal(t, StateError, f.State())
	assert.Equal(t, http.StatusBadRequest, <-presenter.status)
	assertListenerClosed(t, presenter.redirectURI())
}

func TestFlowProviderDenied(t *testing.T) {
	_, cfg := flowSetup(t)
	presenter := newCallbackPresenter(url.Values{"error": {"access_denied"}, "error_description": {"User denied access"}}, "")
	cfg.Presenter = presenter

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	_, err = f.Run(context.Background())
	require.Error(t, err)
	var ae *autherr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, autherr.KindAuth, ae.Kind)
	assert.Equal(t, "access_denied", ae.Code)
	assert.Contains(t, ae.Message, "User denied access")
	assert.Equal(t, StateError, f.State())
}

func TestFlowMissingCode(t *testing.T) {
	_, cfg := flowSetup(t)
	presenter := newCallbackPresenter(url.Values{}, "")
	cfg.Presenter = presenter

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	_, err = f.Run(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsAuth(err))
	assert.Contains(t, err.Error(), "malformed callback")
}

func TestFlowExchangeRejected(t *testing.T) {
	_, cfg := flowSetup(t)
	presenter := newCallbackPresenter(url.Values{"code": {"not-issued"}}, "")
	cfg.Presenter = presenter

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	transitions := recordTransitions(f)
	_, err = f.Run(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsAuth(err))
	assert.True(t, autherr.Permanent(err))
	assert.Equal(t, StateError, f.State())
	assert.Equal(t, "ExchangingCode->Error", transitions()[len(transitions())-1])
	assert.Equal(t, http.StatusBadGateway, <-presenter.status)
}

func TestFlowCancelled(t *testing.T) {
	_, cfg := flowSetup(t)
	var redirect string
	presented := make(chan struct{})
	cfg.Presenter = presenterFunc(func(_ context.Context, authURL string) error {
		u, _ := url.Parse(authURL)
		redirect = u.Query().Get("redirect_uri")
		close(presented)
		return nil
	})

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-presented
		cancel()
	}()
	_, err = f.Run(ctx)
	require.Error(t, err)
	assert.True(t, autherr.IsCancelled(err))
	assert.Contains(t, err.Error(), "login cancelled")
	assert.Equal(t, StateCancelled, f.State())
	assertListenerClosed(t, redirect)
}

func TestFlowTimeout(t *testing.T) {
	_, cfg := flowSetup(t)
	cfg.Timeout = 50 * time.Millisecond
	cfg.Presenter = presenterFunc(func(context.Context, string) error { return nil })

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	start := time.Now()
	_, err = f.Run(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsCancelled(err))
	assert.Contains(t, err.Error(), "login timed out after 50ms")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateCancelled, f.State())
}

func TestFlowPresenterFailure(t *testing.T) {
	_, cfg := flowSetup(t)
	cfg.Presenter = presenterFunc(func(context.Context, string) error { return io.ErrClosedPipe })

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	_, err = f.Run(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsConfig(err))
	assert.Equal(t, StateError, f.State())
}

func TestFlowService(t *testing.T) {
	p, cfg := flowSetup(t)
	p.ServiceClients["svc_client"] = "s3cret"
	cfg.Service = &oauth.ServiceCredential{ClientID: "svc_client", ClientSecret: "s3cret"}

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	transitions := recordTransitions(f)
	cred, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, cred.Tokens.AccessToken)
	assert.Equal(t, []string{"Idle->ExchangingCode", "ExchangingCode->Complete"}, transitions())

	f, err = NewFlow(FlowConfig{Info: cfg.Info, OAuth: cfg.OAuth, Service: &oauth.ServiceCredential{ClientID: "svc_client", ClientSecret: "wrong"}})
	require.NoError(t, err)
	_, err = f.Run(context.Background())
	assert.True(t, autherr.IsAuth(err))
	assert.Equal(t, StateError, f.State())
}

func TestFlowServiceCancelledEndsInError(t *testing.T) {
	p, cfg := flowSetup(t)
	p.ServiceClients["svc_client"] = "s3cret"
	cfg.Service = &oauth.ServiceCredential{ClientID: "svc_client", ClientSecret: "s3cret"}

	f, err := NewFlow(cfg)
	require.NoError(t, err)
	transitions := recordTransitions(f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Run(ctx)
	require.Error(t, err)
	assert.True(t, autherr.IsCancelled(err))
	assert.Equal(t, StateError, f.State())
	assert.Equal(t, []string{"Idle->ExchangingCode", "ExchangingCode->Error"}, transitions())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "AwaitingUserAuthorization", StateAwaitingUserAuthorization.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateExchangingCode.Terminal())
}
