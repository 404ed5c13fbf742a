package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/discovery"
	"github.com/telekom/acctl/pkg/oauth"
	"github.com/telekom/acctl/pkg/system"
)

// DefaultLoginTimeout bounds how long a flow waits for the user to finish
// signing in.
const DefaultLoginTimeout = 5 * time.Minute

// State is a login flow state.
type State int

const (
	StateIdle State = iota
	StateAwaitingUserAuthorization
	StateExchangingCode
	StateComplete
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingUserAuthorization:
		return "AwaitingUserAuthorization"
	case StateExchangingCode:
		return "ExchangingCode"
	case StateComplete:
		return "Complete"
	case StateError:
		return "Error"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

// Presenter shows the authorization URL to the user. Present must not block
// until the user finishes signing in.
type Presenter interface {
	Present(ctx context.Context, authURL string) error
}

// FlowConfig configures a single login attempt.
type FlowConfig struct {
	Info     *discovery.ServerInfo
	OAuth    *oauth.Client
	ClientID string
	// Port for the loopback callback. Zero picks a free port.
	Port    int
	Timeout time.Duration
	// Presenter is required for the interactive flow.
	Presenter Presenter
	Scopes    []string
	// Service selects the non-interactive client credentials path.
	Service *oauth.ServiceCredential
	Logger  *zap.SugaredLogger
}

// Flow drives one login attempt from Idle to a terminal state. A Flow is
// single use.
type Flow struct {
	cfg FlowConfig
	log *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	observers []func(from, to State)
	started   bool
}

// NewFlow validates cfg and returns an idle flow.
func NewFlow(cfg FlowConfig) (*Flow, error) {
	if cfg.Info == nil {
		return nil, autherr.Config("login flow requires server info")
	}
	if cfg.OAuth == nil {
		return nil, autherr.Config("login flow requires an oauth client")
	}
	if cfg.Service == nil {
		if cfg.ClientID == "" {
			return nil, autherr.Config("login flow requires a client id")
		}
		if cfg.Presenter == nil {
			return nil, autherr.Config("interactive login requires a presenter")
		}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, autherr.Config("invalid callback port %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLoginTimeout
	}
	return &Flow{cfg: cfg, log: system.OrDefault(cfg.Logger), state: StateIdle}, nil
}

// OnTransition registers fn to be called after every state change. It must
// be called before Run.
func (f *Flow) OnTransition(fn func(from, to State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) transition(to State) {
	f.mu.Lock()
	from := f.state
	if from.Terminal() {
		f.mu.Unlock()
		return
	}
	f.state = to
	observers := append([]func(from, to State){}, f.observers...)
	f.mu.Unlock()

	f.log.Debugw("Login flow transition", "from", from.String(), "to", to.String())
	for _, fn := range observers {
		fn(from, to)
	}
}

// fail moves the flow to a terminal state. Only a wait for the user can end
// in Cancelled; cancellation in any other state is an Error, though err keeps
// its cancelled kind.
func (f *Flow) fail(err error) error {
	if autherr.IsCancelled(err) && f.State() == StateAwaitingUserAuthorization {
		f.transition(StateCancelled)
	} else {
		f.transition(StateError)
	}
	return err
}

// Run blocks until the flow reaches a terminal state and returns the issued
// credential. Nothing is persisted here; the caller owns storage.
func (f *Flow) Run(ctx context.Context) (*account.Credential, error) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil, autherr.State("login flow already used")
	}
	f.started = true
	f.mu.Unlock()

	if f.cfg.Service != nil {
		return f.runService(ctx)
	}
	return f.runInteractive(ctx)
}

func (f *Flow) runService(ctx context.Context) (*account.Credential, error) {
	f.transition(StateExchangingCode)
	cred, err := f.cfg.OAuth.ExchangeServiceCredential(ctx, f.cfg.Info, *f.cfg.Service)
	if err != nil {
		return nil, f.fail(err)
	}
	f.transition(StateComplete)
	return cred, nil
}

func (f *Flow) runInteractive(ctx context.Context) (*account.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if !f.cfg.Info.PKCESupported {
		f.log.Debugw("Provider does not advertise S256 PKCE, sending a challenge anyway", "issuer", f.cfg.Info.Issuer)
	}
	pkce, err := oauth.NewPKCE()
	if err != nil {
		return nil, f.fail(autherr.Wrap(autherr.KindConfig, err, "failed to prepare login"))
	}
	cb, err := startCallback(f.cfg.Port, pkce.State, f.log)
	if err != nil {
		return nil, f.fail(err)
	}
	defer cb.Close()
	pkce.RedirectPort = cb.Port()
	redirectURI := cb.RedirectURI()

	authURL := oauth.AuthorizationURL(f.cfg.Info, f.cfg.ClientID, redirectURI, pkce, f.cfg.Scopes)
	f.transition(StateAwaitingUserAuthorization)
	if err := f.cfg.Presenter.Present(ctx, authURL); err != nil {
		return nil, f.fail(autherr.Wrap(autherr.KindConfig, err, "failed to present login URL"))
	}
	f.log.Debugw("Waiting for login callback", "redirect_uri", redirectURI, "timeout", f.cfg.Timeout)

	var res callbackResult
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, f.fail(autherr.Wrap(autherr.KindCancelled, ctx.Err(), "login timed out after %s", f.cfg.Timeout))
		}
		return nil, f.fail(autherr.Wrap(autherr.KindCancelled, ctx.Err(), "login cancelled"))
	case res = <-cb.Results():
	}
	if res.err != nil {
		return nil, f.fail(res.err)
	}

	f.transition(StateExchangingCode)
	cred, err := f.cfg.OAuth.ExchangeCode(ctx, f.cfg.Info, f.cfg.ClientID, res.code, pkce.Verifier, redirectURI)
	cb.finish(err)
	if err != nil {
		return nil, f.fail(err)
	}
	f.transition(StateComplete)
	return cred, nil
}
