package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/ratelimit"
	"github.com/telekom/acctl/pkg/system"
)

const (
	callbackPath     = "/callback"
	shutdownTimeout  = 2 * time.Second
	pageWaitDeadline = 30 * time.Second
)

var resultPage = template.Must(template.New("result").Funcs(sprig.FuncMap()).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{ .Title | title }}</title></head>
<body style="font-family: sans-serif; margin: 4em;">
<h1>{{ .Title | title }}</h1>
<p>{{ .Message | default "You can close this window and return to the terminal." }}</p>
{{- if .Detail }}
<pre>{{ .Detail | trunc 500 }}</pre>
{{- end }}
</body>
</html>
`))

type pageData struct {
	Title   string
	Message string
	Detail  string
}

type callbackResult struct {
	code string
	err  error
}

// callbackServer is the loopback listener that receives the authorization
// redirect. It accepts exactly one result; the page for that request is held
// open until the flow reports the exchange outcome.
type callbackServer struct {
	listener net.Listener
	server   *http.Server
	limiter  *ratelimit.Limiter
	state    string
	log      *zap.SugaredLogger

	results   chan callbackResult
	outcome   chan error
	delivered sync.Once
	closeOnce sync.Once
}

func startCallback(port int, state string, log *zap.SugaredLogger) (*callbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindConfig, err, "failed to start callback listener on port %d", port)
	}
	cb := &callbackServer{
		listener: listener,
		limiter:  ratelimit.New(ratelimit.DefaultCallbackConfig()),
		state:    state,
		log:      log,
		results:  make(chan callbackResult, 1),
		outcome:  make(chan error, 1),
	}

	engine := gin.New()
	engine.Use(
		// the callback query carries the authorization code and state
		ginzap.GinzapWithConfig(log.Desugar(), &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			SkipPaths:  []string{callbackPath},
		}),
		ginzap.RecoveryWithZap(log.Desugar(), true),
		system.RequestLogger(log),
		cb.limiter.Middleware(),
	)
	engine.GET(callbackPath, cb.handle)

	cb.server = &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := cb.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Debugw("Callback listener stopped", "error", err)
		}
	}()
	return cb, nil
}

// Port is the bound loopback port.
func (cb *callbackServer) Port() int {
	return cb.listener.Addr().(*net.TCPAddr).Port
}

// RedirectURI is the redirect_uri registered for this attempt.
func (cb *callbackServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", cb.Port(), callbackPath)
}

// Results delivers the single accepted callback.
func (cb *callbackServer) Results() <-chan callbackResult {
	return cb.results
}

// deliver hands res to the flow. Only the first callback is delivered.
func (cb *callbackServer) deliver(res callbackResult) bool {
	first := false
	cb.delivered.Do(func() {
		first = true
		cb.results <- res
	})
	return first
}

// finish reports the exchange outcome to the waiting browser request.
func (cb *callbackServer) finish(err error) {
	select {
	case cb.outcome <- err:
	default:
	}
}

func (cb *callbackServer) handle(c *gin.Context) {
	log := system.GetReqLogger(c, cb.log)
	q := c.Request.URL.Query()
	start := time.Now()
	defer func() {
		log.Debugw("Login callback handled", "status", c.Writer.Status(), "latency", time.Since(start))
	}()

	if q.Get("state") != cb.state {
		log.Warnw("Rejecting login callback with mismatched state")
		cb.deliver(callbackResult{err: autherr.Auth("state mismatch")})
		cb.render(c, http.StatusBadRequest, pageData{Title: "login failed", Message: "The login request could not be verified."})
		return
	}
	if code := q.Get("error"); code != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = code
		}
		e := autherr.Auth("authorization failed: %s", desc)
		e.Code = code
		cb.deliver(callbackResult{err: e})
		cb.render(c, http.StatusBadRequest, pageData{Title: "login failed", Message: "The identity provider denied the request.", Detail: desc})
		return
	}
	code := q.Get("code")
	if code == "" {
		cb.deliver(callbackResult{err: autherr.Auth("malformed callback: missing authorization code")})
		cb.render(c, http.StatusBadRequest, pageData{Title: "login failed", Message: "The login response was incomplete."})
		return
	}
	if !cb.deliver(callbackResult{code: code}) {
		cb.render(c, http.StatusConflict, pageData{Title: "login already handled"})
		return
	}

	select {
	case err := <-cb.outcome:
		if err != nil {
			log.Debugw("Code exchange failed", "error", err)
			cb.render(c, http.StatusBadGateway, pageData{Title: "login failed", Message: "The authorization code could not be exchanged.", Detail: err.Error()})
			return
		}
		cb.render(c, http.StatusOK, pageData{Title: "login successful"})
	case <-c.Request.Context().Done():
	case <-time.After(pageWaitDeadline):
		cb.render(c, http.StatusGatewayTimeout, pageData{Title: "login timed out"})
	}
}

func (cb *callbackServer) render(c *gin.Context, status int, data pageData) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := resultPage.Execute(c.Writer, data); err != nil {
		cb.log.Debugw("Failed to render callback page", "error", err)
	}
}

// Close tears the listener down. A browser request still waiting for an
// outcome is released first.
func (cb *callbackServer) Close() {
	cb.closeOnce.Do(func() {
		cb.finish(autherr.Cancelled("login aborted"))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := cb.server.Shutdown(ctx); err != nil {
			_ = cb.server.Close()
		}
		cb.limiter.Stop()
	})
}
