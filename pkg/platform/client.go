package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/metrics"
	"github.com/telekom/acctl/pkg/ratelimit"
	"github.com/telekom/acctl/pkg/telemetry"
	"github.com/telekom/acctl/pkg/version"
)

const apiPrefix = "/api/v1"

func tracer() trace.Tracer { return telemetry.Tracer("platform") }

// Authenticator returns an account whose access token is usable, refreshing
// or re-authenticating as needed. The account manager implements it.
type Authenticator interface {
	EnsureValid(ctx context.Context, acct *account.Account) (*account.Account, error)
}

// Client talks to the platform REST API on behalf of an account.
type Client struct {
	baseURL   string
	host      string
	rest      *resty.Client
	limiter   *ratelimit.Limiter
	log       *zap.SugaredLogger
	userAgent string

	httpClient *http.Client
	limit      ratelimit.Config
}

type Option func(*Client) error

// New returns a Client for platformURL.
func New(platformURL string, opts ...Option) (*Client, error) {
	if platformURL == "" {
		return nil, autherr.Config("platform URL is required")
	}
	parsed, err := url.Parse(platformURL)
	if err != nil || parsed.Host == "" {
		return nil, autherr.Config("invalid platform URL %q", platformURL)
	}
	c := &Client{
		baseURL:   strings.TrimRight(platformURL, "/"),
		host:      parsed.Host,
		log:       zap.S(),
		userAgent: version.UserAgent(),
		limit:     ratelimit.DefaultPlatformConfig(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.httpClient != nil {
		c.rest = resty.NewWithClient(c.httpClient)
	} else {
		c.rest = resty.New()
	}
	c.rest.SetBaseURL(c.baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent)
	c.limiter = ratelimit.New(c.limit)
	return c, nil
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		if userAgent != "" {
			c.userAgent = userAgent
		}
		return nil
	}
}

func WithRateLimit(cfg ratelimit.Config) Option {
	return func(c *Client) error {
		if cfg.Rate <= 0 || cfg.Burst <= 0 {
			return autherr.Config("rate limit must be positive")
		}
		c.limit = cfg
		return nil
	}
}

// BaseURL returns the platform URL the client was created for.
func (c *Client) BaseURL() string { return c.baseURL }

// Close releases the client's background resources.
func (c *Client) Close() {
	c.limiter.Stop()
}

// HTTPError is a non-2xx platform response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

type call struct {
	// name labels the request in metrics and logs
	name   string
	method string
	path   string
	query  url.Values
	body   any
}

func (c *Client) do(ctx context.Context, token string, req call, out any) (err error) {
	ctx, span := tracer().Start(ctx, "acctl.platform."+req.name, trace.WithAttributes(
		attribute.String("http.request.method", req.method),
		attribute.String("url.path", apiPrefix+req.path),
	))
	defer func() {
		var he *HTTPError
		if errors.As(err, &he) {
			span.SetAttributes(attribute.Int("http.response.status_code", he.StatusCode))
		}
		telemetry.End(span, err)
	}()
	return c.execute(ctx, token, req, out)
}

func (c *Client) execute(ctx context.Context, token string, req call, out any) error {
	if err := c.limiter.Wait(ctx, c.host); err != nil {
		if ctx.Err() != nil {
			return autherr.Wrap(autherr.KindCancelled, ctx.Err(), "platform request %s cancelled", req.name)
		}
		return autherr.Network(err, "platform request %s throttled", req.name)
	}
	requestID := uuid.NewString()
	r := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Request-ID", requestID)
	if req.query != nil {
		r.SetQueryParamsFromValues(req.query)
	}
	if req.body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.body)
	}
	resp, err := r.Execute(req.method, apiPrefix+req.path)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues(req.name, "error").Inc()
		if errors.Is(err, context.Canceled) {
			return autherr.Wrap(autherr.KindCancelled, err, "platform request %s cancelled", req.name)
		}
		return autherr.Network(err, "platform request %s failed", req.name)
	}
	metrics.PlatformRequests.WithLabelValues(req.name, statusClass(resp.StatusCode())).Inc()
	c.log.Debugw("Platform request", "request", req.name, "status", resp.StatusCode(), "requestId", requestID)

	var env envelope
	decodeErr := json.Unmarshal(resp.Body(), &env)
	if resp.IsError() {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return &HTTPError{StatusCode: resp.StatusCode(), Message: msg}
	}
	if decodeErr != nil {
		return autherr.Network(decodeErr, "platform request %s returned malformed JSON", req.name)
	}
	if !env.Success {
		return &HTTPError{StatusCode: resp.StatusCode(), Message: env.Message}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return autherr.Network(err, "platform request %s returned malformed JSON", req.name)
	}
	return nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// failed converts err into an autherr.Error prefixed with what was attempted.
// Platform rejections read "<prefix>: <message> (<status>)".
func failed(err error, format string, args ...any) error {
	prefix := fmt.Sprintf(format, args...)
	var he *HTTPError
	if errors.As(err, &he) {
		return &autherr.Error{
			Kind:       kindForStatus(he.StatusCode),
			Message:    fmt.Sprintf("%s: %s (%d)", prefix, he.Message, he.StatusCode),
			StatusCode: he.StatusCode,
		}
	}
	kind := autherr.KindOf(err)
	if kind == 0 {
		kind = autherr.KindNetwork
	}
	return autherr.Wrap(kind, err, "%s", prefix)
}

func kindForStatus(status int) autherr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return autherr.KindAuth
	case status == http.StatusNotFound:
		return autherr.KindNotFound
	case status >= 500:
		return autherr.KindNetwork
	default:
		return autherr.KindState
	}
}

// authorize checks that acct may call the platform and returns a copy with a
// usable access token.
func authorize(ctx context.Context, auth Authenticator, acct *account.Account) (*account.Account, error) {
	if acct == nil {
		return nil, autherr.Type("Account required")
	}
	switch acct.Kind {
	case account.KindPlatform:
	case account.KindService:
		return nil, autherr.Type("Account must be a platform account")
	default:
		return nil, autherr.Type("Account must be a platform account")
	}
	if auth == nil {
		return acct.Clone(), nil
	}
	return auth.EnsureValid(ctx, acct)
}
