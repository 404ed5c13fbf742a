// Package autherr defines the typed failures produced by the account and
// session packages. Callers branch on Kind via the Is* helpers; the CLI layer
// owns user-facing formatting.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// KindConfig is a bad constructor option or unusable local setup. Not retried.
	KindConfig Kind = iota + 1
	// KindNetwork is a transport failure talking to the provider or platform.
	KindNetwork
	// KindAuth means the provider rejected a credential, code, refresh or org switch.
	KindAuth
	// KindState is protocol misuse such as a concurrent login.
	KindState
	// KindNotFound is a missing account, organization or user for an operation that needs one.
	KindNotFound
	// KindType is a malformed argument.
	KindType
	// KindCancelled is a login abandoned by the caller or by its timeout.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindNetwork:
		return "NetworkError"
	case KindAuth:
		return "AuthError"
	case KindState:
		return "StateError"
	case KindNotFound:
		return "NotFoundError"
	case KindType:
		return "TypeError"
	case KindCancelled:
		return "CancelledError"
	default:
		return "Error"
	}
}

// Error is the structured failure returned across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	// StatusCode is the HTTP status of the response that caused the error, if any.
	StatusCode int
	// Code is the provider's machine-readable error code (for example invalid_grant).
	Code  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind with an empty or equal message,
// so errors.Is(err, &Error{Kind: KindAuth}) works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Config(format string, args ...any) *Error    { return newf(KindConfig, format, args...) }
func Auth(format string, args ...any) *Error      { return newf(KindAuth, format, args...) }
func State(format string, args ...any) *Error     { return newf(KindState, format, args...) }
func NotFound(format string, args ...any) *Error  { return newf(KindNotFound, format, args...) }
func Type(format string, args ...any) *Error      { return newf(KindType, format, args...) }
func Cancelled(format string, args ...any) *Error { return newf(KindCancelled, format, args...) }

// Network wraps a transport failure.
func Network(cause error, format string, args ...any) *Error {
	e := newf(KindNetwork, format, args...)
	e.Cause = cause
	return e
}

// Wrap attaches cause to a new error of the given kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := newf(kind, format, args...)
	e.Cause = cause
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsConfig(err error) bool    { return KindOf(err) == KindConfig }
func IsNetwork(err error) bool   { return KindOf(err) == KindNetwork }
func IsAuth(err error) bool      { return KindOf(err) == KindAuth }
func IsState(err error) bool     { return KindOf(err) == KindState }
func IsNotFound(err error) bool  { return KindOf(err) == KindNotFound }
func IsType(err error) bool      { return KindOf(err) == KindType }
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }

// permanentCodes are OAuth error codes after which retrying the same refresh
// token cannot succeed.
var permanentCodes = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
	"invalid_token":       true,
	"access_denied":       true,
}

// Permanent reports whether err is an AuthError the provider will keep
// returning for the same input, as opposed to a transient failure.
func Permanent(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindAuth {
		return false
	}
	if e.Code != "" {
		return permanentCodes[e.Code]
	}
	return e.StatusCode == 400 || e.StatusCode == 401
}
