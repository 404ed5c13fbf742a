package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/telekom/acctl/pkg/fakeprovider"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func hasAttr(s sdktrace.ReadOnlySpan, kv attribute.KeyValue) bool {
	for _, a := range s.Attributes() {
		if a == kv {
			return true
		}
	}
	return false
}

func TestManagerTracesLoginAndSwitch(t *testing.T) {
	sr := recordSpans(t)
	p := fakeprovider.New(t)
	m := newManager(t, p)
	ctx := context.Background()

	acct, err := m.Login(ctx, LoginOptions{})
	require.NoError(t, err)
	_, err = m.SwitchOrg(ctx, acct, "wiz")
	require.Error(t, err)

	spans := sr.Ended()
	login := spanByName(spans, "acctl.auth.login")
	require.NotNil(t, login)
	assert.True(t, hasAttr(login, attribute.String("acctl.flow", "pkce")))
	assert.True(t, hasAttr(login, attribute.String("acctl.account", defaultName)))
	assert.Equal(t, codes.Unset, login.Status().Code)

	session := spanByName(spans, "acctl.platform.findSession")
	require.NotNil(t, session)
	assert.Equal(t, login.SpanContext().TraceID(), session.SpanContext().TraceID())
	assert.Equal(t, login.SpanContext().SpanID(), session.Parent().SpanID())

	switchOrg := spanByName(spans, "acctl.auth.switch_org")
	require.NotNil(t, switchOrg)
	assert.Equal(t, codes.Error, switchOrg.Status().Code)
	assert.True(t, hasAttr(switchOrg, attribute.String("acctl.org", "wiz")))
}
