package auth

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserPresenter(t *testing.T) {
	var out bytes.Buffer
	var opened []string
	p := NewBrowserPresenter(&out, false)
	p.open = func(u string) error {
		opened = append(opened, u)
		return nil
	}

	require.NoError(t, p.Present(context.Background(), "https://idp.example/auth?x=1"))
	assert.Contains(t, out.String(), "https://idp.example/auth?x=1")
	assert.Equal(t, []string{"https://idp.example/auth?x=1"}, opened)
}

func TestBrowserPresenterOpenFailureIsNotFatal(t *testing.T) {
	var out bytes.Buffer
	p := NewBrowserPresenter(&out, false)
	p.open = func(string) error { return errors.New("no display") }

	require.NoError(t, p.Present(context.Background(), "https://idp.example/auth"))
	assert.Contains(t, out.String(), "Could not open a browser (no display)")
}

func TestBrowserPresenterNoBrowser(t *testing.T) {
	var out bytes.Buffer
	p := NewBrowserPresenter(&out, true)
	p.open = func(string) error {
		t.Fatal("browser must not be opened")
		return nil
	}
	require.NoError(t, p.Present(context.Background(), "https://idp.example/auth"))
	assert.Contains(t, out.String(), "https://idp.example/auth")
}
