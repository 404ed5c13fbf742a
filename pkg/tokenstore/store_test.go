/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package tokenstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/metrics"
	"github.com/telekom/acctl/pkg/system"
)

func sampleAccount(name string) *account.Account {
	exp := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	return &account.Account{
		Name: name,
		Kind: account.KindPlatform,
		Auth: account.Credential{
			BaseURL:  "https://login.example.com",
			ClientID: "test_client",
			Realm:    "test_realm",
			Tokens:   account.Tokens{AccessToken: "AT-" + name, RefreshToken: "RT-" + name},
			Expires:  account.Expires{Access: exp, Refresh: exp.Add(time.Hour)},
		},
		Org:  &account.Org{ID: 100, GUID: "1000", Name: "Foo org", Default: true},
		Orgs: []account.Org{{ID: 100, GUID: "1000", Name: "Foo org", Default: true}},
	}
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	log := system.NewTestLogger()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			s, err := NewFile(t.TempDir(), "correct horse battery staple", log)
			require.NoError(t, err)
			return s
		},
		"keychain": func(t *testing.T) Store {
			gokeyring.MockInit()
			return NewKeychain(fmt.Sprintf("acctl-test-%d", time.Now().UnixNano()), log)
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "accounts.db"), log)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("round trip", func(t *testing.T) {
				s := factory(t)
				in := sampleAccount("test_client:foo@bar.com")
				require.NoError(t, s.Set(ctx, in))

				out, err := s.Get(ctx, in.Name)
				require.NoError(t, err)
				require.NotNil(t, out)
				want := in.Clone()
				want.SchemaVersion = account.SchemaVersion
				assert.Equal(t, want, out)
			})

			t.Run("missing is absent", func(t *testing.T) {
				s := factory(t)
				out, err := s.Get(ctx, "nobody")
				require.NoError(t, err)
				assert.Nil(t, out)

				existed, err := s.Delete(ctx, "nobody")
				require.NoError(t, err)
				assert.False(t, existed)
			})

			t.Run("list keeps insertion order across overwrites", func(t *testing.T) {
				s := factory(t)
				for _, n := range []string{"c:zed", "c:alpha", "c:mid"} {
					require.NoError(t, s.Set(ctx, sampleAccount(n)))
				}
				updated := sampleAccount("c:zed")
				updated.Auth.Tokens.AccessToken = "AT2"
				require.NoError(t, s.Set(ctx, updated))

				list, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, list, 3)
				assert.Equal(t, []string{"c:zed", "c:alpha", "c:mid"}, names(list))
				assert.Equal(t, "AT2", list[0].Auth.Tokens.AccessToken)
			})

			t.Run("delete", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Set(ctx, sampleAccount("c:a")))
				require.NoError(t, s.Set(ctx, sampleAccount("c:b")))

				existed, err := s.Delete(ctx, "c:a")
				require.NoError(t, err)
				assert.True(t, existed)

				list, err := s.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"c:b"}, names(list))
			})

			t.Run("returned accounts are copies", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Set(ctx, sampleAccount("c:a")))
				out, err := s.Get(ctx, "c:a")
				require.NoError(t, err)
				out.Auth.Tokens.AccessToken = "mutated"

				again, err := s.Get(ctx, "c:a")
				require.NoError(t, err)
				assert.Equal(t, "AT-c:a", again.Auth.Tokens.AccessToken)
			})

			t.Run("rejects invalid account", func(t *testing.T) {
				s := factory(t)
				err := s.Set(ctx, &account.Account{Kind: account.KindPlatform})
				require.Error(t, err)
				assert.True(t, autherr.IsType(err))
			})
		})
	}
}

func TestMemoryConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(ctx, sampleAccount(fmt.Sprintf("c:%d", i%5)))
		}(i)
	}
	wg.Wait()
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestNoneStore(t *testing.T) {
	ctx := context.Background()
	s := NewNone()
	require.NoError(t, s.Set(ctx, sampleAccount("c:a")))
	out, err := s.Get(ctx, "c:a")
	require.NoError(t, err)
	assert.Nil(t, out)
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileWrongPassword(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFile(dir, "first-password", system.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, sampleAccount("c:a")))

	other, err := NewFile(dir, "second-password", system.NewTestLogger())
	require.NoError(t, err)
	_, err = other.Get(ctx, "c:a")
	require.Error(t, err)
	assert.True(t, autherr.IsConfig(err))
}

func TestFileRequiresPassword(t *testing.T) {
	_, err := NewFile(t.TempDir(), "", nil)
	require.Error(t, err)
	assert.True(t, autherr.IsConfig(err))
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"":         TypeFile,
		"memory":   TypeMemory,
		"FILE":     TypeFile,
		"keychain": TypeKeychain,
		"sqlite":   TypeSQLite,
		"none":     TypeNone,
		"null":     TypeNone,
	}
	for in, want := range tests {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseType("floppy")
	require.Error(t, err)
	assert.True(t, autherr.IsConfig(err))
	assert.Contains(t, err.Error(), "memory, file, keychain, sqlite, none")
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(Options{Type: TypeMemory, Logger: system.NewTestLogger()})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s.(*instrumented).Unwrap())

	t.Setenv("ACCTL_TOKENSTORE_PASSWORD", "from-env-password")
	s, err = New(Options{Type: TypeFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &File{}, s.(*instrumented).Unwrap())

	s, err = New(Options{Type: TypeSQLite, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s.(*instrumented).Unwrap())
}

func TestResolvePasswordFromKeychain(t *testing.T) {
	gokeyring.MockInit()
	opts := Options{ServiceName: "acctl-pw-test", PasswordEnv: "ACCTL_TEST_UNSET_PASSWORD"}
	first, err := resolvePassword(opts)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := resolvePassword(opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInstrumentCountsOperations(t *testing.T) {
	ctx := context.Background()
	s := Instrument("memory-test", NewMemory())
	require.NoError(t, s.Set(ctx, sampleAccount("c:a")))
	_, _ = s.Get(ctx, "c:a")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenStoreOps.WithLabelValues("memory-test", "set", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenStoreOps.WithLabelValues("memory-test", "get", "success")))
	assert.Same(t, s, Instrument("memory-test", s))
}

func names(list []*account.Account) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Name
	}
	return out
}
