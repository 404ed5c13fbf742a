/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package output

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/discovery"
	"github.com/telekom/acctl/pkg/platform"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "JSON", want: FormatJSON},
		{in: " yaml ", want: FormatYAML},
		{in: "table", want: FormatTable},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown output format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteObject(t *testing.T) {
	obj := map[string]int{"count": 42}

	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, obj))
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 42, decoded["count"])

	buf.Reset()
	require.NoError(t, WriteObject(&buf, FormatYAML, obj))
	decoded = nil
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 42, decoded["count"])

	assert.Error(t, WriteObject(&buf, FormatTable, obj))
	assert.Error(t, WriteObject(&buf, Format("xml"), obj))
}

func TestWriteUsesTableCallback(t *testing.T) {
	var buf bytes.Buffer
	called := false
	require.NoError(t, Write(&buf, FormatTable, nil, func(w io.Writer) {
		called = true
		_, _ = w.Write([]byte("table"))
	}))
	assert.True(t, called)
	assert.Equal(t, "table", buf.String())
}

func TestAccountView(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	acct := &account.Account{
		Name: "cli:foo@bar.com",
		Kind: account.KindPlatform,
		Auth: account.Credential{
			BaseURL: "https://login.example.com",
			Realm:   "Broker",
			Tokens:  account.Tokens{AccessToken: "secret-access", RefreshToken: "secret-refresh"},
			Expires: account.Expires{Access: now.Add(-time.Minute), Refresh: now.Add(time.Hour)},
		},
		Org:  &account.Org{ID: 100, Name: "Foo org"},
		User: &account.User{Email: "foo@bar.com"},
	}
	views := NewAccountViews([]*account.Account{acct}, now)
	require.Len(t, views, 1)
	assert.True(t, views[0].Active)
	assert.Equal(t, "Foo org", views[0].Org)

	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, views))
	assert.NotContains(t, buf.String(), "secret-access")
	assert.NotContains(t, buf.String(), "secret-refresh")

	buf.Reset()
	WriteAccountTable(&buf, views)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ACCOUNT")
	assert.Contains(t, lines[1], "cli:foo@bar.com")
	assert.Contains(t, lines[1], "active")

	acct.Auth.Expires.Refresh = now.Add(-time.Second)
	assert.False(t, NewAccountView(acct, now).Active)
}

func TestOrgTables(t *testing.T) {
	var buf bytes.Buffer
	WriteOrgTable(&buf, []platform.Org{{ID: 100, GUID: "1000", Name: "Foo org", Default: true}})
	assert.Contains(t, buf.String(), "Foo org")
	assert.Contains(t, buf.String(), "*")

	buf.Reset()
	WriteOrgDetails(&buf, &platform.Org{
		ID: 100, GUID: "1000", Name: "Foo org", Active: true,
		ParentOrg: &platform.Org{GUID: "900", Name: "Parent"},
		Children:  []platform.Org{{ID: 200, GUID: "2000", Name: "Bar org"}},
	})
	out := buf.String()
	assert.Contains(t, out, "PARENT ORG:")
	assert.Contains(t, out, "Parent (900)")
	assert.Contains(t, out, "Bar org")
}

func TestUsageTableIsSorted(t *testing.T) {
	var buf bytes.Buffer
	WriteUsageTable(&buf, &platform.Usage{
		Org: account.Org{Name: "Foo org"},
		Usage: map[string]map[string]platform.UsageMetric{
			"Runtime": {"containerPoints": {Name: "Container Points", Value: 906, Quota: 1000, Unit: "Points"}},
			"API":     {"apiRateMonth": {Name: "API Calls", Value: 784, Quota: 5000, Unit: "Calls"}},
		},
	})
	out := buf.String()
	assert.Less(t, strings.Index(out, "API Calls"), strings.Index(out, "Container Points"))
	assert.Contains(t, out, "Usage for Foo org")
}

func TestActivityTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	WriteActivityTable(&buf, &platform.Activity{Org: account.Org{Name: "Foo org"}})
	assert.Contains(t, buf.String(), "No activity found")
}

func TestServerInfo(t *testing.T) {
	var buf bytes.Buffer
	WriteServerInfo(&buf, &discovery.ServerInfo{Issuer: "https://idp/realms/x", TokenEndpoint: "https://idp/token", PKCESupported: true})
	out := buf.String()
	assert.Contains(t, out, "https://idp/realms/x")
	assert.Contains(t, out, "REVOCATION:")
	assert.Contains(t, out, "true")
}

func TestUserAndRoleTables(t *testing.T) {
	var buf bytes.Buffer
	WriteUserTable(&buf, []platform.OrgUser{{GUID: "50000", Email: "a@b.c", FirstName: "A", Roles: []string{"administrator", "developer"}}})
	assert.Contains(t, buf.String(), "administrator,developer")

	buf.Reset()
	WriteRoleTable(&buf, []platform.Role{{ID: "developer", Name: "Developer", Default: true}})
	assert.Contains(t, buf.String(), "Developer")
}
