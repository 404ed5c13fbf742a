package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() Profile {
	return Profile{
		Name:         "prod",
		BaseURL:      "https://login.example.com",
		ClientID:     "acctl",
		Realm:        "Broker",
		PlatformURL:  "https://platform.example.com",
		LoginTimeout: "2m",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.CurrentProfile = "prod"
	cfg.Profiles = []Profile{testProfile()}

	require.NoError(t, Save(path, &cfg))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "baseUrl: https://login.example.com")
	assert.Contains(t, string(content), "current-profile: prod")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: [:"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadDefaultsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n- name: a\n  baseUrl: x\n  clientId: y\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, VersionV1, cfg.Version)
	assert.Equal(t, "a", cfg.CurrentProfileOrDefault())
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "table", cfg.Settings.OutputFormat)
	assert.Empty(t, cfg.CurrentProfileOrDefault())
}

func TestFindAndSetProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetProfile(testProfile())
	p := testProfile()
	p.Realm = "Other"
	cfg.SetProfile(p)
	require.Len(t, cfg.Profiles, 1)

	found, err := cfg.FindProfile("prod")
	require.NoError(t, err)
	assert.Equal(t, "Other", found.Realm)

	_, err = cfg.FindProfile("missing")
	assert.EqualError(t, err, "profile not found: missing")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing version", mutate: func(c *Config) { c.Version = "" }, errMsg: "config version missing"},
		{name: "empty name", mutate: func(c *Config) { c.Profiles[0].Name = " " }, errMsg: "profile name cannot be empty"},
		{name: "duplicate", mutate: func(c *Config) { c.Profiles = append(c.Profiles, c.Profiles[0]) }, errMsg: "duplicate profile prod"},
		{name: "base url", mutate: func(c *Config) { c.Profiles[0].BaseURL = "" }, errMsg: "baseUrl is required"},
		{name: "client id", mutate: func(c *Config) { c.Profiles[0].ClientID = "" }, errMsg: "clientId is required"},
		{name: "port", mutate: func(c *Config) { c.Profiles[0].CallbackPort = 70000 }, errMsg: "callbackPort 70000 out of range"},
		{name: "timeout", mutate: func(c *Config) { c.Profiles[0].LoginTimeout = "soon" }, errMsg: `invalid loginTimeout "soon"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Profiles = []Profile{testProfile()}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProfileTimeout(t *testing.T) {
	p := testProfile()
	d, err := p.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	p.LoginTimeout = ""
	d, err = p.Timeout()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBaseURL:        "https://env.example.com",
		EnvTokenStoreType: "memory",
		EnvCallbackPort:   "8123",
		EnvClientSecret:   "shh",
	}
	p := testProfile()
	require.NoError(t, p.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "https://env.example.com", p.BaseURL)
	assert.Equal(t, "acctl", p.ClientID)
	assert.Equal(t, "memory", p.TokenStoreType)
	assert.Equal(t, 8123, p.CallbackPort)
	assert.Equal(t, EnvClientSecret, p.ClientSecretEnv)

	env[EnvCallbackPort] = "abc"
	assert.Error(t, p.ApplyEnv(func(k string) string { return env[k] }))
}

func TestClientSecret(t *testing.T) {
	t.Setenv("TEST_ACCTL_SECRET", " from-env ")
	p := Profile{ClientSecretEnv: "TEST_ACCTL_SECRET"}
	secret, err := p.ClientSecret()
	require.NoError(t, err)
	assert.Equal(t, "from-env", secret)

	p = Profile{ClientSecretEnv: "TEST_ACCTL_SECRET_UNSET"}
	_, err = p.ClientSecret()
	assert.EqualError(t, err, "client secret env var not set: TEST_ACCTL_SECRET_UNSET")

	file := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(file, []byte("from-file\n"), 0o600))
	p = Profile{ClientSecretFile: file}
	secret, err = p.ClientSecret()
	require.NoError(t, err)
	assert.Equal(t, "from-file", secret)

	p = Profile{}
	secret, err = p.ClientSecret()
	require.NoError(t, err)
	assert.Empty(t, secret)
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv(PathEnv, "/tmp/custom.yaml")
	assert.Equal(t, "/tmp/custom.yaml", DefaultConfigPath())

	t.Setenv(PathEnv, "")
	assert.Equal(t, filepath.Join(Dir(), "config.yaml"), DefaultConfigPath())

	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	t.Setenv("HOME", "/tmp/home")
	if runtime.GOOS == "linux" {
		assert.Equal(t, filepath.Join("/tmp/xdg", "acctl"), Dir())
	}
}
