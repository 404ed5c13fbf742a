// Package config reads and writes the acctl profile file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	DefaultProfileName = "default"
)

type Config struct {
	Version        string    `yaml:"version"`
	CurrentProfile string    `yaml:"current-profile,omitempty"`
	Profiles       []Profile `yaml:"profiles,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
}

// Profile names one identity provider and platform pairing.
type Profile struct {
	Name             string   `yaml:"name"`
	BaseURL          string   `yaml:"baseUrl"`
	ClientID         string   `yaml:"clientId"`
	Realm            string   `yaml:"realm,omitempty"`
	PlatformURL      string   `yaml:"platformUrl,omitempty"`
	TokenStoreType   string   `yaml:"tokenStoreType,omitempty"`
	TokenStorePath   string   `yaml:"tokenStorePath,omitempty"`
	CallbackPort     int      `yaml:"callbackPort,omitempty"`
	ClientSecretEnv  string   `yaml:"clientSecretEnv,omitempty"`
	ClientSecretFile string   `yaml:"clientSecretFile,omitempty"`
	PrivateKeyFile   string   `yaml:"privateKeyFile,omitempty"`
	ServiceClientID  string   `yaml:"serviceClientId,omitempty"`
	Scopes           []string `yaml:"scopes,omitempty"`
	LoginTimeout     string   `yaml:"loginTimeout,omitempty"`
	CAFile           string   `yaml:"caFile,omitempty"`
	InsecureSkipTLS  bool     `yaml:"insecureSkipTlsVerify,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			OutputFormat: "table",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

// LoadOrDefault returns the default config when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		def := DefaultConfig()
		return &def, nil
	}
	return cfg, err
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindProfile(name string) (*Profile, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile not found: %s", name)
}

// SetProfile replaces the profile with the same name or appends p.
func (c *Config) SetProfile(p Profile) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == p.Name {
			c.Profiles[i] = p
			return
		}
	}
	c.Profiles = append(c.Profiles, p)
}

func (c *Config) CurrentProfileOrDefault() string {
	if c.CurrentProfile != "" {
		return c.CurrentProfile
	}
	if len(c.Profiles) > 0 {
		return c.Profiles[0].Name
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	seen := map[string]bool{}
	for _, p := range c.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("profile name cannot be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile %s", p.Name)
		}
		seen[p.Name] = true
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
	}
	return nil
}

func (p *Profile) Validate() error {
	if strings.TrimSpace(p.BaseURL) == "" {
		return errors.New("baseUrl is required")
	}
	if strings.TrimSpace(p.ClientID) == "" {
		return errors.New("clientId is required")
	}
	if p.CallbackPort < 0 || p.CallbackPort > 65535 {
		return fmt.Errorf("callbackPort %d out of range", p.CallbackPort)
	}
	if _, err := p.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout parses LoginTimeout. Zero means the library default.
func (p *Profile) Timeout() (time.Duration, error) {
	if p.LoginTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.LoginTimeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid loginTimeout %q", p.LoginTimeout)
	}
	return d, nil
}

// Environment variables that override profile fields.
const (
	EnvBaseURL        = "ACCTL_BASE_URL"
	EnvClientID       = "ACCTL_CLIENT_ID"
	EnvRealm          = "ACCTL_REALM"
	EnvPlatformURL    = "ACCTL_PLATFORM_URL"
	EnvTokenStoreType = "ACCTL_TOKEN_STORE"
	EnvTokenStorePath = "ACCTL_TOKEN_STORE_PATH"
	EnvCallbackPort   = "ACCTL_CALLBACK_PORT"
	EnvClientSecret   = "ACCTL_CLIENT_SECRET"
	EnvPrivateKeyFile = "ACCTL_PRIVATE_KEY_FILE"
)

// ApplyEnv copies non-empty ACCTL_* variables over p.
func (p *Profile) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&p.BaseURL, EnvBaseURL)
	set(&p.ClientID, EnvClientID)
	set(&p.Realm, EnvRealm)
	set(&p.PlatformURL, EnvPlatformURL)
	set(&p.TokenStoreType, EnvTokenStoreType)
	set(&p.TokenStorePath, EnvTokenStorePath)
	set(&p.PrivateKeyFile, EnvPrivateKeyFile)
	if v := strings.TrimSpace(getenv(EnvCallbackPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCallbackPort, err)
		}
		p.CallbackPort = port
	}
	if getenv(EnvClientSecret) != "" && p.ClientSecretEnv == "" {
		p.ClientSecretEnv = EnvClientSecret
	}
	return nil
}

// ClientSecret resolves the secret from the environment variable or file
// named by the profile. An empty result means no secret is configured.
func (p *Profile) ClientSecret() (string, error) {
	if p.ClientSecretEnv != "" {
		value := strings.TrimSpace(os.Getenv(p.ClientSecretEnv))
		if value == "" {
			return "", fmt.Errorf("client secret env var not set: %s", p.ClientSecretEnv)
		}
		return value, nil
	}
	if p.ClientSecretFile != "" {
		bytes, err := os.ReadFile(p.ClientSecretFile)
		if err != nil {
			return "", fmt.Errorf("failed to read client secret file: %w", err)
		}
		return strings.TrimSpace(string(bytes)), nil
	}
	return "", nil
}
