package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	DefaultInterval = 5
	DefaultTimeout  = 60
)

// DefaultScopes are requested when neither a flag nor a profile names scopes.
var DefaultScopes = []string{"email"}

type Config struct {
	Version        string    `yaml:"version"`
	CurrentProfile string    `yaml:"current-profile,omitempty"`
	Profiles       []Profile `yaml:"profiles,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat         string `yaml:"output-format,omitempty"`
	InstructionsTemplate string `yaml:"instructions-template,omitempty"`
	MetricsTextfile      string `yaml:"metrics-textfile,omitempty"`
}

// Profile is a named device code flow target. Zero values mean "not set" and
// fall back to flags or defaults.
type Profile struct {
	Name            string   `yaml:"name"`
	Endpoint        string   `yaml:"endpoint"`
	ClientID        string   `yaml:"client-id"`
	Scopes          []string `yaml:"scopes,omitempty"`
	Interval        int      `yaml:"interval,omitempty"`
	Timeout         int      `yaml:"timeout,omitempty"`
	Headless        bool     `yaml:"headless,omitempty"`
	CAFile          string   `yaml:"ca-file,omitempty"`
	InsecureSkipTLS bool     `yaml:"insecure-skip-tls-verify,omitempty"`
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns DefaultConfig when the file
// does not exist.
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

// UpsertProfile replaces the profile with the same name or appends it.
func (c *Config) UpsertProfile(p Profile) {
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
	if c.Version != VersionV1 {
		return fmt.Errorf("unsupported config version: %s", c.Version)
	}
	seen := map[string]struct{}{}
	for _, p := range c.Profiles {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return errors.New("profile name cannot be empty")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate profile: %s", name)
		}
		seen[name] = struct{}{}
		if p.Interval < 0 {
			return fmt.Errorf("profile %s interval must be positive", name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("profile %s timeout must be positive", name)
		}
	}
	return nil
}
