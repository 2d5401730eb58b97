// Package config handles configuration loading for odavl-go: the TOML config
// file, platform profile directories, and environment overrides. Precedence
// is CLI flag > environment > config file > built-in default.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Built-in defaults.
const (
	defaultServerURL   = "https://api.odavl.dev"
	defaultHTTPTimeout = 30 * time.Second
	defaultTolerance   = time.Second
	defaultStrategy    = "newest"
	defaultMaxRetries  = 3
	defaultQueueMaxAge = 7 * 24 * time.Hour
)

// Config is the on-disk configuration file structure.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Sync      SyncConfig      `toml:"sync"`
	Workspace WorkspaceConfig `toml:"workspace"`
}

// ServerConfig configures the backend API endpoint.
type ServerConfig struct {
	URL string `toml:"url"`
	// Timeout is the per-request HTTP timeout, e.g. "30s".
	Timeout string `toml:"timeout"`
}

// StorageConfig selects and configures the remote storage provider.
// Type is one of "s3", "azure", or "local"; the provider is chosen once at
// construction time and never switched at runtime.
type StorageConfig struct {
	Type string `toml:"type"`

	// S3 object store.
	Bucket   string `toml:"bucket"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"` // optional, for S3-compatible stores
	// Optional static credentials. When empty the AWS default chain applies.
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`

	// Azure blob store.
	Container        string `toml:"container"`
	ConnectionString string `toml:"connection_string"`

	// Local filesystem store.
	Root string `toml:"root"`
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	// Strategy is the default conflict resolution strategy:
	// "local", "remote", "newest", or "skip".
	Strategy string `toml:"strategy"`
	// Tolerance is the conflict tolerance window, e.g. "1s". Two versions of
	// a file whose timestamps differ by no more than this are considered
	// genuinely ambiguous when their checksums differ.
	Tolerance string `toml:"tolerance"`
	// MaxRetries bounds offline queue replays per entry.
	MaxRetries int `toml:"max_retries"`
	// QueueMaxAge bounds offline queue entry age, e.g. "168h".
	QueueMaxAge string `toml:"queue_max_age"`
}

// WorkspaceConfig configures the synchronized workspace.
type WorkspaceConfig struct {
	Name string `toml:"name"`
	Root string `toml:"root"`
	// Compress gzips file content before upload.
	Compress bool `toml:"compress"`
	// Encrypt applies authenticated encryption to file content before upload.
	// Secret is the key material the content key is derived from.
	Encrypt bool   `toml:"encrypt"`
	Secret  string `toml:"secret"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     defaultServerURL,
			Timeout: defaultHTTPTimeout.String(),
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Sync: SyncConfig{
			Strategy:    defaultStrategy,
			Tolerance:   defaultTolerance.String(),
			MaxRetries:  defaultMaxRetries,
			QueueMaxAge: defaultQueueMaxAge.String(),
		},
	}
}

// Load reads the config file at path, applying defaults for absent fields.
// A missing file is not an error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	return cfg, nil
}

// Resolve applies environment overrides on top of the loaded config.
func (c *Config) Resolve(env EnvOverrides) {
	if env.Server != "" {
		c.Server.URL = env.Server
	}
}

// HTTPTimeout parses the configured request timeout, falling back to the
// default on absent or malformed values.
func (c *Config) HTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil || d <= 0 {
		return defaultHTTPTimeout
	}

	return d
}

// Tolerance parses the configured conflict tolerance window, falling back to
// the default on absent or malformed values.
func (c *Config) Tolerance() time.Duration {
	d, err := time.ParseDuration(c.Sync.Tolerance)
	if err != nil || d < 0 {
		return defaultTolerance
	}

	return d
}

// QueueMaxAge parses the configured queue entry age bound, falling back to
// the default on absent or malformed values.
func (c *Config) QueueMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Sync.QueueMaxAge)
	if err != nil || d <= 0 {
		return defaultQueueMaxAge
	}

	return d
}
