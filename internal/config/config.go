package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// DefaultPath is the configuration file used when --config is not given.
const DefaultPath = "sitedev.yaml"

// Config is the root configuration of a develop session.
type Config struct {
	Site    SiteConfig    `yaml:"site"`
	Develop DevelopConfig `yaml:"develop"`
	HTTP    HTTPConfig    `yaml:"http"`
	Events  EventsConfig  `yaml:"events"`
	NATS    NATSConfig    `yaml:"nats"`
	Refresh RefreshConfig `yaml:"refresh"`
	Watch   WatchConfig   `yaml:"watch"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// SiteConfig locates the content and generated artifacts.
type SiteConfig struct {
	Title      string `yaml:"title"`
	Root       string `yaml:"root"`
	ContentDir string `yaml:"content_dir"`
	CacheDir   string `yaml:"cache_dir"`
}

// DevelopConfig tunes the orchestrator.
type DevelopConfig struct {
	// BatchSize is the number of deferred mutations that forces an immediate commit.
	BatchSize int `yaml:"batch_size"`
	// BatchWindow bounds how long deferred mutations wait before a commit.
	BatchWindow time.Duration `yaml:"batch_window"`
	// MaxRecursion bounds pipeline re-runs caused by nodes mutated during queries.
	MaxRecursion *int `yaml:"max_recursion,omitempty"`
	// CommitConcurrency bounds parallel mutations within one commit; 0 means unbounded.
	CommitConcurrency *int `yaml:"commit_concurrency,omitempty"`
}

// HTTPConfig holds listener addresses.
type HTTPConfig struct {
	ControlAddr string `yaml:"control_addr"`
	SiteAddr    string `yaml:"site_addr"`
}

// EventsConfig controls the SQLite session event log.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NATSConfig controls mutation and refresh ingress over NATS.
type NATSConfig struct {
	Enabled         bool        `yaml:"enabled"`
	URL             string      `yaml:"url"`
	MutationSubject string      `yaml:"mutation_subject"`
	RefreshSubject  string      `yaml:"refresh_subject"`
	Retry           RetryConfig `yaml:"retry"`
}

// RetryConfig describes a backoff policy.
type RetryConfig struct {
	Mode       RetryBackoffMode `yaml:"mode"`
	Initial    time.Duration    `yaml:"initial"`
	Max        time.Duration    `yaml:"max"`
	MaxRetries int              `yaml:"max_retries"`
}

// RefreshConfig controls refresh signals that are not triggered by HTTP.
type RefreshConfig struct {
	// Interval schedules a periodic refresh; zero disables it.
	Interval time.Duration `yaml:"interval"`
	// Cron schedules refreshes with a five-field cron expression.
	Cron string `yaml:"cron,omitempty"`
	// WatchConfig emits a refresh when the configuration file changes.
	WatchConfig bool `yaml:"watch_config"`
}

// WatchConfig controls the content directory watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load reads, expands, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ferrors.ConfigError("configuration file not found").WithContext("path", path).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read configuration").WithContext("path", path).Build()
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		if c, ok := ferrors.AsClassified(err); ok {
			return nil, c.WithContext("path", path)
		}
		return nil, err
	}
	if cfg.Site.Root == "" {
		cfg.Site.Root = filepath.Dir(path)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "decode configuration").Fatal().Build()
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFiles loads .env and .env.local next to the configuration file.
// Variables already present in the environment are never overridden.
func loadEnvFiles(dir string) {
	for _, name := range []string{".env", ".env.local"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// ContentPath returns the absolute-or-root-relative content directory.
func (c *Config) ContentPath() string { return c.resolve(c.Site.ContentDir) }

// CachePath returns the directory for generated artifacts.
func (c *Config) CachePath() string { return c.resolve(c.Site.CacheDir) }

// EventsPath returns the SQLite event log location.
func (c *Config) EventsPath() string { return c.resolve(c.Events.Path) }

// MaxRecursionOrDefault returns the configured recursion limit.
func (d DevelopConfig) MaxRecursionOrDefault() int {
	if d.MaxRecursion == nil {
		return DefaultMaxRecursion
	}
	return *d.MaxRecursion
}

// CommitConcurrencyOrDefault returns the configured commit fan-out.
func (d DevelopConfig) CommitConcurrencyOrDefault() int {
	if d.CommitConcurrency == nil {
		return DefaultCommitConcurrency
	}
	return *d.CommitConcurrency
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Site.Root == "" {
		return p
	}
	return filepath.Join(c.Site.Root, p)
}

// Init writes an example configuration to path.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.ValidationError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).Build()
	}
	maxRecursion := DefaultMaxRecursion
	commitConcurrency := DefaultCommitConcurrency
	example := Config{
		Site: SiteConfig{Title: "My Site", ContentDir: "content", CacheDir: ".cache"},
		Develop: DevelopConfig{
			BatchSize:         DefaultBatchSize,
			BatchWindow:       DefaultBatchWindow,
			MaxRecursion:      &maxRecursion,
			CommitConcurrency: &commitConcurrency,
		},
		HTTP:    HTTPConfig{ControlAddr: DefaultControlAddr, SiteAddr: DefaultSiteAddr},
		Events:  EventsConfig{Enabled: true, Path: ".cache/events.db"},
		NATS:    NATSConfig{URL: DefaultNATSURL, MutationSubject: DefaultMutationSubject, RefreshSubject: DefaultRefreshSubject},
		Refresh: RefreshConfig{WatchConfig: true},
		Watch:   WatchConfig{Enabled: true, Debounce: DefaultWatchDebounce},
		Metrics: MetricsConfig{Enabled: true},
		Logging: LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
	}
	data, err := yaml.Marshal(&example)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "marshal example configuration").Build()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryConfig, "create configuration directory").Build()
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "write configuration").WithContext("path", path).Build()
	}
	return nil
}
