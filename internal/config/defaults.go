package config

import "time"

const (
	DefaultBatchSize         = 5
	DefaultBatchWindow       = 1000 * time.Millisecond
	DefaultMaxRecursion      = 2
	DefaultCommitConcurrency = 1
	DefaultControlAddr       = "127.0.0.1:8001"
	DefaultSiteAddr          = "127.0.0.1:8000"
	DefaultNATSURL           = "nats://127.0.0.1:4222"
	DefaultMutationSubject   = "sitedev.mutations"
	DefaultRefreshSubject    = "sitedev.refresh"
	DefaultWatchDebounce     = 100 * time.Millisecond
)

// ApplyDefaults fills zero values. Explicit values are never overwritten.
func ApplyDefaults(cfg *Config) {
	if cfg.Site.Title == "" {
		cfg.Site.Title = "Site"
	}
	if cfg.Site.ContentDir == "" {
		cfg.Site.ContentDir = "content"
	}
	if cfg.Site.CacheDir == "" {
		cfg.Site.CacheDir = ".cache"
	}
	if cfg.Develop.BatchSize == 0 {
		cfg.Develop.BatchSize = DefaultBatchSize
	}
	if cfg.Develop.BatchWindow == 0 {
		cfg.Develop.BatchWindow = DefaultBatchWindow
	}
	if cfg.HTTP.ControlAddr == "" {
		cfg.HTTP.ControlAddr = DefaultControlAddr
	}
	if cfg.HTTP.SiteAddr == "" {
		cfg.HTTP.SiteAddr = DefaultSiteAddr
	}
	if cfg.Events.Path == "" {
		cfg.Events.Path = ".cache/events.db"
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = DefaultNATSURL
	}
	if cfg.NATS.MutationSubject == "" {
		cfg.NATS.MutationSubject = DefaultMutationSubject
	}
	if cfg.NATS.RefreshSubject == "" {
		cfg.NATS.RefreshSubject = DefaultRefreshSubject
	}
	if cfg.NATS.Retry.Mode == "" {
		cfg.NATS.Retry.Mode = RetryBackoffExponential
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogLevelInfo
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatText
	}
}
