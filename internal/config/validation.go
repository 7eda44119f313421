package config

import (
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	switch {
	case c.Develop.BatchSize < 1:
		return invalid("develop.batch_size must be >= 1", c.Develop.BatchSize)
	case c.Develop.BatchWindow <= 0:
		return invalid("develop.batch_window must be > 0", c.Develop.BatchWindow.String())
	case c.Develop.MaxRecursionOrDefault() < 0:
		return invalid("develop.max_recursion cannot be negative", c.Develop.MaxRecursionOrDefault())
	case c.Develop.CommitConcurrencyOrDefault() < 0:
		return invalid("develop.commit_concurrency cannot be negative", c.Develop.CommitConcurrencyOrDefault())
	case c.Site.ContentDir == "":
		return invalid("site.content_dir is required", "")
	case c.Refresh.Interval < 0:
		return invalid("refresh.interval cannot be negative", c.Refresh.Interval.String())
	case c.Watch.Debounce < 0:
		return invalid("watch.debounce cannot be negative", c.Watch.Debounce.String())
	}
	if NormalizeLogLevel(string(c.Logging.Level)) == "" {
		return invalid("logging.level must be one of debug|info|warn|error", string(c.Logging.Level))
	}
	if NormalizeLogFormat(string(c.Logging.Format)) == "" {
		return invalid("logging.format must be text or json", string(c.Logging.Format))
	}
	if NormalizeRetryBackoff(string(c.NATS.Retry.Mode)) == "" {
		return invalid("nats.retry.mode must be fixed|linear|exponential", string(c.NATS.Retry.Mode))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return invalid("nats.url is required when nats is enabled", "")
	}
	return nil
}

func invalid(msg string, value any) error {
	return ferrors.ConfigError(msg).WithContext("value", value).Build()
}
