package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("site:\n  title: Docs\n"))
	require.NoError(t, err)

	require.Equal(t, "Docs", cfg.Site.Title)
	require.Equal(t, "content", cfg.Site.ContentDir)
	require.Equal(t, DefaultBatchSize, cfg.Develop.BatchSize)
	require.Equal(t, time.Second, cfg.Develop.BatchWindow)
	require.Equal(t, DefaultMaxRecursion, cfg.Develop.MaxRecursionOrDefault())
	require.Equal(t, RetryBackoffExponential, cfg.NATS.Retry.Mode)
	require.Equal(t, LogLevelInfo, cfg.Logging.Level)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultControlAddr, cfg.HTTP.ControlAddr)
}

func TestParseExplicitZeroRecursion(t *testing.T) {
	cfg, err := Parse([]byte("develop:\n  max_recursion: 0\n  batch_window: 250ms\n"))
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Develop.MaxRecursionOrDefault())
	require.Equal(t, 250*time.Millisecond, cfg.Develop.BatchWindow)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"negative batch size": "develop:\n  batch_size: -1\n",
		"negative recursion":  "develop:\n  max_recursion: -1\n",
		"negative fan-out":    "develop:\n  commit_concurrency: -2\n",
		"unknown level":       "logging:\n  level: loud\n",
		"unknown format":      "logging:\n  format: xml\n",
		"unknown retry mode":  "nats:\n  retry:\n    mode: random\n",
		"unknown key":         "develop:\n  batchsize: 3\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
		})
	}
}

func TestLoadExpandsEnvAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SITEDEV_TEST_TITLE", "From Env")
	path := filepath.Join(dir, "sitedev.yaml")
	require.NoError(t, os.WriteFile(path, []byte("site:\n  title: ${SITEDEV_TEST_TITLE}\n  content_dir: pages\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "From Env", cfg.Site.Title)
	require.Equal(t, filepath.Join(dir, "pages"), cfg.ContentPath())
	require.Equal(t, filepath.Join(dir, ".cache"), cfg.CachePath())
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SITEDEV_TEST_KEEP", "process")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SITEDEV_TEST_KEEP=file\nSITEDEV_TEST_CACHE=build-cache\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SITEDEV_TEST_CACHE") })
	path := filepath.Join(dir, "sitedev.yaml")
	require.NoError(t, os.WriteFile(path, []byte("site:\n  title: ${SITEDEV_TEST_KEEP}\n  cache_dir: ${SITEDEV_TEST_CACHE}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "process", cfg.Site.Title)
	require.Equal(t, "build-cache", cfg.Site.CacheDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestInitRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sitedev.yaml")
	require.NoError(t, Init(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultBatchSize, cfg.Develop.BatchSize)
	require.Equal(t, DefaultBatchWindow, cfg.Develop.BatchWindow)
	require.True(t, cfg.Events.Enabled)
	require.Equal(t, DefaultCommitConcurrency, cfg.Develop.CommitConcurrencyOrDefault())

	err = Init(path, false)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	require.NoError(t, Init(path, true))
}
