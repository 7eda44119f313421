package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitedev/internal/config"
	"git.home.luguber.info/inful/sitedev/internal/eventstore"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestRunInitWritesLoadableConfig(t *testing.T) {
	out := captureStdout(t)
	path := filepath.Join(t.TempDir(), "site", "sitedev.yaml")
	require.NoError(t, RunInit(path, false))
	require.Contains(t, out.String(), "initialized successfully")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultBatchSize, cfg.Develop.BatchSize)

	err = RunInit(path, false)
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	require.NoError(t, RunInit(path, true))
}

func TestInitCmdOutputDirectory(t *testing.T) {
	captureStdout(t)
	dir := t.TempDir()
	cmd := &InitCmd{Output: dir}
	require.NoError(t, cmd.Run(&Global{}, &CLI{Config: "ignored.yaml"}))
	_, err := os.Stat(filepath.Join(dir, "sitedev.yaml"))
	require.NoError(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: config.LogLevelWarn, Format: config.LogFormatJSON}, false, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])

	buf.Reset()
	logger = NewLogger(config.LoggingConfig{Level: config.LogLevelWarn, Format: config.LogFormatText}, true, &buf)
	logger.Debug("debug on")
	require.Contains(t, buf.String(), "msg=\"debug on\"")
}

func seedHistory(t *testing.T) eventstore.Store {
	t.Helper()
	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := t.Context()
	for _, id := range []string{"s1", "s2"} {
		started, err := eventstore.Marshal(eventstore.SessionStartedPayload{BatchSize: 5})
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, id, eventstore.TypeSessionStarted, started, nil))
		entered, err := eventstore.Marshal(eventstore.StateEnteredPayload{From: "runningWebpack", To: "idle"})
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, id, eventstore.TypeStateEntered, entered, nil))
		time.Sleep(2 * time.Millisecond)
	}
	return store
}

func TestHistoryTable(t *testing.T) {
	out := captureStdout(t)
	store := seedHistory(t)
	require.NoError(t, (&HistoryCmd{Limit: 1}).render(context.Background(), store))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[1], "s2"))
}

func TestHistorySessionJSON(t *testing.T) {
	out := captureStdout(t)
	store := seedHistory(t)
	require.NoError(t, (&HistoryCmd{Session: "s1", JSON: true}).render(context.Background(), store))
	var views []eventView
	require.NoError(t, json.Unmarshal(out.Bytes(), &views))
	require.Len(t, views, 2)
	require.Equal(t, eventstore.TypeStateEntered, views[1].Type)

	err := (&HistoryCmd{Session: "missing"}).render(context.Background(), store)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestHistoryEmpty(t *testing.T) {
	out := captureStdout(t)
	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, (&HistoryCmd{}).render(context.Background(), store))
	require.Contains(t, out.String(), "No sessions recorded")
}

func TestRunDevelopStopsOnContext(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "content"), 0o750))
	cfg, err := config.Parse([]byte("site:\n  root: " + root + "\nhttp:\n  control_addr: 127.0.0.1:0\n  site_addr: 127.0.0.1:0\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, RunDevelop(ctx, cfg, "", 5*time.Second, nil))
}
