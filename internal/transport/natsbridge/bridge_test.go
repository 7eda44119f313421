package natsbridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitedev/internal/config"
	"git.home.luguber.info/inful/sitedev/internal/events"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/mutation"
)

func newBridge(t *testing.T) (*Bridge, <-chan events.Inbound) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	in, unsub := events.Subscribe[events.Inbound](bus, 8)
	t.Cleanup(unsub)
	b, err := New(config.NATSConfig{URL: "nats://127.0.0.1:4222", MutationSubject: "m", RefreshSubject: "r"}, bus, nil)
	require.NoError(t, err)
	return b, in
}

func TestNewValidates(t *testing.T) {
	_, err := New(config.NATSConfig{URL: "nats://x"}, nil, nil)
	require.Error(t, err)
	_, err = New(config.NATSConfig{}, events.NewBus(), nil)
	require.Error(t, err)
}

func TestForwardMutationsKeepsOrder(t *testing.T) {
	b, in := newBridge(t)
	n, err := b.forwardMutations(t.Context(), []byte(`[
		{"type":"createNode","payload":{"id":"a","type":"Markdown"}},
		{"type":"touchNode","payload":{"id":"a"}}
	]`))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first := (<-in).(events.MutationReceived)
	second := (<-in).(events.MutationReceived)
	require.Equal(t, mutation.KindCreateNode, first.Request.Kind)
	require.Equal(t, mutation.KindTouchNode, second.Request.Kind)
	require.Equal(t, "nats", first.Source)
}

func TestForwardMutationsRejectsGarbage(t *testing.T) {
	b, in := newBridge(t)
	n, err := b.forwardMutations(t.Context(), []byte("nope"))
	require.Error(t, err)
	require.Zero(t, n)
	require.Empty(t, in)
}

func TestForwardMutationsRejectsIncompletePayload(t *testing.T) {
	b, in := newBridge(t)
	n, err := b.forwardMutations(t.Context(), []byte(`[
		{"type":"touchNode","payload":{"id":"a"}},
		{"type":"touchNode"}
	]`))
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	require.Zero(t, n)
	require.Empty(t, in)
}

func TestForwardRefresh(t *testing.T) {
	b, in := newBridge(t)
	require.NoError(t, b.forwardRefresh(t.Context(), []byte(`{"ref":"main"}`)))

	select {
	case evt := <-in:
		r, ok := evt.(events.RefreshRequested)
		require.True(t, ok)
		require.Equal(t, `{"ref":"main"}`, string(r.Body))
	case <-time.After(time.Second):
		t.Fatal("refresh not published")
	}
}

func TestStartGivesUpWhenUnreachable(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	b, err := New(config.NATSConfig{
		URL:   "nats://127.0.0.1:1",
		Retry: config.RetryConfig{Mode: config.RetryBackoffFixed, Initial: time.Millisecond, MaxRetries: 1},
	}, bus, nil)
	require.NoError(t, err)
	require.Error(t, b.Start(t.Context()))
	require.NoError(t, b.Stop())
}
