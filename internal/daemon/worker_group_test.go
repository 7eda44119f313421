package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerGroupRefusesWorkAfterStop(t *testing.T) {
	g := newWorkerGroup(nil)
	release := make(chan struct{})
	require.True(t, g.Go("blocked", func() error {
		<-release
		return errors.New("ignored without a logger")
	}))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, g.StopAndWait(ctx), context.DeadlineExceeded)
	require.False(t, g.Go("late", func() error { return nil }))

	close(release)
	require.NoError(t, g.StopAndWait(t.Context()))
}

func TestWorkerGroupRejectsNil(t *testing.T) {
	g := newWorkerGroup(nil)
	require.False(t, g.Go("nil", nil))
	require.NoError(t, g.StopAndWait(t.Context()))
}
