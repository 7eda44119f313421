package logfields

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHelpers(t *testing.T) {
	require.Equal(t, KeyState, State("idle").Key)
	require.Equal(t, "idle", State("idle").Value.String())
	require.Equal(t, int64(5), BatchSize(5).Value.Int64())
	require.InDelta(t, 1500.0, Duration(1500*time.Millisecond).Value.Float64(), 0.001)
}

func TestErrorNil(t *testing.T) {
	require.Empty(t, Error(nil).Value.String())
	require.Equal(t, "boom", Error(errors.New("boom")).Value.String())
}
