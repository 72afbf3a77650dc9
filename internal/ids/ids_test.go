package ids_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/ids"
)

func TestStreamIdEquality(t *testing.T) {
	p := uuid.New()
	a := ids.NewStreamId(p, ids.Camera)
	b := ids.NewStreamId(p, ids.Camera)
	c := ids.NewStreamId(p, ids.ScreenCapture)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestMediaKindString(t *testing.T) {
	require.Equal(t, "camera", ids.Camera.String())
	require.Equal(t, "screen", ids.ScreenCapture.String())
}
