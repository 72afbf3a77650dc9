package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/logging"
)

func TestBuildWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	z, err := logging.Build(logging.Config{Level: "debug", FilePath: path})
	require.NoError(t, err)

	log := logging.Wrap(z)
	log.Infow("hello", "k", "v")
	_ = z.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestBuildDefaultsToNop(t *testing.T) {
	z, err := logging.Build(logging.Config{})
	require.NoError(t, err)
	require.NotNil(t, z)
}
