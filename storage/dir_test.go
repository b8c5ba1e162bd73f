package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirMake(t *testing.T) {
	t.Parallel()

	t.Run("temporary", func(t *testing.T) {
		t.Parallel()

		var d Dir
		require.NoError(t, d.Make(t.TempDir(), ""))
		assert.DirExists(t, d.Dir)

		require.NoError(t, d.Cleanup())
		_, err := os.Stat(d.Dir)
		assert.True(t, os.IsNotExist(err))
		assert.NoError(t, d.Cleanup())
	})

	t.Run("given", func(t *testing.T) {
		t.Parallel()

		given := t.TempDir()
		var d Dir
		require.NoError(t, d.Make("", given))
		assert.Equal(t, given, d.Dir)

		require.NoError(t, d.Cleanup())
		assert.DirExists(t, given, "a caller provided directory must be kept")
	})
}
