package codec

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStage(t *testing.T) {
	dir := t.TempDir()
	data := []byte("staged artifact")

	t.Run("success", func(t *testing.T) {
		var staged string
		err := Stage(dir, data, func(path string) error {
			staged = path
			b, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, data, b)
			return nil
		})
		require.NoError(t, err)
		require.NoFileExists(t, staged)
		requireEmptyDir(t, dir)
	})

	t.Run("error", func(t *testing.T) {
		errFn := errors.New("transport failed")
		err := Stage(dir, data, func(string) error { return errFn })
		require.ErrorIs(t, err, errFn)
		requireEmptyDir(t, dir)
	})

	t.Run("panic", func(t *testing.T) {
		require.Panics(t, func() {
			_ = Stage(dir, data, func(string) error { panic("boom") })
		})
		requireEmptyDir(t, dir)
	})

	t.Run("removed-by-callee", func(t *testing.T) {
		err := Stage(dir, data, func(path string) error { return os.Remove(path) })
		require.NoError(t, err)
		requireEmptyDir(t, dir)
	})

	t.Run("bad-dir", func(t *testing.T) {
		err := Stage(dir+"/missing", data, func(string) error { return nil })
		require.Error(t, err)
	})
}
