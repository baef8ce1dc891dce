// Package testutil contains helpers shared by the tests
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TempDir creates a temporary directory and returns its path
// alongside a method to remove it
func TempDir(t *testing.T) (path string, cleanup func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "git-go-")
	require.NoError(t, err)

	// on some systems the temp dir is behind a symlink, which breaks
	// path comparisons in the tests
	dir, err = filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	return dir, func() {
		os.RemoveAll(dir) //nolint:errcheck // best effort
	}
}

// TempFile creates a temporary file and returns it alongside a
// method to remove it
func TempFile(t *testing.T) (f *os.File, cleanup func()) {
	t.Helper()

	f, err := os.CreateTemp("", "git-go-")
	require.NoError(t, err)

	return f, func() {
		f.Close()          //nolint:errcheck // best effort
		os.Remove(f.Name()) //nolint:errcheck // best effort
	}
}
